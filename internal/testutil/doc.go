// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers that fail the test on error: environment
// variables (MustSetenv, MustUnsetenv, SetHomeDir), files (MustMkdirAll,
// MustWriteFile) and cleanup (DeferClose). ContainerSemaphore bounds
// concurrent container-engine tests.
package testutil
