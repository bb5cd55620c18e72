// SPDX-License-Identifier: MPL-2.0

// Package config loads pbtest settings.
//
// Defaults are layered under an optional CUE file (config.cue in ConfigDir,
// validated against the embedded #Config schema) and PBTEST_* environment
// variables, e.g. PBTEST_CONTAINER_ENGINE=podman or PBTEST_STEP_TIMEOUT=5m.
// The merged result is checked with struct validation before it is returned.
package config
