// SPDX-License-Identifier: MPL-2.0

// Package platform holds host platform details: runtime.GOOS names,
// application sandbox detection and file names Windows reserves.
package platform
