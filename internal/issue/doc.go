// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors.
//
// ActionableError carries the failed operation, the resource involved and
// suggestions for fixing it. Issue is a catalog of Markdown guides for known
// failure classes, rendered in the terminal with glamour.
package issue
