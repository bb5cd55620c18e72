// SPDX-License-Identifier: MPL-2.0

// Package cmd wires the pbtest command tree: test, list, config and version.
// Commands share an App that owns configuration loading, the engine factory
// and the output writers, so tests can drive the whole tree with a fake engine.
package cmd
