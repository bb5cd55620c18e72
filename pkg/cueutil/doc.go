// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates playbook manifests and configuration files against
// embedded CUE schemas.
//
// Every caller follows the same flow:
//
//  1. Compile the embedded schema and look up its root definition
//  2. Build the user value (CUE source, or a YAML document decoded with yaml.v3)
//  3. Unify, validate and decode into a Go struct
//
// Example:
//
//	//go:embed playbook_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseYAMLAndDecode[Manifest](schema, data, "#Playbook",
//		cueutil.WithFilename("playbook.yaml"))
//
// Validation errors carry JSON-path prefixes ("automations[0].content.steps[1].title")
// so users can find the offending field quickly.
package cueutil
