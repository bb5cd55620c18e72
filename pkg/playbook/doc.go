// SPDX-License-Identifier: MPL-2.0

// Package playbook defines the playbook data model and loads playbook manifests.
//
// A playbook is a named list of automations. Each automation optionally carries
// content: a description, an optional target-OS hint (env) and an ordered list
// of shell steps. Manifests are YAML files named playbook.yaml (or playbook.yml)
// validated against the embedded CUE schema in playbook_schema.cue.
//
// Every loading or validation failure wraps ErrConfig.
package playbook
