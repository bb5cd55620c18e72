// SPDX-License-Identifier: MPL-2.0

// Package packages manages the playbooks installed under the runtime
// directory. Each playbook is a subdirectory holding a playbook.yaml; an
// optional images.yaml at the root overrides OS alias images.
package packages
