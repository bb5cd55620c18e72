// SPDX-License-Identifier: MPL-2.0

// Package runner runs a playbook against one or more target operating systems.
//
// For every target the Orchestrator resolves an image, provisions it, starts
// a single container, executes each step in file order as a separate exec
// session and records the outcome. Targets run one at a time, in request
// order, and are collected into a TestReport.
//
// Per-target progress follows a small state machine:
//
//	Idle → Resolving → Provisioning → Starting → Executing → Completed
//
// with Failed reachable from every non-terminal state. A non-zero step exit
// code is recorded, never a failure of the target.
package runner
