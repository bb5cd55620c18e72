// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pbtest/pbtest/internal/image"
	"github.com/pbtest/pbtest/pkg/playbook"
)

// Error taxonomy. Every error returned by this package wraps exactly one of
// these; test with errors.Is.
var (
	// ErrConfig marks an invalid or unreadable playbook.
	ErrConfig = playbook.ErrConfig
	// ErrUnknownOS marks a target that maps to no image.
	ErrUnknownOS = image.ErrUnknownOS
	// ErrProvision marks a failed image listing or pull.
	ErrProvision = image.ErrProvision
	// ErrLifecycle marks a container that could not be created or started.
	ErrLifecycle = errors.New("container lifecycle failed")
	// ErrExec marks a step whose exec session could not run to completion.
	ErrExec = errors.New("step execution failed")
)

type (
	// LifecycleError reports a failed container operation.
	LifecycleError struct {
		Container string
		// Op is "create", "start" or "inspect".
		Op string
		// Logs holds what the container printed before it stopped, if anything.
		Logs string
		Err  error
	}

	// ExecError reports a step that could not be executed or awaited.
	ExecError struct {
		Step string
		// Op is "create", "start", "stream" or "wait".
		Op  string
		Err error
	}

	// TargetError is the fatal error of one target run.
	TargetError struct {
		Playbook string
		Target   string
		// Step is set when the failure happened while executing a step.
		Step string
		// State is the state the target was in when it failed.
		State State
		Err   error
	}

	// RunError is returned by Orchestrator.Run when the report failed.
	RunError struct {
		Report *TestReport
	}
)

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("container %s: %s failed: %v", e.Container, e.Op, e.Err)
	if logs := strings.TrimSpace(e.Logs); logs != "" {
		msg += "\ncontainer output:\n" + logs
	}
	return msg
}

// Unwrap exposes ErrLifecycle and the cause.
func (e *LifecycleError) Unwrap() []error { return []error{ErrLifecycle, e.Err} }

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("step %q: %s failed: %v", e.Step, e.Op, e.Err)
}

// Unwrap exposes ErrExec and the cause.
func (e *ExecError) Unwrap() []error { return []error{ErrExec, e.Err} }

// Error implements the error interface.
func (e *TargetError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "playbook %q target %q", e.Playbook, e.Target)
	if e.Step != "" {
		fmt.Fprintf(&b, " step %q", e.Step)
	}
	fmt.Fprintf(&b, " (%s): %v", e.State, e.Err)
	return b.String()
}

// Unwrap returns the cause.
func (e *TargetError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *RunError) Error() string {
	var failed []string
	for _, r := range e.Report.Results {
		switch {
		case r.Err != nil:
			failed = append(failed, fmt.Sprintf("%s: %v", r.Target, r.Err))
		case r.OverallExitCode != 0:
			failed = append(failed, fmt.Sprintf("%s: step exited with code %d", r.Target, r.OverallExitCode))
		}
	}
	return fmt.Sprintf("playbook %q failed on %d of %d target(s): %s",
		e.Report.Playbook, len(failed), len(e.Report.Results), strings.Join(failed, "; "))
}

// Unwrap returns the target errors.
func (e *RunError) Unwrap() []error {
	var errs []error
	for _, r := range e.Report.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
