// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"time"

	"github.com/pbtest/pbtest/internal/image"
)

type (
	// TargetRunResult is the outcome of one target.
	TargetRunResult struct {
		Target        image.TargetDescriptor
		Image         string
		ContainerName string
		StepResults   []StepResult
		// OverallExitCode is the first non-zero step exit code, 0 when every
		// step passed, or 1 when the target Failed without one.
		OverallExitCode int
		// State is StateCompleted or StateFailed.
		State State
		// Err is the *TargetError of a Failed target.
		Err      error
		Duration time.Duration
	}

	// TestReport lists target results in request order.
	TestReport struct {
		Playbook string
		RunID    string
		Results  []TargetRunResult
	}
)

// Failed reports whether the target failed or a step exited non-zero.
func (r TargetRunResult) Failed() bool {
	return r.State == StateFailed || r.OverallExitCode != 0
}

// Aggregate assembles results into a report, preserving their order.
func Aggregate(results ...TargetRunResult) *TestReport {
	report := &TestReport{Results: make([]TargetRunResult, 0, len(results))}
	report.Results = append(report.Results, results...)
	return report
}

// Failed reports whether any target failed.
func (r *TestReport) Failed() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return true
		}
	}
	return false
}

// ExitCode is the first non-zero target exit code, or 0.
func (r *TestReport) ExitCode() int {
	for _, res := range r.Results {
		if res.OverallExitCode != 0 {
			return res.OverallExitCode
		}
	}
	return 0
}

// Counts returns the number of passed and failed targets.
func (r *TestReport) Counts() (passed, failed int) {
	for _, res := range r.Results {
		if res.Failed() {
			failed++
		} else {
			passed++
		}
	}
	return passed, failed
}

func overallExitCode(steps []StepResult, state State) int {
	for _, s := range steps {
		switch {
		case s.ExitCode > 0:
			return s.ExitCode
		case s.ExitCode < 0:
			// No exit status was read back.
			return 1
		}
	}
	if state == StateFailed {
		return 1
	}
	return 0
}
