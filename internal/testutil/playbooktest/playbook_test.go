// SPDX-License-Identifier: MPL-2.0

package playbooktest

import (
	"testing"
)

func TestScript(t *testing.T) {
	t.Parallel()

	pb := Script("smoke", "echo one", "echo two")
	if err := pb.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	steps := pb.Steps()
	if len(steps) != 2 {
		t.Fatalf("len(Steps()) = %d, want 2", len(steps))
	}
	if steps[1].Step.Title != "step 2" || steps[1].Step.Content != "echo two" {
		t.Errorf("steps[1] = %+v", steps[1].Step)
	}
	if got := pb.EnvHint(); got != "Linux" {
		t.Errorf("EnvHint() = %q, want Linux", got)
	}
}

func TestNewWithoutAutomationsIsInvalid(t *testing.T) {
	t.Parallel()

	if err := New("empty", WithEmptyAutomation("later")).Validate(); err == nil {
		t.Fatal("Validate() = nil, want error")
	}
}
