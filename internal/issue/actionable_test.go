// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{
			name: "operation only",
			err:  &ActionableError{Operation: "load playbook"},
			want: "failed to load playbook",
		},
		{
			name: "with resource",
			err:  &ActionableError{Operation: "load playbook", Resource: "smoke"},
			want: "failed to load playbook: smoke",
		},
		{
			name: "with cause",
			err:  &ActionableError{Operation: "pull image", Resource: "ubuntu", Cause: errors.New("denied")},
			want: "failed to pull image: ubuntu: denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := NewErrorContext().WithOperation("run").Wrap(fmt.Errorf("outer: %w", sentinel)).BuildError()
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is(err, sentinel) = false")
	}
	var ae *ActionableError
	if !errors.As(err, &ae) || ae.Operation != "run" {
		t.Errorf("errors.As() = %+v", ae)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	a, b := errors.New("first target"), errors.New("second target")
	err := NewErrorContext().
		WithOperation("run playbook").
		WithSuggestion("check the engine").
		WithSuggestions("retry", "use --verbose").
		Wrap(fmt.Errorf("run: %w", errors.Join(a, b))).
		Build()

	plain := err.Format(false)
	if !strings.Contains(plain, "  • check the engine") || !strings.Contains(plain, "  • use --verbose") {
		t.Errorf("Format(false) missing suggestions:\n%s", plain)
	}
	if strings.Contains(plain, "Error chain") {
		t.Errorf("Format(false) contains the chain:\n%s", plain)
	}

	verbose := err.Format(true)
	for _, want := range []string{"Error chain:", "1. run:", "first target", "second target"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, verbose)
		}
	}
}

func TestErrorContext_BuildWithoutOperation(t *testing.T) {
	t.Parallel()

	if got := NewErrorContext().WithResource("x").Build(); got != nil {
		t.Errorf("Build() = %+v, want nil", got)
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() = %v, want untyped nil", err)
	}
}
