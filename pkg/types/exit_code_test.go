// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"testing"
)

func TestExitCodeValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		value     ExitCode
		wantValid bool
	}{
		{name: "zero", value: 0, wantValid: true},
		{name: "one", value: 1, wantValid: true},
		{name: "127", value: 127, wantValid: true},
		{name: "255", value: 255, wantValid: true},
		{name: "negative", value: -1, wantValid: false},
		{name: "256", value: 256, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.value.Validate()
			if (err == nil) != tt.wantValid {
				t.Fatalf("ExitCode(%d).Validate() error = %v, wantValid %v", tt.value, err, tt.wantValid)
			}
			if err != nil && !errors.Is(err, ErrInvalidExitCode) {
				t.Errorf("error does not wrap ErrInvalidExitCode: %v", err)
			}
		})
	}
}

func TestExitCodePredicates(t *testing.T) {
	t.Parallel()

	if !ExitCode(0).IsSuccess() || ExitCode(2).IsSuccess() {
		t.Error("IsSuccess mismatch")
	}
	for _, c := range []ExitCode{126, 127} {
		if !c.IsCommandNotFound() {
			t.Errorf("ExitCode(%d).IsCommandNotFound() = false", c)
		}
	}
	if ExitCode(1).IsCommandNotFound() {
		t.Error("ExitCode(1).IsCommandNotFound() = true")
	}
	if got := ExitCode(42).String(); got != "42" {
		t.Errorf("String() = %q", got)
	}
}
