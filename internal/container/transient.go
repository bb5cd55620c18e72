// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
)

// IsTransientError reports whether err is a transient container engine error
// that may succeed on retry: network timeouts during pulls, registry hiccups,
// storage driver races and generic engine errors (exit code 125).
//
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if cerrdefs.IsUnavailable(err) {
		return true
	}

	// Exit code 125 is a generic engine failure, often a storage or cgroup glitch.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	errStr := err.Error()

	if strings.Contains(errStr, "OCI runtime error") {
		return true
	}

	if strings.Contains(errStr, "Temporary failure resolving") ||
		strings.Contains(errStr, "Could not resolve host") ||
		strings.Contains(errStr, "connection timed out") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "TLS handshake timeout") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "toomanyrequests") {
		return true
	}

	if strings.Contains(errStr, "error creating overlay mount") ||
		strings.Contains(errStr, "error mounting layer") {
		return true
	}

	return false
}
