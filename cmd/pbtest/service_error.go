// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/issue"
	"github.com/pbtest/pbtest/internal/packages"
	"github.com/pbtest/pbtest/internal/runner"
	"github.com/pbtest/pbtest/pkg/playbook"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message, then the issue guide if one
// is attached.
func renderServiceError(stderr io.Writer, logger *slog.Logger, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if entry := issue.Get(svcErr.IssueID); entry != nil {
		rendered, err := entry.Render("dark")
		if err != nil {
			logger.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", err)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}

// classifyError maps an error to the issue guide that explains it, or 0.
// The most specific class wins: an engine that is missing explains every
// later failure.
func classifyError(err error) issue.Id {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, container.ErrEngineNotAvailable):
		return issue.EngineUnavailableId
	case errors.Is(err, playbook.ErrNoManifest), errors.Is(err, packages.ErrNotInstalled):
		return issue.PlaybookNotFoundId
	case errors.Is(err, runner.ErrUnknownOS):
		return issue.UnknownOSId
	case errors.Is(err, runner.ErrConfig):
		return issue.PlaybookInvalidId
	case errors.Is(err, runner.ErrProvision):
		return issue.ImagePullFailedId
	case errors.Is(err, runner.ErrLifecycle):
		return issue.ContainerStartFailedId
	default:
		return 0
	}
}

// classifyReport returns the issue guide for the first failed target whose
// error has one.
func classifyReport(report *runner.TestReport) issue.Id {
	if report == nil {
		return 0
	}
	for _, res := range report.Results {
		if id := classifyError(res.Err); id != 0 {
			return id
		}
	}
	return 0
}
