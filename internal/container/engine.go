// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// EngineTypeAuto tries the Docker API, then the docker CLI, then the podman CLI.
	EngineTypeAuto EngineType = "auto"
	// EngineTypeDocker prefers the Docker API, falling back to the docker CLI and podman.
	EngineTypeDocker EngineType = "docker"
	// EngineTypePodman prefers the podman CLI, falling back to Docker.
	EngineTypePodman EngineType = "podman"
)

var (
	// ErrEngineNotAvailable is wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")
	// ErrNameConflict is returned when a container name is already in use.
	ErrNameConflict = errors.New("container name already in use")
	// ErrNotFound is returned when a container, image or exec session does not exist.
	ErrNotFound = errors.New("not found")
)

type (
	// EngineType identifies the container engine preference.
	EngineType string

	// ContainerID identifies a container.
	ContainerID string

	// ExecID identifies an execution session.
	ExecID string

	// Engine is the capability interface consumed by the test orchestrator.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Ping checks that the engine answers.
		Ping(ctx context.Context) error

		ListImages(ctx context.Context) ([]ImageSummary, error)
		// PullImage pulls ref and returns once the pull completed.
		PullImage(ctx context.Context, ref string) error

		CreateContainer(ctx context.Context, opts CreateOptions) (ContainerID, error)
		StartContainer(ctx context.Context, id ContainerID) error
		InspectContainer(ctx context.Context, id ContainerID) (*ContainerState, error)
		RemoveContainer(ctx context.Context, id ContainerID, force bool) error

		CreateExec(ctx context.Context, id ContainerID, opts ExecOptions) (ExecID, error)
		// StartExec starts the session and returns its multiplexed output.
		// The stream reaches EOF once the command's output is closed.
		StartExec(ctx context.Context, id ExecID) (io.ReadCloser, error)
		InspectExec(ctx context.Context, id ExecID) (*ExecState, error)

		// ContainerLogs returns the container's multiplexed stdout/stderr.
		ContainerLogs(ctx context.Context, id ContainerID, opts LogsOptions) (io.ReadCloser, error)

		Close() error
	}

	// ImageSummary describes a locally available image.
	ImageSummary struct {
		ID          string
		RepoTags    []string
		RepoDigests []string
	}

	// CreateOptions configures a new container.
	CreateOptions struct {
		Name  string
		Image string
		// Cmd overrides the image command when non-empty.
		Cmd []string
		// Privileged grants extended host privileges (needed for nested virtualization images).
		Privileged bool
		// OpenStdin keeps stdin open so the default shell does not exit.
		OpenStdin bool
		Labels    map[string]string
	}

	// ContainerState is the subset of inspect data the orchestrator needs.
	ContainerState struct {
		ID        ContainerID
		Running   bool
		Status    string
		ExitCode  int
		StartedAt time.Time
	}

	// ExecOptions configures an execution session.
	ExecOptions struct {
		Cmd        []string
		Env        []string
		WorkingDir string
	}

	// ExecState reports whether a session is still running and its exit code.
	ExecState struct {
		Running  bool
		ExitCode int
	}

	// LogsOptions configures ContainerLogs.
	LogsOptions struct {
		Follow bool
		// Since limits output to entries written at or after this time. Zero means all.
		Since time.Time
	}

	// EngineNotAvailableError is returned when no usable engine is found.
	EngineNotAvailableError struct {
		Engine EngineType
		Reason string
	}
)

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// ParseEngineType converts a configuration value into an EngineType.
func ParseEngineType(s string) (EngineType, error) {
	switch t := EngineType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", EngineTypeAuto:
		return EngineTypeAuto, nil
	case EngineTypeDocker, EngineTypePodman:
		return t, nil
	default:
		return "", fmt.Errorf("unknown container engine type %q (valid: auto, docker, podman)", s)
	}
}

// NewEngine returns the first available engine in preference order for t.
func NewEngine(ctx context.Context, t EngineType) (Engine, error) {
	var candidates []func() (Engine, error)
	api := func() (Engine, error) { return NewDockerEngine() }
	dockerCLI := func() (Engine, error) { return NewDockerCLIEngine(), nil }
	podmanCLI := func() (Engine, error) { return NewPodmanCLIEngine(), nil }

	switch t {
	case EngineTypeAuto, "":
		candidates = append(candidates, api, dockerCLI, podmanCLI)
	case EngineTypeDocker:
		candidates = append(candidates, api, dockerCLI, podmanCLI)
	case EngineTypePodman:
		candidates = append(candidates, podmanCLI, api, dockerCLI)
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", t)
	}

	var reasons []string
	for _, candidate := range candidates {
		engine, err := candidate()
		if err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		if err := engine.Ping(ctx); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", engine.Name(), err))
			_ = engine.Close()
			continue
		}
		return engine, nil
	}

	return nil, &EngineNotAvailableError{
		Engine: t,
		Reason: strings.Join(reasons, "; "),
	}
}
