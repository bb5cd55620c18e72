// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type (
	// DockerAPI is the subset of the Docker client used by DockerEngine.
	// *client.Client satisfies it.
	DockerAPI interface {
		Ping(ctx context.Context) (types.Ping, error)
		ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
		ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
		ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
		ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
		ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
		ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
		ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
		ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
		ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
		ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
		Close() error
	}

	// DockerEngine implements Engine over the Docker Engine API.
	DockerEngine struct {
		api DockerAPI
	}

	hijackedStream struct {
		resp types.HijackedResponse
	}
)

// NewDockerEngine creates an engine configured from the DOCKER_* environment.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewDockerEngineWithClient(cli), nil
}

// NewDockerEngineWithClient wraps an existing API client.
func NewDockerEngineWithClient(api DockerAPI) *DockerEngine {
	return &DockerEngine{api: api}
}

// Name returns the engine name.
func (e *DockerEngine) Name() string {
	return string(EngineTypeDocker)
}

// Ping checks that the daemon answers.
func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// ListImages lists local images.
func (e *DockerEngine) ListImages(ctx context.Context) ([]ImageSummary, error) {
	images, err := e.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	out := make([]ImageSummary, 0, len(images))
	for _, img := range images {
		out = append(out, ImageSummary{ID: img.ID, RepoTags: img.RepoTags, RepoDigests: img.RepoDigests})
	}
	return out, nil
}

// PullImage pulls ref and drains the progress stream. An error message in the
// stream or an undecodable stream fails the pull.
func (e *DockerEngine) PullImage(ctx context.Context, ref string) error {
	rc, err := e.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, classify(err))
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// CreateContainer creates a container. A name already in use yields ErrNameConflict.
func (e *DockerEngine) CreateContainer(ctx context.Context, opts CreateOptions) (ContainerID, error) {
	cfg := &container.Config{
		Image:     opts.Image,
		Cmd:       opts.Cmd,
		OpenStdin: opts.OpenStdin,
		Labels:    opts.Labels,
	}
	hostCfg := &container.HostConfig{Privileged: opts.Privileged}

	resp, err := e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", opts.Name, classify(err))
	}
	return ContainerID(resp.ID), nil
}

// StartContainer starts a created container.
func (e *DockerEngine) StartContainer(ctx context.Context, id ContainerID) error {
	if err := e.api.ContainerStart(ctx, string(id), container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, classify(err))
	}
	return nil
}

// InspectContainer reports the container's run state.
func (e *DockerEngine) InspectContainer(ctx context.Context, id ContainerID) (*ContainerState, error) {
	resp, err := e.api.ContainerInspect(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, classify(err))
	}
	state := &ContainerState{ID: ContainerID(resp.ID)}
	if resp.State != nil {
		state.Running = resp.State.Running
		state.Status = string(resp.State.Status)
		state.ExitCode = resp.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, resp.State.StartedAt); err == nil {
			state.StartedAt = t
		}
	}
	return state, nil
}

// RemoveContainer removes a container, killing it first when force is set.
func (e *DockerEngine) RemoveContainer(ctx context.Context, id ContainerID, force bool) error {
	if err := e.api.ContainerRemove(ctx, string(id), container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, classify(err))
	}
	return nil
}

// CreateExec creates an exec session with stdout and stderr attached.
func (e *DockerEngine) CreateExec(ctx context.Context, id ContainerID, opts ExecOptions) (ExecID, error) {
	resp, err := e.api.ContainerExecCreate(ctx, string(id), container.ExecOptions{
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec in %s: %w", id, classify(err))
	}
	return ExecID(resp.ID), nil
}

// StartExec starts the session attached and returns its multiplexed output.
func (e *DockerEngine) StartExec(ctx context.Context, id ExecID) (io.ReadCloser, error) {
	resp, err := e.api.ContainerExecAttach(ctx, string(id), container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start exec %s: %w", id, classify(err))
	}
	return &hijackedStream{resp: resp}, nil
}

// InspectExec reports the session state.
func (e *DockerEngine) InspectExec(ctx context.Context, id ExecID) (*ExecState, error) {
	resp, err := e.api.ContainerExecInspect(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec %s: %w", id, classify(err))
	}
	return &ExecState{Running: resp.Running, ExitCode: resp.ExitCode}, nil
}

// ContainerLogs streams the container's stdout and stderr.
func (e *DockerEngine) ContainerLogs(ctx context.Context, id ContainerID, opts LogsOptions) (io.ReadCloser, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
	}
	if !opts.Since.IsZero() {
		logOpts.Since = opts.Since.Format(time.RFC3339Nano)
	}
	rc, err := e.api.ContainerLogs(ctx, string(id), logOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs of %s: %w", id, classify(err))
	}
	return rc, nil
}

// Close releases the API client.
func (e *DockerEngine) Close() error {
	return e.api.Close()
}

func (h *hijackedStream) Read(p []byte) (int, error) {
	return h.resp.Reader.Read(p)
}

func (h *hijackedStream) Close() error {
	h.resp.Close()
	return nil
}

// classify adds the package sentinels to engine errors that carry a
// conflict or not-found classification.
func classify(err error) error {
	switch {
	case cerrdefs.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}
