// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/logstream"
)

const (
	releaseTimeout = 30 * time.Second
	bootLogsLimit  = 8 << 10
)

type (
	// StartRequest describes the container to create for a target run.
	StartRequest struct {
		Image      string
		Name       string
		Privileged bool
		Labels     map[string]string
	}

	// Lifecycle creates, starts and removes target containers.
	Lifecycle struct {
		engine container.Engine
		logger *slog.Logger
		// keep leaves containers in place after a failed start.
		keep bool
	}

	// Handle is a started container. Release removes it.
	Handle struct {
		ID        container.ContainerID
		Name      string
		Image     string
		StartedAt time.Time

		lifecycle *Lifecycle
		once      sync.Once
		err       error
	}
)

// NewLifecycle creates a lifecycle manager. With keep set, containers whose
// start failed are left in place for inspection.
func NewLifecycle(engine container.Engine, logger *slog.Logger, keep bool) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{engine: engine, logger: logger, keep: keep}
}

// CreateAndStart creates the container, starts it and confirms it is running.
// The container stays alive on its default command through an open stdin.
// On failure the container is removed again and a *LifecycleError returned;
// a name that is already taken yields a LifecycleError wrapping
// container.ErrNameConflict and leaves the existing container alone.
func (l *Lifecycle) CreateAndStart(ctx context.Context, req StartRequest) (*Handle, error) {
	id, err := l.engine.CreateContainer(ctx, container.CreateOptions{
		Name:       req.Name,
		Image:      req.Image,
		Privileged: req.Privileged,
		OpenStdin:  true,
		Labels:     req.Labels,
	})
	if err != nil {
		return nil, &LifecycleError{Container: req.Name, Op: "create", Err: err}
	}
	l.logger.Debug("container created", "container", req.Name, "id", string(id), "privileged", req.Privileged)

	h := &Handle{ID: id, Name: req.Name, Image: req.Image, lifecycle: l}

	if err := l.engine.StartContainer(ctx, id); err != nil {
		l.discard(ctx, h)
		return nil, &LifecycleError{Container: req.Name, Op: "start", Err: err}
	}

	state, err := l.engine.InspectContainer(ctx, id)
	if err != nil {
		l.discard(ctx, h)
		return nil, &LifecycleError{Container: req.Name, Op: "inspect", Err: err}
	}
	if !state.Running {
		logs := l.bootLogs(ctx, id, state.StartedAt)
		l.discard(ctx, h)
		return nil, &LifecycleError{
			Container: req.Name,
			Op:        "start",
			Logs:      logs,
			Err:       fmt.Errorf("container is not running after start (status %q, exit code %d)", state.Status, state.ExitCode),
		}
	}

	h.StartedAt = state.StartedAt
	l.logger.Info("container started", "container", req.Name, "image", req.Image)
	return h, nil
}

// Release force-removes the container. It is safe to call more than once and
// runs even when ctx is already cancelled.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		err := h.lifecycle.engine.RemoveContainer(ctx, h.ID, true)
		if err != nil && !errors.Is(err, container.ErrNotFound) {
			h.err = fmt.Errorf("failed to remove container %s: %w", h.Name, err)
			return
		}
		h.lifecycle.logger.Debug("container removed", "container", h.Name)
	})
	return h.err
}

func (l *Lifecycle) discard(ctx context.Context, h *Handle) {
	if l.keep {
		l.logger.Info("keeping failed container", "container", h.Name)
		return
	}
	if err := h.Release(ctx); err != nil {
		l.logger.Warn("cleanup after failed start", "container", h.Name, "error", err)
	}
}

// bootLogs returns what the container wrote since it started, truncated.
func (l *Lifecycle) bootLogs(ctx context.Context, id container.ContainerID, since time.Time) string {
	rc, err := l.engine.ContainerLogs(ctx, id, container.LogsOptions{Since: since})
	if err != nil {
		l.logger.Debug("boot logs unavailable", "id", string(id), "error", err)
		return ""
	}
	defer rc.Close()

	out, err := logstream.Collect(logstream.Stream(rc))
	if err != nil {
		l.logger.Debug("boot logs incomplete", "id", string(id), "error", err)
	}
	logs := strings.TrimSpace(out.Stdout.String() + out.Stderr.String())
	if len(logs) > bootLogsLimit {
		logs = "…" + logs[len(logs)-bootLogsLimit:]
	}
	return logs
}
