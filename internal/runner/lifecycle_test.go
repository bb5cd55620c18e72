// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/testutil/enginetest"
)

func TestLifecycle_StartAndRelease(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	t.Cleanup(func() { _ = eng.Close() })
	l := NewLifecycle(eng, slog.New(slog.DiscardHandler), false)

	h, err := l.CreateAndStart(t.Context(), StartRequest{Image: "ubuntu:latest", Name: "lc", Privileged: true})
	if err != nil {
		t.Fatalf("CreateAndStart() error = %v", err)
	}
	if h.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	c := eng.Containers()[0]
	if !c.Running || !c.Options.Privileged || !c.Options.OpenStdin {
		t.Errorf("container = %+v", c)
	}

	if err := h.Release(t.Context()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := h.Release(t.Context()); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if got := eng.Count(enginetest.OpRemoveContainer); got != 1 {
		t.Errorf("removals = %d, want 1", got)
	}
}

func TestLifecycle_ReleaseAfterCancel(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	t.Cleanup(func() { _ = eng.Close() })
	l := NewLifecycle(eng, slog.New(slog.DiscardHandler), false)
	h, err := l.CreateAndStart(t.Context(), StartRequest{Image: "ubuntu:latest", Name: "lc"})
	if err != nil {
		t.Fatalf("CreateAndStart() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if live := eng.Live(); len(live) != 0 {
		t.Errorf("live = %+v", live)
	}
}

func TestLifecycle_StartFailureRemovesContainer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		keep   bool
		wantUp int
	}{
		{name: "remove", keep: false, wantUp: 0},
		{name: "keep", keep: true, wantUp: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			boom := errors.New("no runtime")
			eng := enginetest.New(enginetest.FailOn(enginetest.OpStartContainer, boom))
			t.Cleanup(func() { _ = eng.Close() })
			l := NewLifecycle(eng, slog.New(slog.DiscardHandler), tt.keep)

			_, err := l.CreateAndStart(t.Context(), StartRequest{Image: "ubuntu:latest", Name: "lc"})
			var lcErr *LifecycleError
			if !errors.As(err, &lcErr) || lcErr.Op != "start" || !errors.Is(err, boom) {
				t.Fatalf("CreateAndStart() error = %v, want start LifecycleError", err)
			}
			if got := len(eng.Live()); got != tt.wantUp {
				t.Errorf("live containers = %d, want %d", got, tt.wantUp)
			}
		})
	}
}

func TestLifecycle_ReleaseIgnoresMissingContainer(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(enginetest.FailOn(enginetest.OpRemoveContainer, container.ErrNotFound))
	t.Cleanup(func() { _ = eng.Close() })
	l := NewLifecycle(eng, slog.New(slog.DiscardHandler), false)
	h, err := l.CreateAndStart(t.Context(), StartRequest{Image: "ubuntu:latest", Name: "lc"})
	if err != nil {
		t.Fatalf("CreateAndStart() error = %v", err)
	}
	if err := h.Release(t.Context()); err != nil {
		t.Errorf("Release() error = %v, want nil for a missing container", err)
	}
}
