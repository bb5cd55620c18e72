// SPDX-License-Identifier: MPL-2.0

package enginetest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/pbtest/pbtest/internal/container"
)

func startContainer(t *testing.T, e *Engine, name string) container.ContainerID {
	t.Helper()
	id, err := e.CreateContainer(t.Context(), container.CreateOptions{Name: name, Image: "ubuntu:latest", OpenStdin: true})
	if err != nil {
		t.Fatalf("CreateContainer() error = %v", err)
	}
	if err := e.StartContainer(t.Context(), id); err != nil {
		t.Fatalf("StartContainer() error = %v", err)
	}
	return id
}

func runExec(t *testing.T, e *Engine, id container.ContainerID, script string) (stdout, stderr string, code int) {
	t.Helper()
	execID, err := e.CreateExec(t.Context(), id, container.ExecOptions{Cmd: []string{"/bin/sh", "-c", script}})
	if err != nil {
		t.Fatalf("CreateExec() error = %v", err)
	}
	rc, err := e.StartExec(t.Context(), execID)
	if err != nil {
		t.Fatalf("StartExec() error = %v", err)
	}
	defer rc.Close()

	var out, errOut bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &errOut, rc); err != nil {
		t.Fatalf("StdCopy() error = %v", err)
	}
	for {
		st, err := e.InspectExec(t.Context(), execID)
		if err != nil {
			t.Fatalf("InspectExec() error = %v", err)
		}
		if !st.Running {
			return out.String(), errOut.String(), st.ExitCode
		}
	}
}

func TestEngine_ExecRunsScript(t *testing.T) {
	t.Parallel()

	e := New()
	defer e.Close()
	id := startContainer(t, e, "c1")

	tests := []struct {
		script   string
		stdout   string
		stderr   string
		exitCode int
	}{
		{script: "echo hello", stdout: "hello\n"},
		{script: "echo oops >&2; exit 3", stderr: "oops\n", exitCode: 3},
		{script: "curl https://example.com", stderr: "curl: command not found\n", exitCode: 127},
		{script: "echo one > f.txt", stdout: ""},
		{script: "while read l; do echo got $l; done < f.txt", stdout: "got one\n"},
	}

	for _, tt := range tests {
		stdout, stderr, code := runExec(t, e, id, tt.script)
		if stdout != tt.stdout || stderr != tt.stderr || code != tt.exitCode {
			t.Errorf("%q = (%q, %q, %d), want (%q, %q, %d)", tt.script, stdout, stderr, code, tt.stdout, tt.stderr, tt.exitCode)
		}
	}
}

func TestEngine_PullAndFailures(t *testing.T) {
	t.Parallel()

	pullErr := errors.New("no such host")
	e := New(WithImages("ubuntu:latest"), FailPull("bad:1", pullErr))

	if err := e.PullImage(t.Context(), "bad:1"); !errors.Is(err, pullErr) {
		t.Errorf("PullImage(bad) error = %v", err)
	}
	if err := e.PullImage(t.Context(), "fedora:40"); err != nil {
		t.Errorf("PullImage(fedora) error = %v", err)
	}
	images, _ := e.ListImages(t.Context())
	if len(images) != 2 {
		t.Errorf("images = %v, want ubuntu and fedora", images)
	}
	if e.Count(OpPullImage) != 2 {
		t.Errorf("Count(PullImage) = %d", e.Count(OpPullImage))
	}
}

func TestEngine_NameConflictAndRemove(t *testing.T) {
	t.Parallel()

	e := New(WithContainer("taken"))
	defer e.Close()

	if _, err := e.CreateContainer(t.Context(), container.CreateOptions{Name: "taken"}); !errors.Is(err, container.ErrNameConflict) {
		t.Fatalf("CreateContainer() error = %v, want ErrNameConflict", err)
	}

	id := startContainer(t, e, "fresh")
	if err := e.RemoveContainer(t.Context(), id, true); err != nil {
		t.Fatalf("RemoveContainer() error = %v", err)
	}
	if err := e.RemoveContainer(t.Context(), id, true); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("second RemoveContainer() error = %v, want ErrNotFound", err)
	}
	if len(e.Live()) != 1 {
		t.Errorf("Live() = %+v, want only the pre-existing container", e.Live())
	}
}

func TestEngine_ExitOnStart(t *testing.T) {
	t.Parallel()

	e := New(ExitOnStart("kvm not available\n"))
	id := startContainer(t, e, "osx")

	st, err := e.InspectContainer(t.Context(), id)
	if err != nil || st.Running || st.Status != "exited" {
		t.Fatalf("InspectContainer() = %+v, %v", st, err)
	}
	rc, err := e.ContainerLogs(t.Context(), id, container.LogsOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		t.Fatal(err)
	}
	if stderr.String() != "kvm not available\n" {
		t.Errorf("logs = %q", stderr.String())
	}
}

func TestEngine_ExecPolls(t *testing.T) {
	t.Parallel()

	e := New(WithExecPolls(2))
	id := startContainer(t, e, "c")
	_, _, code := runExec(t, e, id, "exit 5")
	if code != 5 {
		t.Errorf("exit code = %d, want 5", code)
	}
	// Two lagging "running" polls plus the final one.
	if got := e.Count(OpInspectExec); got != 3 {
		t.Errorf("Count(InspectExec) = %d, want 3", got)
	}
}

func TestEngine_SleepHonoursContext(t *testing.T) {
	t.Parallel()

	e := New()
	id := startContainer(t, e, "c")
	execID, err := e.CreateExec(t.Context(), id, container.ExecOptions{Cmd: []string{"/bin/sh", "-c", "sleep 60"}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	rc, err := e.StartExec(ctx, execID)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	var out bytes.Buffer
	_, _ = stdcopy.StdCopy(&out, &out, rc)
	if time.Since(start) > 10*time.Second {
		t.Fatal("sleep did not stop on context cancellation")
	}
}
