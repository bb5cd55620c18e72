// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pbtest/pbtest/pkg/platform"
)

// inspectFormat yields "running|exitCode|status|startedAt".
const inspectFormat = "{{.State.Running}}|{{.State.ExitCode}}|{{.State.Status}}|{{.State.StartedAt}}"

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// CLIEngineOption configures a CLIEngine.
	CLIEngineOption func(*CLIEngine)

	// CLIEngine implements Engine by invoking the docker or podman binary.
	// Exec sessions are tracked in process: CreateExec only records the
	// request and StartExec runs "<binary> exec".
	CLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
		sandbox     platform.SandboxType

		mu       sync.Mutex
		sessions map[ExecID]*cliSession
	}

	cliSession struct {
		container ContainerID
		opts      ExecOptions
		started   bool
		running   bool
		exitCode  int
	}

	// CommandError reports a failed engine command together with its stderr.
	CommandError struct {
		Binary string
		Args   []string
		Stderr string
		Err    error
	}
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s failed: %v", e.Binary, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *CommandError) Unwrap() error { return e.Err }

// WithExecCommand overrides command construction, for tests.
func WithExecCommand(fn ExecCommandFunc) CLIEngineOption {
	return func(e *CLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath sets the engine binary explicitly instead of resolving it on PATH.
func WithBinaryPath(path string) CLIEngineOption {
	return func(e *CLIEngine) {
		e.binaryPath = path
	}
}

// WithSandbox overrides sandbox detection. Inside a sandbox every command is
// spawned on the host.
func WithSandbox(st platform.SandboxType) CLIEngineOption {
	return func(e *CLIEngine) {
		e.sandbox = st
	}
}

// NewCLIEngine creates a CLI engine named name ("docker" or "podman").
// The binary is resolved on PATH unless WithBinaryPath is given; inside a
// sandbox the host resolves the bare name instead.
func NewCLIEngine(name string, opts ...CLIEngineOption) *CLIEngine {
	e := &CLIEngine{
		name:        name,
		execCommand: exec.CommandContext,
		sandbox:     platform.DetectSandbox(),
		sessions:    make(map[ExecID]*cliSession),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.binaryPath == "" {
		if e.sandbox != platform.SandboxNone {
			e.binaryPath = name
		} else {
			e.binaryPath, _ = exec.LookPath(name)
		}
	}
	return e
}

// NewDockerCLIEngine creates a CLI engine for the docker binary.
func NewDockerCLIEngine(opts ...CLIEngineOption) *CLIEngine {
	return NewCLIEngine(string(EngineTypeDocker), opts...)
}

// NewPodmanCLIEngine creates a CLI engine for the podman binary.
func NewPodmanCLIEngine(opts ...CLIEngineOption) *CLIEngine {
	return NewCLIEngine(string(EngineTypePodman), opts...)
}

// Name returns the engine name.
func (e *CLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the resolved binary, or "" when it was not found.
func (e *CLIEngine) BinaryPath() string {
	return e.binaryPath
}

// Ping checks that the binary exists and reaches its daemon.
func (e *CLIEngine) Ping(ctx context.Context) error {
	if e.binaryPath == "" {
		return fmt.Errorf("%s binary not found in PATH", e.name)
	}
	_, err := e.run(ctx, e.VersionArgs()...)
	return err
}

// VersionArgs builds the argument list Ping runs. Local podman has no
// server section in its version output.
func (e *CLIEngine) VersionArgs() []string {
	if e.name == string(EngineTypePodman) {
		return []string{"version", "--format", "{{.Version}}"}
	}
	return []string{"version", "--format", "{{.Server.Version}}"}
}

// ListImages lists local images. Untagged images are reported without tags.
func (e *CLIEngine) ListImages(ctx context.Context) ([]ImageSummary, error) {
	out, err := e.run(ctx, "images", "--no-trunc", "--digests", "--format", "{{.ID}} {{.Repository}}:{{.Tag}} {{.Digest}}")
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return parseImageList(out), nil
}

// PullImage pulls ref.
func (e *CLIEngine) PullImage(ctx context.Context, ref string) error {
	if _, err := e.run(ctx, "pull", "-q", ref); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// CreateArgs builds the argument list for "create".
func (e *CLIEngine) CreateArgs(opts CreateOptions) []string {
	args := []string{"create", "--name", opts.Name}
	if opts.Privileged {
		args = append(args, "--privileged")
	}
	if opts.OpenStdin {
		args = append(args, "-i")
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	args = append(args, opts.Image)
	return append(args, opts.Cmd...)
}

// CreateContainer creates a container. A name already in use yields ErrNameConflict.
func (e *CLIEngine) CreateContainer(ctx context.Context, opts CreateOptions) (ContainerID, error) {
	out, err := e.run(ctx, e.CreateArgs(opts)...)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", opts.Name, classifyStderr(err))
	}
	return ContainerID(lastLine(out)), nil
}

// StartContainer starts a created container.
func (e *CLIEngine) StartContainer(ctx context.Context, id ContainerID) error {
	if _, err := e.run(ctx, "start", string(id)); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, classifyStderr(err))
	}
	return nil
}

// InspectContainer reports the container's run state.
func (e *CLIEngine) InspectContainer(ctx context.Context, id ContainerID) (*ContainerState, error) {
	out, err := e.run(ctx, "inspect", "--type", "container", "--format", inspectFormat, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, classifyStderr(err))
	}
	state, err := parseInspect(lastLine(out))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	state.ID = id
	return state, nil
}

// RemoveContainer removes a container.
func (e *CLIEngine) RemoveContainer(ctx context.Context, id ContainerID, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, string(id))
	if _, err := e.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, classifyStderr(err))
	}
	return nil
}

// CreateExec records an exec request; the process starts in StartExec.
func (e *CLIEngine) CreateExec(_ context.Context, id ContainerID, opts ExecOptions) (ExecID, error) {
	if len(opts.Cmd) == 0 {
		return "", errors.New("exec command is empty")
	}
	execID := ExecID(uuid.NewString())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[execID] = &cliSession{container: id, opts: opts}
	return execID, nil
}

// ExecArgs builds the argument list for "exec".
func (e *CLIEngine) ExecArgs(id ContainerID, opts ExecOptions) []string {
	args := []string{"exec"}
	for _, env := range opts.Env {
		args = append(args, "-e", env)
	}
	if opts.WorkingDir != "" {
		args = append(args, "-w", opts.WorkingDir)
	}
	args = append(args, string(id))
	return append(args, opts.Cmd...)
}

// StartExec runs the session and returns its output in stdcopy framing.
// The session is marked finished before the stream reports EOF.
func (e *CLIEngine) StartExec(ctx context.Context, id ExecID) (io.ReadCloser, error) {
	e.mu.Lock()
	sess, ok := e.sessions[id]
	if ok && sess.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("exec %s already started", id)
	}
	if ok {
		sess.started = true
		sess.running = true
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("exec %s: %w", id, ErrNotFound)
	}

	rc, err := e.stream(ctx, e.ExecArgs(sess.container, sess.opts), func(code int) {
		e.mu.Lock()
		defer e.mu.Unlock()
		sess.running = false
		sess.exitCode = code
	})
	if err != nil {
		e.mu.Lock()
		sess.running = false
		sess.exitCode = -1
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to start exec %s: %w", id, err)
	}
	return rc, nil
}

// InspectExec reports the session state. A finished session is forgotten
// once its state was reported.
func (e *CLIEngine) InspectExec(_ context.Context, id ExecID) (*ExecState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("exec %s: %w", id, ErrNotFound)
	}
	if sess.started && !sess.running {
		delete(e.sessions, id)
	}
	return &ExecState{Running: sess.running, ExitCode: sess.exitCode}, nil
}

// ContainerLogs streams "<binary> logs" output in stdcopy framing.
func (e *CLIEngine) ContainerLogs(ctx context.Context, id ContainerID, opts LogsOptions) (io.ReadCloser, error) {
	args := []string{"logs"}
	if opts.Follow {
		args = append(args, "-f")
	}
	if !opts.Since.IsZero() {
		args = append(args, "--since", opts.Since.Format(time.RFC3339Nano))
	}
	args = append(args, string(id))

	rc, err := e.stream(ctx, args, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs of %s: %w", id, err)
	}
	return rc, nil
}

// Close forgets all exec sessions.
func (e *CLIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.sessions)
	return nil
}

// CreateCommand builds an exec.Cmd for the engine binary.
func (e *CLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	name, args := platform.HostCommand(e.sandbox, e.binaryPath, args...)
	return e.execCommand(ctx, name, args...)
}

func (e *CLIEngine) run(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Binary: e.name,
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// stream starts the command and multiplexes its stdout and stderr into a
// single stdcopy stream. onExit, when set, receives the exit code after the
// process was reaped and before the stream is closed.
func (e *CLIEngine) stream(ctx context.Context, args []string, onExit func(code int)) (io.ReadCloser, error) {
	cmd := e.CreateCommand(ctx, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Binary: e.name, Args: args, Err: err}
	}

	pr, pw := io.Pipe()
	go func() {
		var g errgroup.Group
		g.Go(func() error { return copyFrames(stdcopy.NewStdWriter(pw, stdcopy.Stdout), stdout) })
		g.Go(func() error { return copyFrames(stdcopy.NewStdWriter(pw, stdcopy.Stderr), stderr) })
		copyErr := g.Wait()
		waitErr := cmd.Wait()

		if onExit != nil {
			onExit(exitCode(waitErr))
		}
		pw.CloseWithError(copyErr)
	}()

	return pr, nil
}

// copyFrames keeps draining src after the consumer went away so the process
// never blocks on a full pipe.
func copyFrames(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if err != nil {
		_, _ = io.Copy(io.Discard, src)
	}
	return err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// classifyStderr maps well-known engine messages onto package sentinels.
func classifyStderr(err error) error {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	msg := strings.ToLower(cmdErr.Stderr)
	switch {
	case strings.Contains(msg, "is already in use"):
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	case strings.Contains(msg, "no such container"), strings.Contains(msg, "no container with name or id"):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}

func parseImageList(out string) []ImageSummary {
	byID := make(map[string]*ImageSummary)
	var order []string
	for line := range strings.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		id, ref := fields[0], fields[1]
		img, seen := byID[id]
		if !seen {
			img = &ImageSummary{ID: id}
			byID[id] = img
			order = append(order, id)
		}
		if !strings.Contains(ref, "<none>") && !slices.Contains(img.RepoTags, ref) {
			img.RepoTags = append(img.RepoTags, ref)
		}
		repo := ref[:max(strings.LastIndex(ref, ":"), 0)]
		if len(fields) < 3 || fields[2] == "<none>" || repo == "" || repo == "<none>" {
			continue
		}
		if digest := repo + "@" + fields[2]; !slices.Contains(img.RepoDigests, digest) {
			img.RepoDigests = append(img.RepoDigests, digest)
		}
	}

	images := make([]ImageSummary, 0, len(order))
	for _, id := range order {
		images = append(images, *byID[id])
	}
	return images
}

func parseInspect(line string) (*ContainerState, error) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("unexpected inspect output %q", line)
	}
	running, err := strconv.ParseBool(parts[0])
	if err != nil {
		return nil, fmt.Errorf("unexpected running flag %q: %w", parts[0], err)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("unexpected exit code %q: %w", parts[1], err)
	}
	state := &ContainerState{Running: running, ExitCode: code, Status: parts[2]}
	if t, err := time.Parse(time.RFC3339Nano, parts[3]); err == nil {
		state.StartedAt = t
	}
	return state, nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
