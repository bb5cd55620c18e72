// SPDX-License-Identifier: MPL-2.0

package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/pbtest/pbtest/internal/container"
)

// Operations recorded by Engine.
const (
	OpListImages       Op = "ListImages"
	OpPullImage        Op = "PullImage"
	OpCreateContainer  Op = "CreateContainer"
	OpStartContainer   Op = "StartContainer"
	OpInspectContainer Op = "InspectContainer"
	OpRemoveContainer  Op = "RemoveContainer"
	OpCreateExec       Op = "CreateExec"
	OpStartExec        Op = "StartExec"
	OpInspectExec      Op = "InspectExec"
	OpContainerLogs    Op = "ContainerLogs"
)

var _ container.Engine = (*Engine)(nil)

type (
	// Op names an Engine method.
	Op string

	// Call is one recorded Engine invocation.
	Call struct {
		Op Op
		// Target is the image reference, container or exec the call addressed.
		Target string
		// Cmd is the exec command for OpCreateExec.
		Cmd []string
	}

	// Container is a snapshot of a fake container.
	Container struct {
		ID      container.ContainerID
		Options container.CreateOptions
		Running bool
		Removed bool
		// Execs lists the sessions created in this container, in order.
		Execs []container.ExecID
	}

	// Option configures an Engine.
	Option func(*Engine)

	// Engine is an in-memory container.Engine.
	Engine struct {
		mu           sync.Mutex
		images       []container.ImageSummary
		containers   map[container.ContainerID]*fakeContainer
		order        []container.ContainerID
		byName       map[string]container.ContainerID
		execs        map[container.ExecID]*session
		calls        []Call
		failures     map[Op]error
		pullFailures map[string]error
		exitOnStart  bool
		bootLogs     string
		execPolls    int
		nextID       int
	}

	fakeContainer struct {
		Container
		startedAt time.Time
		dir       string
	}

	session struct {
		container container.ContainerID
		opts      container.ExecOptions
		started   bool
		done      bool
		exitCode  int
		pollsLeft int
	}
)

// WithImages marks refs as present locally.
func WithImages(refs ...string) Option {
	return func(e *Engine) {
		for _, ref := range refs {
			e.images = append(e.images, container.ImageSummary{ID: "sha256:" + ref, RepoTags: []string{ref}})
		}
	}
}

// FailOn makes every call of op return err.
func FailOn(op Op, err error) Option {
	return func(e *Engine) {
		e.failures[op] = err
	}
}

// FailPull makes pulls of ref return err.
func FailPull(ref string, err error) Option {
	return func(e *Engine) {
		e.pullFailures[ref] = err
	}
}

// ExitOnStart makes containers stop right after start. logs is what the
// container wrote to stderr before exiting.
func ExitOnStart(logs string) Option {
	return func(e *Engine) {
		e.exitOnStart = true
		e.bootLogs = logs
	}
}

// WithExecPolls makes InspectExec report a finished session as running for n
// more calls, like an engine that lags behind the output stream.
func WithExecPolls(n int) Option {
	return func(e *Engine) {
		e.execPolls = n
	}
}

// WithContainer registers an existing container under name.
func WithContainer(name string) Option {
	return func(e *Engine) {
		e.addContainer(container.CreateOptions{Name: name, Image: "existing"}, "")
	}
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		containers:   make(map[container.ContainerID]*fakeContainer),
		byName:       make(map[string]container.ContainerID),
		execs:        make(map[container.ExecID]*session),
		failures:     make(map[Op]error),
		pullFailures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns "fake".
func (e *Engine) Name() string { return "fake" }

// Ping always succeeds.
func (e *Engine) Ping(context.Context) error { return nil }

// ListImages returns the local images.
func (e *Engine) ListImages(context.Context) ([]container.ImageSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpListImages}); err != nil {
		return nil, err
	}
	return slices.Clone(e.images), nil
}

// PullImage adds ref to the local images unless a failure is configured.
func (e *Engine) PullImage(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpPullImage, Target: ref}); err != nil {
		return err
	}
	if err := e.pullFailures[ref]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.images = append(e.images, container.ImageSummary{ID: "sha256:" + ref, RepoTags: []string{ref}})
	return nil
}

// CreateContainer registers a container. Names must be unique among live containers.
func (e *Engine) CreateContainer(_ context.Context, opts container.CreateOptions) (container.ContainerID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpCreateContainer, Target: opts.Name}); err != nil {
		return "", err
	}
	if _, exists := e.byName[opts.Name]; exists {
		return "", fmt.Errorf("%w: the container name %q is already in use", container.ErrNameConflict, opts.Name)
	}
	dir, err := os.MkdirTemp("", "enginetest-*")
	if err != nil {
		return "", err
	}
	return e.addContainer(opts, dir), nil
}

// StartContainer marks the container running, or exited when ExitOnStart is set.
func (e *Engine) StartContainer(_ context.Context, id container.ContainerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpStartContainer, Target: string(id)}); err != nil {
		return err
	}
	c, err := e.live(id)
	if err != nil {
		return err
	}
	c.Running = !e.exitOnStart
	c.startedAt = time.Now()
	return nil
}

// InspectContainer reports the container state.
func (e *Engine) InspectContainer(_ context.Context, id container.ContainerID) (*container.ContainerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpInspectContainer, Target: string(id)}); err != nil {
		return nil, err
	}
	c, err := e.live(id)
	if err != nil {
		return nil, err
	}
	state := &container.ContainerState{ID: id, Running: c.Running, StartedAt: c.startedAt, Status: "created"}
	switch {
	case c.Running:
		state.Status = "running"
	case !c.startedAt.IsZero():
		state.Status = "exited"
		state.ExitCode = 1
	}
	return state, nil
}

// RemoveContainer removes the container and its scratch directory.
func (e *Engine) RemoveContainer(_ context.Context, id container.ContainerID, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpRemoveContainer, Target: string(id)}); err != nil {
		return err
	}
	c, err := e.live(id)
	if err != nil {
		return err
	}
	c.Running = false
	c.Removed = true
	delete(e.byName, c.Options.Name)
	if c.dir != "" {
		_ = os.RemoveAll(c.dir)
	}
	return nil
}

// CreateExec registers a session in a running container.
func (e *Engine) CreateExec(_ context.Context, id container.ContainerID, opts container.ExecOptions) (container.ExecID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpCreateExec, Target: string(id), Cmd: slices.Clone(opts.Cmd)}); err != nil {
		return "", err
	}
	c, err := e.live(id)
	if err != nil {
		return "", err
	}
	if !c.Running {
		return "", fmt.Errorf("container %s is not running", id)
	}
	for _, execID := range c.Execs {
		if s := e.execs[execID]; s.started && !s.done {
			return "", fmt.Errorf("exec %s still running in %s", execID, id)
		}
	}
	e.nextID++
	execID := container.ExecID(fmt.Sprintf("exec-%d", e.nextID))
	e.execs[execID] = &session{container: id, opts: opts}
	c.Execs = append(c.Execs, execID)
	return execID, nil
}

// StartExec interprets the session's script and streams its output.
func (e *Engine) StartExec(ctx context.Context, id container.ExecID) (io.ReadCloser, error) {
	e.mu.Lock()
	if err := e.record(Call{Op: OpStartExec, Target: string(id)}); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	s, ok := e.execs[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("exec %s: %w", id, container.ErrNotFound)
	}
	if s.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("exec %s already started", id)
	}
	s.started = true
	dir := e.containers[s.container].dir
	e.mu.Unlock()

	pr, pw := io.Pipe()
	go func() {
		code := runScript(ctx, s.opts, dir,
			stdcopy.NewStdWriter(pw, stdcopy.Stdout),
			stdcopy.NewStdWriter(pw, stdcopy.Stderr))

		e.mu.Lock()
		s.done = true
		s.exitCode = code
		s.pollsLeft = e.execPolls
		e.mu.Unlock()
		pw.Close()
	}()
	return pr, nil
}

// InspectExec reports the session state.
func (e *Engine) InspectExec(_ context.Context, id container.ExecID) (*container.ExecState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpInspectExec, Target: string(id)}); err != nil {
		return nil, err
	}
	s, ok := e.execs[id]
	if !ok {
		return nil, fmt.Errorf("exec %s: %w", id, container.ErrNotFound)
	}
	if !s.done {
		return &container.ExecState{Running: s.started}, nil
	}
	if s.pollsLeft > 0 {
		s.pollsLeft--
		return &container.ExecState{Running: true}, nil
	}
	return &container.ExecState{ExitCode: s.exitCode}, nil
}

// ContainerLogs returns the boot logs configured with ExitOnStart.
func (e *Engine) ContainerLogs(_ context.Context, id container.ContainerID, _ container.LogsOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Op: OpContainerLogs, Target: string(id)}); err != nil {
		return nil, err
	}
	if _, err := e.live(id); err != nil {
		return nil, err
	}
	var buf strings.Builder
	if e.bootLogs != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(e.bootLogs))
	}
	return io.NopCloser(strings.NewReader(buf.String())), nil
}

// Close removes every scratch directory.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.containers {
		if c.dir != "" {
			_ = os.RemoveAll(c.dir)
		}
	}
	return nil
}

// Calls returns every recorded call, in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// Count returns how often op was called.
func (e *Engine) Count(op Op) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Containers returns snapshots of every container ever created, in order.
func (e *Engine) Containers() []Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Container, 0, len(e.order))
	for _, id := range e.order {
		c := e.containers[id].Container
		c.Execs = slices.Clone(c.Execs)
		out = append(out, c)
	}
	return out
}

// Live returns the containers that have not been removed.
func (e *Engine) Live() []Container {
	var live []Container
	for _, c := range e.Containers() {
		if !c.Removed {
			live = append(live, c)
		}
	}
	return live
}

// record appends c and returns the failure configured for its op.
// Callers hold e.mu.
func (e *Engine) record(c Call) error {
	e.calls = append(e.calls, c)
	return e.failures[c.Op]
}

func (e *Engine) addContainer(opts container.CreateOptions, dir string) container.ContainerID {
	e.nextID++
	id := container.ContainerID(fmt.Sprintf("ctr-%d", e.nextID))
	e.containers[id] = &fakeContainer{Container: Container{ID: id, Options: opts}, dir: dir}
	e.order = append(e.order, id)
	e.byName[opts.Name] = id
	return id
}

func (e *Engine) live(id container.ContainerID) (*fakeContainer, error) {
	c, ok := e.containers[id]
	if !ok || c.Removed {
		return nil, fmt.Errorf("container %s: %w", id, container.ErrNotFound)
	}
	return c, nil
}

// runScript interprets "/bin/sh -c <script>" and returns the exit code.
func runScript(ctx context.Context, opts container.ExecOptions, dir string, stdout, stderr io.Writer) int {
	if len(opts.Cmd) != 3 || !slices.Contains([]string{"/bin/sh", "sh"}, opts.Cmd[0]) || opts.Cmd[1] != "-c" {
		fmt.Fprintf(stderr, "%s: command not found\n", opts.Cmd[0])
		return 127
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(opts.Cmd[2]), "sh")
	if err != nil {
		fmt.Fprintf(stderr, "sh: %v\n", err)
		return 2
	}

	workDir := dir
	if opts.WorkingDir != "" {
		workDir = opts.WorkingDir
	}
	runnerOpts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(opts.Env...)),
		interp.StdIO(nil, stdout, stderr),
		interp.ExecHandlers(execHandler),
	}
	if workDir != "" {
		runnerOpts = append(runnerOpts, interp.Dir(workDir))
	}
	runner, err := interp.New(runnerOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "sh: %v\n", err)
		return 126
	}

	err = runner.Run(ctx, prog)
	var exitStatus interp.ExitStatus
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitStatus):
		return int(exitStatus)
	default:
		return 137
	}
}

// execHandler implements sleep and rejects every other external command.
func execHandler(interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		if args[0] == "sleep" && len(args) == 2 {
			secs, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				fmt.Fprintf(hc.Stderr, "sleep: invalid time interval %q\n", args[1])
				return interp.ExitStatus(1)
			}
			timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
		fmt.Fprintf(hc.Stderr, "%s: command not found\n", args[0])
		return interp.ExitStatus(127)
	}
}
