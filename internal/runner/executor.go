// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/logstream"
	"github.com/pbtest/pbtest/pkg/playbook"
)

const (
	// DefaultStepTimeout bounds one step, output streaming and completion wait included.
	DefaultStepTimeout = 30 * time.Minute

	defaultPollMin = 10 * time.Millisecond
	defaultPollMax = 500 * time.Millisecond
)

type (
	// StepResult is the outcome of one step.
	StepResult struct {
		StepTitle  string        `json:"step_title"`
		Automation string        `json:"automation"`
		ExitCode   int           `json:"exit_code"`
		Stdout     string        `json:"stdout"`
		Stderr     string        `json:"stderr"`
		Duration   time.Duration `json:"duration"`
	}

	// StepOutput is one chunk of live step output.
	StepOutput struct {
		Container string
		Step      playbook.ScheduledStep
		Chunk     logstream.Chunk
	}

	// Executor runs steps inside a started container, one session at a time.
	Executor struct {
		engine  container.Engine
		logger  *slog.Logger
		timeout time.Duration
		pollMin time.Duration
		pollMax time.Duration
		output  func(StepOutput)
	}
)

// Succeeded reports whether the step exited with code 0.
func (r StepResult) Succeeded() bool {
	return r.ExitCode == 0
}

// NewExecutor creates an executor with the default timeout and poll interval.
func NewExecutor(engine container.Engine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:  engine,
		logger:  logger,
		timeout: DefaultStepTimeout,
		pollMin: defaultPollMin,
		pollMax: defaultPollMax,
	}
}

// Execute runs step as "/bin/sh -c <content>" in the handle's container.
//
// The session's output is drained to EOF, then the session is polled with
// exponential backoff until the engine reports it finished. A non-zero exit
// code is returned in the result, not as an error. Failure to create, start,
// stream or await the session, including hitting the step timeout, is an
// *ExecError; the result then holds whatever output was captured.
func (x *Executor) Execute(ctx context.Context, h *Handle, step playbook.ScheduledStep) (StepResult, error) {
	result := StepResult{StepTitle: step.Step.Title, Automation: step.Automation, ExitCode: -1}
	start := time.Now()

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	x.logger.Info("running step", "container", h.Name, "automation", step.Automation, "step", step.Step.Title)
	x.logger.Debug("exec command", "container", h.Name, "command", quoteCommand(step.Step.Command()))

	execID, err := x.engine.CreateExec(ctx, h.ID, container.ExecOptions{Cmd: step.Step.Command()})
	if err != nil {
		return x.finish(&result, start), x.execError(ctx, step, "create", err)
	}

	rc, err := x.engine.StartExec(ctx, execID)
	if err != nil {
		return x.finish(&result, start), x.execError(ctx, step, "start", err)
	}
	// Closing the stream unblocks the read when the step times out.
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })

	seq := logstream.Stream(rc)
	if x.output != nil {
		seq = logstream.Tee(seq, func(c logstream.Chunk) {
			x.output(StepOutput{Container: h.Name, Step: step, Chunk: c})
		})
	}
	out, streamErr := logstream.Collect(seq)
	stop()
	_ = rc.Close()

	result.Stdout = out.Stdout.String()
	result.Stderr = out.Stderr.String()
	if streamErr != nil || ctx.Err() != nil {
		return x.finish(&result, start), x.execError(ctx, step, "stream", streamErr)
	}

	state, err := x.wait(ctx, execID)
	if err != nil {
		return x.finish(&result, start), x.execError(ctx, step, "wait", err)
	}
	result.ExitCode = state.ExitCode

	x.finish(&result, start)
	x.logger.Info("step finished", "container", h.Name, "step", step.Step.Title,
		"exit_code", result.ExitCode, "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// wait polls the session until the engine reports it finished.
func (x *Executor) wait(ctx context.Context, id container.ExecID) (*container.ExecState, error) {
	delay := x.pollMin
	for {
		state, err := x.engine.InspectExec(ctx, id)
		if err != nil {
			return nil, err
		}
		if !state.Running {
			return state, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, x.pollMax)
	}
}

func (x *Executor) finish(r *StepResult, start time.Time) StepResult {
	r.Duration = time.Since(start)
	return *r
}

// execError builds the ExecError for op, reporting a timeout or cancellation
// in preference to the I/O error it caused.
func (x *Executor) execError(ctx context.Context, step playbook.ScheduledStep, op string, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded) && x.timeout > 0:
		err = fmt.Errorf("step timed out after %s: %w", x.timeout, ctxErr)
	case ctxErr != nil:
		err = ctxErr
	case err == nil:
		err = errors.New("output stream ended unexpectedly")
	}
	return &ExecError{Step: step.Step.Title, Op: op, Err: err}
}

// quoteCommand renders argv as a shell command line that can be pasted into
// "docker exec". Arguments that cannot be quoted are shown as-is.
func quoteCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			q = arg
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}
