// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/image"
	"github.com/pbtest/pbtest/pkg/playbook"
)

const (
	// FailureContinue runs every target and aggregates the results.
	FailureContinue FailurePolicy = "continue"
	// FailureFailFast stops after the first Failed target.
	FailureFailFast FailurePolicy = "fail-fast"

	// StepContinue runs every step regardless of exit codes.
	StepContinue StepPolicy = "continue"
	// StepStopOnFailure skips the remaining steps of a target after a non-zero exit.
	StepStopOnFailure StepPolicy = "stop-on-failure"
)

// Container labels set on every target container.
const (
	LabelPlaybook = "pbtest.playbook"
	LabelTarget   = "pbtest.target"
	LabelRun      = "pbtest.run"
)

type (
	// FailurePolicy decides whether a Failed target stops the run.
	FailurePolicy string

	// StepPolicy decides whether a non-zero step exit stops the target.
	StepPolicy string

	// Option configures an Orchestrator.
	Option func(*Orchestrator)

	// Orchestrator runs playbooks against targets on one container engine.
	Orchestrator struct {
		engine         container.Engine
		logger         *slog.Logger
		aliases        *image.AliasTable
		failurePolicy  FailurePolicy
		stepPolicy     StepPolicy
		keepContainers bool
		stepTimeout    time.Duration
		pullTimeout    time.Duration
		pullAttempts   int
		pullBackoff    time.Duration
		pollMin        time.Duration
		pollMax        time.Duration
		output         func(StepOutput)

		provisioner *image.Provisioner
		lifecycle   *Lifecycle
		executor    *Executor
	}
)

// ParseFailurePolicy converts a configuration value into a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", FailureContinue:
		return FailureContinue, nil
	case FailureFailFast:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (valid: continue, fail-fast)", s)
	}
}

// ParseStepPolicy converts a configuration value into a StepPolicy.
func ParseStepPolicy(s string) (StepPolicy, error) {
	switch p := StepPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", StepContinue:
		return StepContinue, nil
	case StepStopOnFailure:
		return p, nil
	default:
		return "", fmt.Errorf("unknown step policy %q (valid: continue, stop-on-failure)", s)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithAliasTable sets the OS alias table. Defaults to image.DefaultAliasTable().
func WithAliasTable(t *image.AliasTable) Option {
	return func(o *Orchestrator) { o.aliases = t }
}

// WithFailurePolicy sets the multi-target failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *Orchestrator) { o.failurePolicy = p }
}

// WithStepPolicy sets the per-target step policy.
func WithStepPolicy(p StepPolicy) Option {
	return func(o *Orchestrator) { o.stepPolicy = p }
}

// WithKeepContainers leaves target containers in place after the run.
func WithKeepContainers(keep bool) Option {
	return func(o *Orchestrator) { o.keepContainers = keep }
}

// WithStepTimeout bounds each step. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stepTimeout = d }
}

// WithPullTimeout bounds each image pull. Zero disables the bound.
func WithPullTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pullTimeout = d }
}

// WithPullRetry sets how often transient pull failures are retried.
func WithPullRetry(attempts int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		o.pullAttempts = attempts
		o.pullBackoff = backoff
	}
}

// WithPollInterval sets the bounds of the exec completion poll backoff.
func WithPollInterval(minDelay, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.pollMin = minDelay
		o.pollMax = max(minDelay, maxDelay)
	}
}

// WithOutput receives step output while it is produced.
func WithOutput(fn func(StepOutput)) Option {
	return func(o *Orchestrator) { o.output = fn }
}

// New creates an orchestrator on engine.
func New(engine container.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:        engine,
		logger:        slog.Default(),
		aliases:       image.DefaultAliasTable(),
		failurePolicy: FailureContinue,
		stepPolicy:    StepContinue,
		stepTimeout:   DefaultStepTimeout,
		pullTimeout:   image.DefaultPullTimeout,
		pullAttempts:  3,
		pullBackoff:   2 * time.Second,
		pollMin:       defaultPollMin,
		pollMax:       defaultPollMax,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.provisioner = image.NewProvisioner(engine,
		image.WithLogger(o.logger),
		image.WithPullTimeout(o.pullTimeout),
		image.WithPullRetry(o.pullAttempts, o.pullBackoff),
	)
	o.lifecycle = NewLifecycle(engine, o.logger, o.keepContainers)
	o.executor = NewExecutor(engine, o.logger)
	o.executor.timeout = o.stepTimeout
	o.executor.pollMin = o.pollMin
	o.executor.pollMax = o.pollMax
	o.executor.output = o.output
	return o
}

// Run validates pb and runs it against every target in order. An empty
// target list runs once against the playbook's env hint, or against every
// alias in the table when the playbook declares no hint.
//
// An invalid playbook returns a nil report and an error wrapping ErrConfig
// before any engine call. Otherwise the report is always returned; the error
// is a *RunError iff the report failed, or the context error when the run was
// cancelled before reaching every target.
func (o *Orchestrator) Run(ctx context.Context, pb *playbook.Playbook, targets []image.TargetDescriptor) (*TestReport, error) {
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	targets = o.defaultTargets(pb, targets)

	runID := uuid.NewString()
	logger := o.logger.With("run", runID, "playbook", pb.Name)
	for _, name := range pb.Skipped() {
		logger.Warn("automation has no content, skipping", "automation", name)
	}
	for _, issue := range pb.Lint() {
		logger.Warn("step does not parse as shell, running it anyway", "automation", issue.Automation, "step", issue.Step, "error", issue.Err)
	}

	var (
		results   []TargetRunResult
		cancelErr error
	)
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			logger.Warn("run cancelled", "remaining_targets", len(targets)-i, "error", err)
			cancelErr = err
			break
		}

		res := o.runTarget(ctx, logger, runID, pb, target)
		results = append(results, res)

		if res.State == StateFailed && o.failurePolicy == FailureFailFast {
			logger.Info("fail-fast: skipping remaining targets", "remaining_targets", len(targets)-i-1)
			break
		}
	}

	report := Aggregate(results...)
	report.Playbook = pb.Name
	report.RunID = runID

	passed, failed := report.Counts()
	logger.Info("run finished", "passed", passed, "failed", failed)
	switch {
	case report.Failed():
		return report, &RunError{Report: report}
	case cancelErr != nil:
		return report, fmt.Errorf("run interrupted after %d of %d target(s): %w", len(results), len(targets), cancelErr)
	}
	return report, nil
}

func (o *Orchestrator) defaultTargets(pb *playbook.Playbook, targets []image.TargetDescriptor) []image.TargetDescriptor {
	if len(targets) > 0 {
		return targets
	}
	names := o.aliases.Names()
	if pb.EnvHint() != "" || len(names) == 0 {
		return []image.TargetDescriptor{{}}
	}
	out := make([]image.TargetDescriptor, len(names))
	for i, name := range names {
		out[i] = image.TargetDescriptor{Alias: name}
	}
	return out
}

func (o *Orchestrator) runTarget(ctx context.Context, logger *slog.Logger, runID string, pb *playbook.Playbook, target image.TargetDescriptor) (result TargetRunResult) {
	start := time.Now()
	logger = logger.With("target", target.String())
	tr := newTracker(logger)
	result = TargetRunResult{Target: target, State: StateIdle}

	defer func() { result.Duration = time.Since(start) }()

	fail := func(step string, err error) TargetRunResult {
		failedIn := tr.state
		tr.to(StateFailed)
		result.State = StateFailed
		result.Err = &TargetError{
			Playbook: pb.Name,
			Target:   result.Target.String(),
			Step:     step,
			State:    failedIn,
			Err:      err,
		}
		result.OverallExitCode = overallExitCode(result.StepResults, StateFailed)
		logger.Error("target failed", "state", failedIn.String(), "error", err)
		return result
	}

	tr.to(StateResolving)
	res, err := image.Resolve(target, pb.EnvHint(), o.aliases)
	if err != nil {
		return fail("", err)
	}
	if target.IsZero() {
		result.Target = image.TargetDescriptor{Alias: res.Alias}
	}
	result.Image = res.Image
	result.ContainerName = ContainerName(pb.Name, result.Target.String())
	logger.Debug("target resolved", "image", res.Image, "source", string(res.Source), "privileged", res.Privileged)

	tr.to(StateProvisioning)
	if err := o.provisioner.Ensure(ctx, res.Image); err != nil {
		return fail("", err)
	}

	tr.to(StateStarting)
	h, err := o.lifecycle.CreateAndStart(ctx, StartRequest{
		Image:      res.Image,
		Name:       result.ContainerName,
		Privileged: res.Privileged,
		Labels: map[string]string{
			LabelPlaybook: pb.Name,
			LabelTarget:   result.Target.String(),
			LabelRun:      runID,
		},
	})
	if err != nil {
		return fail("", err)
	}
	if o.keepContainers {
		logger.Info("keeping container", "container", h.Name)
	} else {
		defer func() {
			if err := h.Release(ctx); err != nil {
				logger.Warn("container cleanup failed", "container", h.Name, "error", err)
			}
		}()
	}

	tr.to(StateExecuting)
	for _, step := range pb.Steps() {
		sr, err := o.executor.Execute(ctx, h, step)
		result.StepResults = append(result.StepResults, sr)
		if err != nil {
			return fail(step.Step.Title, err)
		}
		if !sr.Succeeded() && o.stepPolicy == StepStopOnFailure {
			logger.Info("stopping after failed step", "step", step.Step.Title, "exit_code", sr.ExitCode)
			break
		}
	}

	tr.to(StateCompleted)
	result.State = StateCompleted
	result.OverallExitCode = overallExitCode(result.StepResults, StateCompleted)
	return result
}
