// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/image"
	"github.com/pbtest/pbtest/internal/logstream"
	"github.com/pbtest/pbtest/internal/testutil/enginetest"
	"github.com/pbtest/pbtest/internal/testutil/playbooktest"
	"github.com/pbtest/pbtest/pkg/playbook"
)

const unreachableImage = "registry.invalid/missing:1.0"

func newTestOrchestrator(t *testing.T, eng *enginetest.Engine, opts ...Option) *Orchestrator {
	t.Helper()
	t.Cleanup(func() { _ = eng.Close() })
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithPollInterval(time.Millisecond, 5*time.Millisecond),
		WithPullRetry(1, 0),
	}
	return New(eng, append(base, opts...)...)
}

func targets(specs ...string) []image.TargetDescriptor {
	out := make([]image.TargetDescriptor, len(specs))
	for i, s := range specs {
		out[i] = image.ParseTarget(s)
	}
	return out
}

func TestRun_EchoHelloOnLinux(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("hello", "echo hello"), targets("Linux"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(report.Results))
	}

	res := report.Results[0]
	if res.State != StateCompleted {
		t.Errorf("State = %s, want Completed", res.State)
	}
	if res.Image != "ubuntu:latest" {
		t.Errorf("Image = %q, want ubuntu:latest", res.Image)
	}
	if len(res.StepResults) != 1 {
		t.Fatalf("len(StepResults) = %d, want 1", len(res.StepResults))
	}
	if got := res.StepResults[0]; got.ExitCode != 0 || got.Stdout != "hello\n" {
		t.Errorf("step = %+v, want exit 0 and stdout %q", got, "hello\n")
	}
	if report.ExitCode() != 0 || report.Failed() {
		t.Errorf("report ExitCode() = %d, Failed() = %v", report.ExitCode(), report.Failed())
	}
	if report.RunID == "" || report.Playbook != "hello" {
		t.Errorf("report identity = %q / %q", report.Playbook, report.RunID)
	}
	if got := eng.Count(enginetest.OpPullImage); got != 1 {
		t.Errorf("pulls = %d, want 1", got)
	}
	if live := eng.Live(); len(live) != 0 {
		t.Errorf("containers left behind: %+v", live)
	}
}

func TestRun_ExplicitImageSkipsPullWhenPresent(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(enginetest.WithImages("docker.io/library/alpine:3.20"))
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("img", "true"), []image.TargetDescriptor{image.ImageTarget("alpine:3.20")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := report.Results[0].Image; got != "alpine:3.20" {
		t.Errorf("Image = %q, want alpine:3.20", got)
	}
	if got := eng.Count(enginetest.OpPullImage); got != 0 {
		t.Errorf("pulls = %d, want 0", got)
	}
}

func TestRun_EnvHintWhenNoTargetGiven(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("hint", "true"), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := report.Results[0]
	if res.Target.Alias != image.AliasLinux {
		t.Errorf("Target = %+v, want alias Linux", res.Target)
	}
	if res.ContainerName != ContainerName("hint", "Linux") {
		t.Errorf("ContainerName = %q", res.ContainerName)
	}
}

func TestRun_NoHintRunsEveryAlias(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)

	pb := playbooktest.New("anywhere", playbooktest.WithAutomation("main", playbooktest.Step("s", "true")))
	report, err := o.Run(t.Context(), pb, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var got []string
	for _, res := range report.Results {
		got = append(got, res.Target.Alias+"="+res.Image)
	}
	want := []string{
		"Linux=ubuntu:latest",
		"macOS=sickcodes/docker-osx",
		"Windows=mcr.microsoft.com/windows/servercore:ltsc2019",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("targets = %v, want %v", got, want)
	}
}

func TestRun_MixedTargets(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(enginetest.FailPull(unreachableImage, errors.New("pull access denied")))
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("mixed", "echo ok"), targets("Linux", "Linux="+unreachableImage))

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Run() error = %v, want *RunError", err)
	}
	if !errors.Is(err, ErrProvision) {
		t.Errorf("errors.Is(err, ErrProvision) = false for %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(report.Results))
	}
	if got := report.Results[0].State; got != StateCompleted {
		t.Errorf("Results[0].State = %s, want Completed", got)
	}

	failed := report.Results[1]
	if failed.State != StateFailed {
		t.Errorf("Results[1].State = %s, want Failed", failed.State)
	}
	var targetErr *TargetError
	if !errors.As(failed.Err, &targetErr) || targetErr.State != StateProvisioning {
		t.Errorf("Results[1].Err = %v, want TargetError in Provisioning", failed.Err)
	}
	var provErr *image.ProvisionError
	if !errors.As(failed.Err, &provErr) || provErr.Op != "pull" {
		t.Errorf("Results[1].Err = %v, want pull ProvisionError", failed.Err)
	}
	if failed.OverallExitCode == 0 {
		t.Error("failed target has exit code 0")
	}
	if !report.Failed() || report.ExitCode() == 0 {
		t.Errorf("report Failed() = %v, ExitCode() = %d", report.Failed(), report.ExitCode())
	}
	if got := eng.Count(enginetest.OpCreateContainer); got != 1 {
		t.Errorf("containers created = %d, want 1", got)
	}
}

func TestRun_InvalidPlaybookCreatesNoContainer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pb   *playbook.Playbook
	}{
		{name: "no automations", pb: playbooktest.New("empty")},
		{name: "only empty automations", pb: playbooktest.New("skip", playbooktest.WithEmptyAutomation("later"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eng := enginetest.New()
			o := newTestOrchestrator(t, eng)

			report, err := o.Run(t.Context(), tt.pb, targets("Linux"))
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Run() error = %v, want ErrConfig", err)
			}
			if report != nil {
				t.Errorf("report = %+v, want nil", report)
			}
			if calls := eng.Calls(); len(calls) != 0 {
				t.Errorf("engine calls = %+v, want none", calls)
			}
		})
	}
}

func TestRun_UnparsableStepStillRuns(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("prose", "Install the tools (see docs).", "echo after"), targets("Linux"))
	if report == nil {
		t.Fatalf("Run() report = nil, error = %v", err)
	}
	res := report.Results[0]
	if res.State != StateCompleted || len(res.StepResults) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.StepResults[0].ExitCode == 0 {
		t.Errorf("first step exit code = 0, want the shell's parse failure")
	}
	if res.StepResults[1].Stdout != "after\n" {
		t.Errorf("second step stdout = %q", res.StepResults[1].Stdout)
	}
	if got := eng.Count(enginetest.OpCreateContainer); got != 1 {
		t.Errorf("containers created = %d, want 1", got)
	}
}

func TestRun_StepsRunInOrderInOneContainer(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)
	pb := playbooktest.New("order",
		playbooktest.WithAutomation("first",
			playbooktest.Env("Linux"),
			playbooktest.Step("a", "echo a"),
			playbooktest.Step("b", "echo b"),
		),
		playbooktest.WithEmptyAutomation("skipped"),
		playbooktest.WithAutomation("second",
			playbooktest.Step("c", "echo c"),
		),
	)

	report, err := o.Run(t.Context(), pb, targets("Linux"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	created := eng.Containers()
	if len(created) != 1 {
		t.Fatalf("containers = %d, want 1", len(created))
	}
	if got := len(created[0].Execs); got != 3 {
		t.Errorf("execs = %d, want 3", got)
	}

	var scripts []string
	for _, c := range eng.Calls() {
		if c.Op == enginetest.OpCreateExec {
			if c.Target != string(created[0].ID) {
				t.Errorf("exec in %s, want %s", c.Target, created[0].ID)
			}
			scripts = append(scripts, c.Cmd[len(c.Cmd)-1])
		}
	}
	if got := strings.Join(scripts, ","); got != "echo a,echo b,echo c" {
		t.Errorf("exec order = %s", got)
	}

	var titles []string
	for _, s := range report.Results[0].StepResults {
		titles = append(titles, s.Automation+"/"+s.StepTitle)
	}
	if got := strings.Join(titles, ","); got != "first/a,first/b,second/c" {
		t.Errorf("step results = %s", got)
	}
}

func TestRun_UnknownOS(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("sol", "true"), targets("solaris"))
	if !errors.Is(err, ErrUnknownOS) {
		t.Fatalf("Run() error = %v, want ErrUnknownOS", err)
	}
	var targetErr *TargetError
	if !errors.As(report.Results[0].Err, &targetErr) || targetErr.State != StateResolving {
		t.Errorf("Err = %v, want TargetError in Resolving", report.Results[0].Err)
	}
	if got := eng.Count(enginetest.OpCreateContainer); got != 0 {
		t.Errorf("containers created = %d, want 0", got)
	}
	if got := eng.Count(enginetest.OpPullImage); got != 0 {
		t.Errorf("pulls = %d, want 0", got)
	}
}

func TestRun_FailurePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy      FailurePolicy
		wantResults int
	}{
		{policy: FailureContinue, wantResults: 2},
		{policy: FailureFailFast, wantResults: 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()

			eng := enginetest.New()
			o := newTestOrchestrator(t, eng, WithFailurePolicy(tt.policy))

			report, err := o.Run(t.Context(), playbooktest.Script("ff", "true"), targets("solaris", "Linux"))
			if err == nil {
				t.Fatal("Run() error = nil")
			}
			if len(report.Results) != tt.wantResults {
				t.Errorf("len(Results) = %d, want %d", len(report.Results), tt.wantResults)
			}
		})
	}
}

func TestRun_StepPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy    StepPolicy
		wantSteps int
	}{
		{policy: StepContinue, wantSteps: 2},
		{policy: StepStopOnFailure, wantSteps: 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()

			eng := enginetest.New()
			o := newTestOrchestrator(t, eng, WithStepPolicy(tt.policy))

			report, err := o.Run(t.Context(), playbooktest.Script("steps", "exit 3", "echo after"), targets("Linux"))
			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("Run() error = %v, want *RunError", err)
			}

			res := report.Results[0]
			if res.State != StateCompleted {
				t.Errorf("State = %s, want Completed", res.State)
			}
			if len(res.StepResults) != tt.wantSteps {
				t.Errorf("len(StepResults) = %d, want %d", len(res.StepResults), tt.wantSteps)
			}
			if res.OverallExitCode != 3 || report.ExitCode() != 3 {
				t.Errorf("exit codes = %d / %d, want 3", res.OverallExitCode, report.ExitCode())
			}
		})
	}
}

func TestRun_NameCollision(t *testing.T) {
	t.Parallel()

	name := ContainerName("clash", "Linux")
	eng := enginetest.New(enginetest.WithContainer(name))
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("clash", "true"), targets("Linux"))
	if !errors.Is(err, ErrLifecycle) {
		t.Fatalf("Run() error = %v, want ErrLifecycle", err)
	}
	if !errors.Is(err, container.ErrNameConflict) {
		t.Errorf("errors.Is(err, ErrNameConflict) = false for %v", err)
	}
	var targetErr *TargetError
	if !errors.As(report.Results[0].Err, &targetErr) || targetErr.State != StateStarting {
		t.Errorf("Err = %v, want TargetError in Starting", report.Results[0].Err)
	}
	live := eng.Live()
	if len(live) != 1 || live[0].Options.Name != name {
		t.Errorf("live containers = %+v, want only the existing one", live)
	}
}

func TestRun_BootFailureCarriesLogs(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(enginetest.ExitOnStart("kernel panic: no init"))
	o := newTestOrchestrator(t, eng)

	_, err := o.Run(t.Context(), playbooktest.Script("boot", "true"), targets("Linux"))
	var lcErr *LifecycleError
	if !errors.As(err, &lcErr) {
		t.Fatalf("Run() error = %v, want *LifecycleError", err)
	}
	if !strings.Contains(lcErr.Logs, "kernel panic") {
		t.Errorf("Logs = %q", lcErr.Logs)
	}
	if live := eng.Live(); len(live) != 0 {
		t.Errorf("containers left behind: %+v", live)
	}
}

func TestRun_StepTimeout(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng, WithStepTimeout(50*time.Millisecond))

	start := time.Now()
	report, err := o.Run(t.Context(), playbooktest.Script("slow", "echo started", "sleep 10"), targets("Linux"))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %s", elapsed)
	}
	if !errors.Is(err, ErrExec) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want ErrExec wrapping DeadlineExceeded", err)
	}

	res := report.Results[0]
	var targetErr *TargetError
	if !errors.As(res.Err, &targetErr) || targetErr.Step != "step 2" || targetErr.State != StateExecuting {
		t.Errorf("Err = %v, want TargetError for step 2 in Executing", res.Err)
	}
	if len(res.StepResults) != 2 || res.StepResults[0].Stdout != "started\n" {
		t.Errorf("StepResults = %+v", res.StepResults)
	}
	if live := eng.Live(); len(live) != 0 {
		t.Errorf("containers left behind: %+v", live)
	}
}

func TestRun_KeepContainers(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng, WithKeepContainers(true))

	if _, err := o.Run(t.Context(), playbooktest.Script("keep", "true"), targets("Linux")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	live := eng.Live()
	if len(live) != 1 {
		t.Fatalf("live containers = %d, want 1", len(live))
	}
	labels := live[0].Options.Labels
	if labels[LabelPlaybook] != "keep" || labels[LabelTarget] != "Linux" || labels[LabelRun] == "" {
		t.Errorf("labels = %v", labels)
	}
}

func TestRun_KeepContainersDistinctTargets(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng, WithKeepContainers(true))

	tgts := []image.TargetDescriptor{
		image.ImageTarget("mcr.microsoft.com/windows/servercore:ltsc2019"),
		image.ImageTarget("mcr.microsoft.com/windows/servercore:ltsc2022"),
	}
	report, err := o.Run(t.Context(), playbooktest.Script("pb", "true"), tgts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, res := range report.Results {
		if res.State != StateCompleted {
			t.Errorf("%s: State = %s, Err = %v", res.Target, res.State, res.Err)
		}
	}
	if live := eng.Live(); len(live) != 2 {
		t.Errorf("live containers = %d, want 2", len(live))
	}
}

func TestRun_WaitsForLaggingExec(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(enginetest.WithExecPolls(3))
	o := newTestOrchestrator(t, eng)

	report, err := o.Run(t.Context(), playbooktest.Script("lag", "exit 0"), targets("Linux"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := report.Results[0].StepResults[0].ExitCode; got != 0 {
		t.Errorf("ExitCode = %d", got)
	}
	if got := eng.Count(enginetest.OpInspectExec); got < 4 {
		t.Errorf("InspectExec calls = %d, want at least 4", got)
	}
}

func TestRun_StreamsOutput(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		chunks []StepOutput
	)
	eng := enginetest.New()
	o := newTestOrchestrator(t, eng, WithOutput(func(out StepOutput) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, out)
	}))

	if _, err := o.Run(t.Context(), playbooktest.Script("live", "echo out; echo err >&2"), targets("Linux")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var stdout, stderr strings.Builder
	for _, c := range chunks {
		if c.Container != ContainerName("live", "Linux") || c.Step.Step.Title != "step 1" {
			t.Errorf("chunk attribution = %q / %q", c.Container, c.Step)
		}
		switch c.Chunk.Origin {
		case logstream.Stdout:
			stdout.Write(c.Chunk.Data)
		case logstream.Stderr:
			stderr.Write(c.Chunk.Data)
		}
	}
	if stdout.String() != "out\n" || stderr.String() != "err\n" {
		t.Errorf("streamed = (%q, %q)", stdout.String(), stderr.String())
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	eng := enginetest.New()
	o := newTestOrchestrator(t, eng)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	report, err := o.Run(ctx, playbooktest.Script("cancel", "true"), targets("Linux"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("Results = %+v, want none", report.Results)
	}
	if calls := eng.Calls(); len(calls) != 0 {
		t.Errorf("engine calls = %+v", calls)
	}
}

func TestParsePolicies(t *testing.T) {
	t.Parallel()

	if p, err := ParseFailurePolicy("Fail-Fast"); err != nil || p != FailureFailFast {
		t.Errorf("ParseFailurePolicy(Fail-Fast) = %q, %v", p, err)
	}
	if p, err := ParseFailurePolicy(""); err != nil || p != FailureContinue {
		t.Errorf("ParseFailurePolicy(\"\") = %q, %v", p, err)
	}
	if _, err := ParseFailurePolicy("sometimes"); err == nil {
		t.Error("ParseFailurePolicy(sometimes) error = nil")
	}
	if p, err := ParseStepPolicy("stop-on-failure"); err != nil || p != StepStopOnFailure {
		t.Errorf("ParseStepPolicy(stop-on-failure) = %q, %v", p, err)
	}
	if _, err := ParseStepPolicy("halt"); err == nil {
		t.Error("ParseStepPolicy(halt) error = nil")
	}
}
