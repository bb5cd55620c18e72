// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbtest/pbtest/internal/config"
	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/image"
	"github.com/pbtest/pbtest/internal/issue"
	"github.com/pbtest/pbtest/internal/packages"
	"github.com/pbtest/pbtest/internal/runner"
	"github.com/pbtest/pbtest/pkg/playbook"
	"github.com/pbtest/pbtest/pkg/types"
)

type testFlags struct {
	targets           []image.TargetDescriptor
	failFast          bool
	stopOnStepFailure bool
	keepContainers    bool
	engine            string
}

func newTestCommand(app *App) *cobra.Command {
	var flags testFlags

	cmd := &cobra.Command{
		Use:   "test <playbook>",
		Short: "Run a playbook against one or more target OS images",
		Long: `Run a playbook against one or more target OS images.

<playbook> is a directory containing playbook.yaml, or the name of a
playbook installed under the runtime directory. Without --os or --image the
playbook runs once, on the OS named by its env hint, or on every known OS
when it declares none. Targets run in the order they are given.

` + SubtitleStyle.Render("Targets:") + `
  --os linux              Built-in alias (linux, macos, windows)
  --os linux=debian:12    Alias with an explicit image
  --image alpine:3.20     Explicit image, no alias`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), app, args[0], flags)
		},
	}

	cmd.Flags().Var(&targetFlag{targets: &flags.targets, parse: image.ParseTarget}, "os", "target OS alias, optionally alias=image (repeatable)")
	cmd.Flags().Var(&targetFlag{targets: &flags.targets, parse: image.ImageTarget}, "image", "explicit target image reference (repeatable)")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "stop after the first failed target")
	cmd.Flags().BoolVar(&flags.stopOnStepFailure, "stop-on-step-failure", false, "skip the remaining steps of a target after a non-zero exit")
	cmd.Flags().BoolVar(&flags.keepContainers, "keep-containers", false, "leave target containers behind for inspection")
	cmd.Flags().StringVar(&flags.engine, "engine", "", "container engine: auto, docker or podman (default from config)")

	return cmd
}

func runTest(ctx context.Context, app *App, ref string, flags testFlags) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err, issue.ConfigLoadFailedId)
	}

	manager := packages.NewManager(cfg.RuntimeDir)
	pb, err := resolvePlaybook(manager, ref)
	if err != nil {
		return app.fail(err, classifyError(err))
	}

	overrides, err := manager.ImageOverrides()
	if err != nil {
		return app.fail(err, issue.ConfigLoadFailedId)
	}
	aliases := image.DefaultAliasTable().WithImages(cfg.Images).With(overrides...)

	opts, err := runOptions(cfg, flags)
	if err != nil {
		return app.fail(err, 0)
	}

	engineType := cfg.ContainerEngine
	if flags.engine != "" {
		if engineType, err = container.ParseEngineType(flags.engine); err != nil {
			return app.fail(err, 0)
		}
	}
	engine, err := app.NewEngine(ctx, engineType)
	if err != nil {
		return app.fail(err, issue.EngineUnavailableId)
	}
	defer func() { _ = engine.Close() }()
	app.logger.Debug("using container engine", "engine", engine.Name())

	opts = append(opts, runner.WithLogger(app.logger), runner.WithAliasTable(aliases))
	if app.verbose {
		opts = append(opts, runner.WithOutput(newLiveOutput(app.stderr).write))
	}

	report, runErr := runner.New(engine, opts...).Run(ctx, pb, flags.targets)
	if report == nil {
		return app.fail(runErr, classifyError(runErr))
	}

	renderReport(app.stdout, report, app.verbose)

	var failed *runner.RunError
	switch {
	case errors.As(runErr, &failed):
		if id := classifyReport(report); id != 0 {
			renderServiceError(app.stderr, app.logger, newServiceError(runErr, id, ""))
		}
		code := types.ExitCode(report.ExitCode())
		if code.IsSuccess() || code.Validate() != nil {
			code = 1
		}
		return &ExitError{Code: code}
	case runErr != nil:
		return app.fail(runErr, 0)
	}
	return nil
}

// resolvePlaybook loads ref as a playbook directory, falling back to the
// installed playbook of that name.
func resolvePlaybook(manager *packages.Manager, ref string) (*playbook.Playbook, error) {
	if _, err := playbook.FindManifest(ref); err == nil {
		return playbook.LoadDir(ref)
	}
	return manager.Lookup(ref)
}

// runOptions merges configuration with command-line overrides. Flags can
// only tighten the configured policies.
func runOptions(cfg *config.Config, flags testFlags) ([]runner.Option, error) {
	failurePolicy, err := runner.ParseFailurePolicy(string(cfg.FailurePolicy))
	if err != nil {
		return nil, err
	}
	if flags.failFast {
		failurePolicy = runner.FailureFailFast
	}

	stepPolicy, err := runner.ParseStepPolicy(string(cfg.StepPolicy))
	if err != nil {
		return nil, err
	}
	if flags.stopOnStepFailure {
		stepPolicy = runner.StepStopOnFailure
	}

	return []runner.Option{
		runner.WithFailurePolicy(failurePolicy),
		runner.WithStepPolicy(stepPolicy),
		runner.WithKeepContainers(cfg.KeepContainers || flags.keepContainers),
		runner.WithStepTimeout(cfg.StepTimeout),
		runner.WithPullTimeout(cfg.PullTimeout),
	}, nil
}

// targetFlag appends each --os or --image value to one shared list, so
// targets keep the order they were given in across both flags.
type targetFlag struct {
	targets *[]image.TargetDescriptor
	parse   func(string) image.TargetDescriptor
	values  []string
}

func (f *targetFlag) String() string { return "[" + strings.Join(f.values, ",") + "]" }

func (f *targetFlag) Set(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("target must not be empty")
	}
	f.values = append(f.values, s)
	*f.targets = append(*f.targets, f.parse(s))
	return nil
}

func (f *targetFlag) Type() string { return "stringArray" }

// fail prints err with its issue guide and converts it to exit code 1.
func (a *App) fail(err error, id issue.Id) error {
	styled := fmt.Sprintf("%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, a.verbose))
	renderServiceError(a.stderr, a.logger, newServiceError(err, id, styled))
	return &ExitError{Code: 1}
}
