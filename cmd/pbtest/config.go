// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pbtest/pbtest/internal/config"
	"github.com/pbtest/pbtest/internal/issue"
)

// newConfigCommand creates the `pbtest config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pbtest configuration",
		Long: `Manage pbtest configuration.

Configuration is stored in:
  - Linux: ~/.config/pbtest/config.cue
  - macOS: ~/Library/Application Support/pbtest/config.cue
  - Windows: %APPDATA%\pbtest\config.cue

Every key can be overridden with a ` + config.EnvPrefix + `_<KEY> environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return app.fail(err, issue.ConfigLoadFailedId)
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Configuration file:"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfigPath(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(err, issue.ConfigLoadFailedId)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err, issue.ConfigLoadFailedId)
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	line := func(key, value string) {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render(key), valueStyle.Render(value))
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)
	line("runtime_dir", cfg.RuntimeDir)
	line("container_engine", string(cfg.ContainerEngine))
	line("failure_policy", string(cfg.FailurePolicy))
	line("step_policy", string(cfg.StepPolicy))
	line("step_timeout", cfg.StepTimeout.String())
	line("pull_timeout", cfg.PullTimeout.String())
	line("keep_containers", fmt.Sprint(cfg.KeepContainers))
	line("log_level", cfg.LogLevel)

	if len(cfg.Images) > 0 {
		fmt.Fprintln(app.stdout)
		fmt.Fprintln(app.stdout, keyStyle.Render("images:"))
		names := make([]string, 0, len(cfg.Images))
		for name := range cfg.Images {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(app.stdout, "  %s: %s\n", name, valueStyle.Render(cfg.Images[name]))
		}
	}
	return nil
}

func showConfigPath(ctx context.Context, app *App) error {
	_, source, err := config.LoadWithSource(ctx, config.LoadOptions{ConfigFilePath: app.cfgFile})
	if err != nil {
		return app.fail(err, issue.ConfigLoadFailedId)
	}
	if source != "" {
		fmt.Fprintln(app.stdout, source)
		return nil
	}

	dir, err := config.ConfigDir()
	if err != nil {
		return app.fail(err, 0)
	}
	path := filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt)
	fmt.Fprintf(app.stdout, "%s %s\n", path, SubtitleStyle.Render("(not created, using defaults)"))
	return nil
}
