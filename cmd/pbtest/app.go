// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pbtest/pbtest/internal/config"
	"github.com/pbtest/pbtest/internal/container"
)

type (
	// EngineFactory opens a container engine of the requested type.
	EngineFactory func(ctx context.Context, t container.EngineType) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reaches configuration and engines through it.
	App struct {
		Config    config.Provider
		NewEngine EngineFactory
		stdout    io.Writer
		stderr    io.Writer

		verbose bool
		cfgFile string
		logger  *slog.Logger
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    config.Provider
		NewEngine EngineFactory
		Stdout    io.Writer
		Stderr    io.Writer
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:    deps.Config,
		NewEngine: deps.NewEngine,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewEngine == nil {
		app.NewEngine = container.NewEngine
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	app.logger = newLogger(app.stderr, config.LogLevelWarn, false)
	return app
}

// loadConfig loads configuration honoring --config and configures the logger
// from --verbose or log_level.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return nil, err
	}
	a.logger = newLogger(a.stderr, cfg.LogLevel, a.verbose)
	return cfg, nil
}
