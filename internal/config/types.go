// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pbtest/pbtest/internal/container"
	"github.com/pbtest/pbtest/internal/image"
	"github.com/pbtest/pbtest/internal/runner"
)

// Log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Config is the merged pbtest configuration.
type Config struct {
	RuntimeDir      string               `mapstructure:"runtime_dir" json:"runtime_dir" validate:"required"`
	ContainerEngine container.EngineType `mapstructure:"container_engine" json:"container_engine" validate:"oneof=auto docker podman"`
	// Images overrides OS alias images. Keys are matched case-insensitively.
	Images         map[string]string   `mapstructure:"images" json:"images,omitempty" validate:"dive,keys,required,endkeys,required"`
	FailurePolicy  runner.FailurePolicy `mapstructure:"failure_policy" json:"failure_policy" validate:"oneof=continue fail-fast"`
	StepPolicy     runner.StepPolicy    `mapstructure:"step_policy" json:"step_policy" validate:"oneof=continue stop-on-failure"`
	StepTimeout    time.Duration        `mapstructure:"step_timeout" json:"step_timeout" validate:"gte=0"`
	PullTimeout    time.Duration        `mapstructure:"pull_timeout" json:"pull_timeout" validate:"gte=0"`
	KeepContainers bool                 `mapstructure:"keep_containers" json:"keep_containers"`
	LogLevel       string               `mapstructure:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		RuntimeDir:      DefaultRuntimeDir(),
		ContainerEngine: container.EngineTypeAuto,
		FailurePolicy:   runner.FailureContinue,
		StepPolicy:      runner.StepContinue,
		StepTimeout:     runner.DefaultStepTimeout,
		PullTimeout:     image.DefaultPullTimeout,
		LogLevel:        LogLevelInfo,
	}
}

// DefaultRuntimeDir is ~/.pbtest/playbooks, or "" when the home directory
// is unknown.
func DefaultRuntimeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "."+AppName, "playbooks")
}

// PlaybookDir returns the directory of the installed playbook name.
func (c *Config) PlaybookDir(name string) string {
	return filepath.Join(c.RuntimeDir, name)
}
