// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/pbtest/pbtest/internal/issue"
	"github.com/pbtest/pbtest/pkg/cueutil"
	"github.com/pbtest/pbtest/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "pbtest"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "PBTEST"
)

//go:embed config_schema.cue
var configSchema []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConfigDir returns the platform configuration directory for pbtest:
// %APPDATA%\pbtest on Windows, ~/Library/Application Support/pbtest on macOS
// and $XDG_CONFIG_HOME/pbtest (default ~/.config/pbtest) elsewhere.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case platform.Windows:
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// loadWithOptions merges defaults, the config file and the environment, and
// returns the validated result together with the file that was read ("" when
// none was found).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("runtime_dir", defaults.RuntimeDir)
	v.SetDefault("container_engine", string(defaults.ContainerEngine))
	v.SetDefault("failure_policy", string(defaults.FailurePolicy))
	v.SetDefault("step_policy", string(defaults.StepPolicy))
	v.SetDefault("step_timeout", defaults.StepTimeout)
	v.SetDefault("pull_timeout", defaults.PullTimeout)
	v.SetDefault("keep_containers", defaults.KeepContainers)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Check the values against 'pbtest config show'").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Environment variables " + EnvPrefix + "_* override file values; check them too").
			Wrap(validationError(err)).
			BuildError()
	}

	return &cfg, path, nil
}

// resolveConfigFile picks the explicit file, else config.cue in the config
// directory, else config.cue in the working directory. A missing explicit
// file is an error; otherwise no file at all means defaults only.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'pbtest config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %w", os.ErrNotExist)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	name := ConfigFileName + "." + ConfigFileExt
	for _, candidate := range []string{filepath.Join(dir, name), name} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// loadCUEIntoViper validates the file against #Config and merges it over the
// defaults. Fields stay optional, so the value is not required to be concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path), cueutil.WithConcrete(false))
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// validationError flattens validator output into one line per field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// pbtest configuration\n\n")
	fmt.Fprintf(&sb, "runtime_dir: %q\n", cfg.RuntimeDir)
	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)
	fmt.Fprintf(&sb, "failure_policy: %q\n", cfg.FailurePolicy)
	fmt.Fprintf(&sb, "step_policy: %q\n", cfg.StepPolicy)
	fmt.Fprintf(&sb, "step_timeout: %q\n", cfg.StepTimeout.String())
	fmt.Fprintf(&sb, "pull_timeout: %q\n", cfg.PullTimeout.String())
	fmt.Fprintf(&sb, "keep_containers: %v\n", cfg.KeepContainers)
	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)

	if len(cfg.Images) > 0 {
		sb.WriteString("\nimages: {\n")
		keys := make([]string, 0, len(cfg.Images))
		for k := range cfg.Images {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t%q: %q\n", k, cfg.Images[k])
		}
		sb.WriteString("}\n")
	}

	return sb.String()
}

// CreateDefaultConfig writes the defaults to config.cue in ConfigDir unless
// the file already exists, and returns its path.
func CreateDefaultConfig() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(path) {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
