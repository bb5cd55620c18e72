// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"

	"github.com/pbtest/pbtest/internal/config"
)

// newLogger returns a slog logger backed by a charmbracelet/log handler.
// verbose forces debug level and timestamps; otherwise level is a config
// log_level, with unknown values falling back to info.
func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          config.AppName,
		ReportTimestamp: verbose,
	})
	return slog.New(handler)
}
