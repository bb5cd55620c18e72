// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pbtest/pbtest/internal/issue"
	"github.com/pbtest/pbtest/internal/packages"
)

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List playbooks installed in the runtime directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(err, issue.ConfigLoadFailedId)
			}

			manager := packages.NewManager(cfg.RuntimeDir)
			names, err := manager.Installed()
			if err != nil {
				return app.fail(err, 0)
			}
			if len(names) == 0 {
				fmt.Fprintf(app.stdout, "No playbooks installed in %s\n", SubtitleStyle.Render(manager.Root()))
				return nil
			}

			invalid := make(map[int]bool)
			rows := make([][]string, 0, len(names))
			for i, name := range names {
				pb, err := manager.Lookup(name)
				if err != nil {
					app.logger.Debug("playbook failed to load", "playbook", name, "error", err)
					invalid[i] = true
					rows = append(rows, []string{name, "-", "-", "-", "invalid"})
					continue
				}
				hint := pb.EnvHint()
				if hint == "" {
					hint = "-"
				}
				rows = append(rows, []string{
					name,
					strconv.Itoa(len(pb.Automations)),
					strconv.Itoa(len(pb.Steps())),
					hint,
					"ok",
				})
			}

			t := table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
				Headers("NAME", "AUTOMATIONS", "STEPS", "ENV", "STATUS").
				Rows(rows...).
				StyleFunc(func(row, col int) lipgloss.Style {
					switch {
					case row == table.HeaderRow:
						return headerStyle
					case col == 4 && invalid[row]:
						return cellStyle.Foreground(ColorError)
					default:
						return cellStyle
					}
				})
			fmt.Fprintln(app.stdout, t.Render())
			return nil
		},
	}
}
