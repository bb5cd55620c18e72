// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pbtest/pbtest/internal/runner"
	"github.com/pbtest/pbtest/pkg/types"
)

// stderrTailLines bounds the stderr excerpt printed for a failing step.
const stderrTailLines = 5

// renderReport prints the per-target table, the failure details and a
// summary line. Verbose mode also lists passing steps.
func renderReport(w io.Writer, report *runner.TestReport, verbose bool) {
	fmt.Fprintf(w, "%s %s\n\n", TitleStyle.Render("Playbook"), report.Playbook)

	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		rows = append(rows, []string{
			targetLabel(res),
			res.Image,
			res.State.String(),
			stepCounts(res.StepResults),
			strconv.Itoa(res.OverallExitCode),
			res.Duration.Round(time.Millisecond).String(),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Headers("TARGET", "IMAGE", "STATE", "STEPS", "EXIT", "DURATION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(report.Results) {
				if report.Results[row].Failed() {
					return cellStyle.Foreground(ColorError)
				}
				return cellStyle.Foreground(ColorSuccess)
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())

	for _, res := range report.Results {
		renderTargetDetails(w, res, verbose)
	}

	passed, failed := report.Counts()
	summary := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if failed > 0 {
		fmt.Fprintln(w, ErrorStyle.Render("✗ "+summary))
		return
	}
	fmt.Fprintln(w, SuccessStyle.Render("✓ "+summary))
}

func renderTargetDetails(w io.Writer, res runner.TargetRunResult, verbose bool) {
	if !res.Failed() && !verbose {
		return
	}

	fmt.Fprintf(w, "\n%s %s\n", CmdStyle.Render(targetLabel(res)), SubtitleStyle.Render(res.ContainerName))
	for _, step := range res.StepResults {
		name := step.Automation + "/" + step.StepTitle
		if step.Succeeded() {
			if verbose {
				fmt.Fprintf(w, "  %s %s %s\n", SuccessStyle.Render("✓"), name, VerboseStyle.Render(step.Duration.Round(time.Millisecond).String()))
			}
			continue
		}

		fmt.Fprintf(w, "  %s %s exited with code %d\n", ErrorStyle.Render("✗"), name, step.ExitCode)
		if types.ExitCode(step.ExitCode).IsCommandNotFound() {
			fmt.Fprintf(w, "    %s\n", WarningStyle.Render("command not found or not executable: is it installed in "+res.Image+"?"))
		}
		for _, line := range tail(step.Stderr, stderrTailLines) {
			fmt.Fprintf(w, "    %s\n", VerboseStyle.Render(line))
		}
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  %s %v\n", ErrorStyle.Render("✗"), res.Err)
	}
}

func targetLabel(res runner.TargetRunResult) string {
	if label := res.Target.String(); label != "" {
		return label
	}
	return res.Image
}

func stepCounts(steps []runner.StepResult) string {
	passed := 0
	for _, s := range steps {
		if s.Succeeded() {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d", passed, len(steps))
}

// tail returns the last n lines of s.
func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
