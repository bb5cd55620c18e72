// SPDX-License-Identifier: MPL-2.0

package playbook

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Validate checks that the playbook is runnable: it needs at least one
// automation with content, at least one step overall, and no step with blank
// content. Step content is not checked here; the target's shell decides what
// it accepts and reports failures through the step exit code.
func (p *Playbook) Validate() error {
	if len(p.Automations) == 0 {
		return &ConfigError{Path: p.Path, Field: "automations", Err: errors.New("playbook declares no automations")}
	}

	withContent := 0
	var errs []error
	for ai, a := range p.Automations {
		if a.Content == nil {
			continue
		}
		withContent++
		for si, s := range a.Content.Steps {
			if strings.TrimSpace(s.Content) == "" {
				field := fmt.Sprintf("automations[%d].content.steps[%d]", ai, si)
				errs = append(errs, &ConfigError{Path: p.Path, Field: field, Err: fmt.Errorf("step %q has no content", s.Title)})
			}
		}
	}

	if withContent == 0 {
		return &ConfigError{Path: p.Path, Field: "automations", Err: errors.New("no automation has content")}
	}
	if len(p.Steps()) == 0 {
		return &ConfigError{Path: p.Path, Field: "automations", Err: errors.New("playbook has no steps")}
	}
	return errors.Join(errs...)
}

// LintIssue describes a step whose content no known shell dialect parses.
type LintIssue struct {
	Automation string
	Step       string
	Err        error
}

// Error implements the error interface.
func (i LintIssue) Error() string {
	return fmt.Sprintf("%s/%s: %v", i.Automation, i.Step, i.Err)
}

// Lint parses every step's content as bash, the widest dialect the shell
// parser accepts. Issues are advisory: such steps still run.
func (p *Playbook) Lint() []LintIssue {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	var issues []LintIssue
	for _, s := range p.Steps() {
		if _, err := parser.Parse(strings.NewReader(s.Step.Content), s.Step.Title); err != nil {
			issues = append(issues, LintIssue{Automation: s.Automation, Step: s.Step.Title, Err: err})
		}
	}
	return issues
}
