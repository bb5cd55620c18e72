// SPDX-License-Identifier: MPL-2.0

package playbook

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig is wrapped by every manifest loading and validation failure.
var ErrConfig = errors.New("invalid playbook configuration")

type (
	// Playbook is the root unit loaded from a manifest.
	Playbook struct {
		Name        string       `json:"name,omitempty"`
		Automations []Automation `json:"automations"`

		// Path is the manifest file the playbook was loaded from.
		Path string `json:"-"`
	}

	// Automation is a titled unit within a playbook. Content may be absent,
	// in which case the automation is skipped.
	Automation struct {
		Name    string             `json:"name"`
		Content *AutomationContent `json:"content,omitempty"`
	}

	// AutomationContent holds the runnable part of an automation.
	AutomationContent struct {
		Description string `json:"description,omitempty"`
		// Env is the target-OS hint ("Linux", "macOS", "Windows").
		Env   string `json:"env,omitempty"`
		Steps []Step `json:"steps"`
	}

	// Step is one shell command plus metadata.
	Step struct {
		Title           string `json:"title"`
		Description     string `json:"description,omitempty"`
		Runner          string `json:"runner"`
		ApprovalMessage string `json:"approval_message,omitempty"`
		Content         string `json:"content"`
	}

	// ScheduledStep is a step together with its position in the playbook.
	ScheduledStep struct {
		Automation string
		Index      int
		Step       Step
	}

	// ConfigError describes a manifest that cannot be loaded or run.
	// It matches ErrConfig with errors.Is.
	ConfigError struct {
		Path  string
		Field string
		Err   error
	}
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("playbook configuration")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Field != "" {
		b.WriteString(": " + e.Field)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both ErrConfig and the underlying cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfig}
	}
	return []error{ErrConfig, e.Err}
}

// Steps returns every step of every automation that has content, in file order.
func (p *Playbook) Steps() []ScheduledStep {
	var steps []ScheduledStep
	for _, a := range p.Automations {
		if a.Content == nil {
			continue
		}
		for i, s := range a.Content.Steps {
			steps = append(steps, ScheduledStep{Automation: a.Name, Index: i, Step: s})
		}
	}
	return steps
}

// Skipped returns the names of automations without content.
func (p *Playbook) Skipped() []string {
	var names []string
	for _, a := range p.Automations {
		if a.Content == nil {
			names = append(names, a.Name)
		}
	}
	return names
}

// EnvHint returns the first env hint declared by an automation with content,
// or "" when no automation declares one.
func (p *Playbook) EnvHint() string {
	for _, a := range p.Automations {
		if a.Content != nil && strings.TrimSpace(a.Content.Env) != "" {
			return strings.TrimSpace(a.Content.Env)
		}
	}
	return ""
}

// Command returns the argv used to run the step inside a container.
func (s Step) Command() []string {
	return []string{"/bin/sh", "-c", s.Content}
}

// String identifies the step in logs and errors.
func (s ScheduledStep) String() string {
	return fmt.Sprintf("%s/%s", s.Automation, s.Step.Title)
}
