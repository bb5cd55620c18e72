// SPDX-License-Identifier: MPL-2.0

package playbooktest

import (
	"fmt"

	"github.com/pbtest/pbtest/pkg/playbook"
)

type (
	// Option configures a test playbook.
	Option func(*playbook.Playbook)

	// AutomationOption configures the content of a test automation.
	AutomationOption func(*playbook.AutomationContent)
)

// New creates a playbook named name. Without options it has no automations
// and fails validation.
func New(name string, opts ...Option) *playbook.Playbook {
	pb := &playbook.Playbook{Name: name}
	for _, opt := range opts {
		opt(pb)
	}
	return pb
}

// Script creates a playbook with one Linux automation running each command
// as its own step, titled "step 1", "step 2" and so on.
func Script(name string, commands ...string) *playbook.Playbook {
	opts := []AutomationOption{Env("Linux")}
	for i, c := range commands {
		opts = append(opts, Step(fmt.Sprintf("step %d", i+1), c))
	}
	return New(name, WithAutomation("main", opts...))
}

// WithAutomation appends an automation with content.
func WithAutomation(name string, opts ...AutomationOption) Option {
	return func(pb *playbook.Playbook) {
		content := &playbook.AutomationContent{}
		for _, opt := range opts {
			opt(content)
		}
		pb.Automations = append(pb.Automations, playbook.Automation{Name: name, Content: content})
	}
}

// WithEmptyAutomation appends an automation without content.
func WithEmptyAutomation(name string) Option {
	return func(pb *playbook.Playbook) {
		pb.Automations = append(pb.Automations, playbook.Automation{Name: name})
	}
}

// Env sets the automation's target-OS hint.
func Env(env string) AutomationOption {
	return func(c *playbook.AutomationContent) {
		c.Env = env
	}
}

// Step appends a shell step.
func Step(title, content string) AutomationOption {
	return func(c *playbook.AutomationContent) {
		c.Steps = append(c.Steps, playbook.Step{Title: title, Runner: "shell", Content: content})
	}
}
