// SPDX-License-Identifier: MPL-2.0

// Package playbooktest provides builders for playbook.Playbook values.
//
// # Usage
//
//	pb := playbooktest.New("smoke",
//	    playbooktest.WithAutomation("setup",
//	        playbooktest.Env("Linux"),
//	        playbooktest.Step("greet", "echo hello"),
//	    ),
//	)
package playbooktest
