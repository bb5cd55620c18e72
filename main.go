// SPDX-License-Identifier: MPL-2.0

// Command pbtest runs playbooks inside disposable OS containers.
package main

import cmd "github.com/pbtest/pbtest/cmd/pbtest"

func main() {
	cmd.Execute()
}
