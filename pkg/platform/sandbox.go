// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"os"
	"slices"
	"sync"
)

// Sandbox type constants.
const (
	// SandboxNone indicates no sandbox environment detected.
	SandboxNone SandboxType = ""
	// SandboxFlatpak indicates a Flatpak sandbox environment.
	SandboxFlatpak SandboxType = "flatpak"
	// SandboxSnap indicates a Snap sandbox environment.
	SandboxSnap SandboxType = "snap"
)

// detectOnce caches detection for the lifetime of the process.
//
// INVARIANT: detectSandboxFrom MUST NOT panic. sync.OnceValue re-panics on
// every later call.
var detectOnce = sync.OnceValue(func() SandboxType {
	return detectSandboxFrom(os.Getenv, statFile)
})

// SandboxType identifies the application sandbox the process runs in, if any.
type SandboxType string

// DetectSandbox returns the sandbox the current process runs in. Flatpak is
// recognized by /.flatpak-info, Snap by SNAP_NAME. The result is cached.
func DetectSandbox() SandboxType {
	return detectOnce()
}

// HostCommand rewrites name and args so the command runs on the host rather
// than inside st. Container engine daemons live on the host, and so do the
// paths and sockets their clients need.
func HostCommand(st SandboxType, name string, args ...string) (string, []string) {
	switch st {
	case SandboxFlatpak:
		return "flatpak-spawn", slices.Concat([]string{"--host", name}, args)
	case SandboxSnap:
		return "snap", slices.Concat([]string{"run", "--shell", name}, args)
	default:
		return name, args
	}
}

func detectSandboxFrom(lookupEnv func(string) string, statFile func(string) error) SandboxType {
	// Flatpak takes precedence.
	if err := statFile("/.flatpak-info"); err == nil {
		return SandboxFlatpak
	}
	if lookupEnv("SNAP_NAME") != "" {
		return SandboxSnap
	}
	return SandboxNone
}

func statFile(path string) error {
	_, err := os.Stat(path)
	return err
}
