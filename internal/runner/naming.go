// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	containerPrefix = "pbtest"
	maxSlugLen      = 40
	hashLen         = 8
)

// ContainerName returns the deterministic container name for a playbook run
// against target: pbtest-<playbook>-<target>-<hash>. Both names are slugified
// and bounded; the hash covers the raw inputs so targets that slugify alike
// still get distinct names. The engine rejects a second container with the
// same name, so concurrent runs of the same playbook and target collide
// instead of sharing a container.
func ContainerName(playbookName, target string) string {
	sum := sha256.Sum256([]byte(playbookName + "\x00" + target))
	return containerPrefix + "-" + slug(playbookName) + "-" + slug(target) + "-" + hex.EncodeToString(sum[:])[:hashLen]
}

// slug lowercases s and replaces every run of characters outside [a-z0-9]
// with a single dash.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	if out == "" {
		return "x"
	}
	return out
}
