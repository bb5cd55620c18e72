// SPDX-License-Identifier: MPL-2.0

package image

import (
	"maps"
	"slices"
	"strings"
)

// Canonical OS alias names.
const (
	AliasLinux   = "Linux"
	AliasMacOS   = "macOS"
	AliasWindows = "Windows"
)

// synonyms maps alternative OS names to the key of a canonical alias.
var synonyms = map[string]string{
	"osx":    "macos",
	"darwin": "macos",
}

type (
	// Alias binds an OS name to an image reference.
	Alias struct {
		Name  string `yaml:"name" json:"name"`
		Image string `yaml:"image" json:"image"`
		// Privileged marks images that need extended host privileges,
		// such as nested-virtualization macOS images.
		Privileged bool `yaml:"privileged" json:"privileged"`
	}

	// AliasTable maps OS aliases to images. Lookups are case-insensitive.
	// Tables are immutable; With returns a modified copy.
	AliasTable struct {
		entries map[string]Alias
		order   []string
	}
)

// DefaultAliases returns the built-in alias definitions.
func DefaultAliases() []Alias {
	return []Alias{
		{Name: AliasLinux, Image: "ubuntu:latest"},
		{Name: AliasMacOS, Image: "sickcodes/docker-osx", Privileged: true},
		{Name: AliasWindows, Image: "mcr.microsoft.com/windows/servercore:ltsc2019"},
	}
}

// DefaultAliasTable returns a table holding DefaultAliases.
func DefaultAliasTable() *AliasTable {
	return NewAliasTable(DefaultAliases()...)
}

// NewAliasTable builds a table. Later aliases replace earlier ones with the
// same name.
func NewAliasTable(aliases ...Alias) *AliasTable {
	t := &AliasTable{entries: make(map[string]Alias, len(aliases))}
	for _, a := range aliases {
		t.set(a)
	}
	return t
}

// Lookup finds an alias by name, ignoring case. "osx" and "darwin" find the
// macOS entry unless the table defines them itself.
func (t *AliasTable) Lookup(name string) (Alias, bool) {
	k := key(name)
	if a, ok := t.entries[k]; ok {
		return a, true
	}
	if canonical, ok := synonyms[k]; ok {
		a, ok := t.entries[canonical]
		return a, ok
	}
	return Alias{}, false
}

// With returns a copy of t with overrides applied. An override for an existing
// alias keeps the canonical name and replaces the image; the privileged flag
// is kept when either side sets it. Overrides with an empty image are ignored.
func (t *AliasTable) With(overrides ...Alias) *AliasTable {
	next := NewAliasTable(t.Aliases()...)
	for _, o := range overrides {
		if strings.TrimSpace(o.Image) == "" || strings.TrimSpace(o.Name) == "" {
			continue
		}
		if existing, ok := next.Lookup(o.Name); ok {
			existing.Image = o.Image
			existing.Privileged = existing.Privileged || o.Privileged
			next.set(existing)
			continue
		}
		next.set(o)
	}
	return next
}

// WithImages applies name→image overrides, as found in configuration.
func (t *AliasTable) WithImages(images map[string]string) *AliasTable {
	overrides := make([]Alias, 0, len(images))
	for _, name := range slices.Sorted(maps.Keys(images)) {
		overrides = append(overrides, Alias{Name: name, Image: images[name]})
	}
	return t.With(overrides...)
}

// Aliases returns the table entries in insertion order.
func (t *AliasTable) Aliases() []Alias {
	out := make([]Alias, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.entries[k])
	}
	return out
}

// Names returns the alias names in insertion order.
func (t *AliasTable) Names() []string {
	names := make([]string, 0, len(t.order))
	for _, k := range t.order {
		names = append(names, t.entries[k].Name)
	}
	return names
}

func (t *AliasTable) set(a Alias) {
	k := key(a.Name)
	if _, exists := t.entries[k]; !exists {
		t.order = append(t.order, k)
	}
	t.entries[k] = a
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
