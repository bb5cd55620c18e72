// SPDX-License-Identifier: MPL-2.0

package image

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// SourceExplicit marks an image supplied by the caller.
	SourceExplicit Source = "image"
	// SourceAlias marks an image found through the caller's OS alias.
	SourceAlias Source = "alias"
	// SourceEnvHint marks an image found through the playbook's env hint.
	SourceEnvHint Source = "env"
)

// ErrUnknownOS is wrapped by UnknownOSError.
var ErrUnknownOS = errors.New("unknown OS")

type (
	// Source records which input produced a Resolution.
	Source string

	// TargetDescriptor names where a playbook runs: an OS alias, an explicit
	// image reference, or both. An explicit image always wins.
	TargetDescriptor struct {
		Alias string
		Image string
	}

	// Resolution is the outcome of Resolve.
	Resolution struct {
		Image string
		// Alias is the canonical alias that produced the image, if any.
		Alias      string
		Privileged bool
		Source     Source
	}

	// UnknownOSError is returned when no image can be derived for a target.
	UnknownOSError struct {
		// Name is the alias that was not found, or "" when none was given.
		Name  string
		Known []string
	}
)

// Error implements the error interface.
func (e *UnknownOSError) Error() string {
	known := strings.Join(e.Known, ", ")
	if e.Name == "" {
		return fmt.Sprintf("no target OS given and the playbook declares no env hint (known: %s)", known)
	}
	return fmt.Sprintf("unknown OS %q (known: %s)", e.Name, known)
}

// Unwrap returns ErrUnknownOS.
func (e *UnknownOSError) Unwrap() error { return ErrUnknownOS }

// ParseTarget parses a command-line target: "Linux", "Linux=ubuntu:24.04".
func ParseTarget(s string) TargetDescriptor {
	alias, ref, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return TargetDescriptor{Alias: alias}
	}
	return TargetDescriptor{Alias: strings.TrimSpace(alias), Image: strings.TrimSpace(ref)}
}

// ImageTarget returns a descriptor for an explicit image reference.
func ImageTarget(ref string) TargetDescriptor {
	return TargetDescriptor{Image: strings.TrimSpace(ref)}
}

// String renders the descriptor the way ParseTarget accepts it.
func (t TargetDescriptor) String() string {
	switch {
	case t.Alias != "" && t.Image != "":
		return t.Alias + "=" + t.Image
	case t.Image != "":
		return t.Image
	default:
		return t.Alias
	}
}

// IsZero reports whether neither alias nor image is set.
func (t TargetDescriptor) IsZero() bool {
	return t.Alias == "" && t.Image == ""
}

// Resolve picks the image for target. Priority: explicit image, caller alias,
// then the playbook's env hint, each alias looked up in table.
func Resolve(target TargetDescriptor, envHint string, table *AliasTable) (Resolution, error) {
	if target.Image != "" {
		res := Resolution{Image: target.Image, Source: SourceExplicit}
		if a, ok := table.Lookup(target.Alias); ok {
			res.Alias = a.Name
			res.Privileged = a.Privileged
		}
		return res, nil
	}

	name, source := target.Alias, SourceAlias
	if strings.TrimSpace(name) == "" {
		name, source = envHint, SourceEnvHint
	}
	if strings.TrimSpace(name) == "" {
		return Resolution{}, &UnknownOSError{Known: table.Names()}
	}

	a, ok := table.Lookup(name)
	if !ok {
		return Resolution{}, &UnknownOSError{Name: name, Known: table.Names()}
	}
	return Resolution{Image: a.Image, Alias: a.Name, Privileged: a.Privileged, Source: source}, nil
}
