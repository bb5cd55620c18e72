// SPDX-License-Identifier: MPL-2.0

package image

import (
	"github.com/distribution/reference"
)

// Normalize parses ref into its fully-qualified form, adding the default
// registry, the library/ namespace and the "latest" tag when missing.
// "ubuntu" becomes "docker.io/library/ubuntu:latest".
func Normalize(ref string) (reference.Named, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return nil, err
	}
	return reference.TagNameOnly(named), nil
}

// Matches reports whether the local image with the given tags and digests is
// the one ref names. Repository and tag (or digest) must match exactly after
// normalization.
func Matches(ref reference.Named, repoTags, repoDigests []string) bool {
	want := ref.String()
	for _, candidates := range [][]string{repoTags, repoDigests} {
		for _, c := range candidates {
			local, err := Normalize(c)
			if err != nil {
				continue
			}
			if local.String() == want {
				return true
			}
		}
	}
	return false
}
