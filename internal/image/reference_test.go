// SPDX-License-Identifier: MPL-2.0

package image

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ubuntu", want: "docker.io/library/ubuntu:latest"},
		{in: "ubuntu:latest", want: "docker.io/library/ubuntu:latest"},
		{in: "sickcodes/docker-osx", want: "docker.io/sickcodes/docker-osx:latest"},
		{in: "mcr.microsoft.com/windows/servercore:ltsc2019", want: "mcr.microsoft.com/windows/servercore:ltsc2019"},
		{in: "Ubuntu:latest", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got.String(), tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	ref, err := Normalize("ubuntu")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tags []string
		want bool
	}{
		{name: "short tag", tags: []string{"ubuntu:latest"}, want: true},
		{name: "fully qualified", tags: []string{"docker.io/library/ubuntu:latest"}, want: true},
		{name: "other tag", tags: []string{"ubuntu:22.04"}, want: false},
		{name: "other repo", tags: []string{"debian:latest"}, want: false},
		{name: "same name other registry", tags: []string{"quay.io/ubuntu:latest"}, want: false},
		{name: "garbage ignored", tags: []string{"<none>:<none>", "ubuntu:latest"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Matches(ref, tt.tags, nil); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestMatches_Digest(t *testing.T) {
	t.Parallel()

	const digest = "ubuntu@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	ref, err := Normalize(digest)
	if err != nil {
		t.Fatal(err)
	}
	if !Matches(ref, nil, []string{digest}) {
		t.Error("digest reference should match RepoDigests")
	}
}
