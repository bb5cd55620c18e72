// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"
)

func TestCatalogIsComplete(t *testing.T) {
	t.Parallel()

	values := Values()
	if len(values) != int(ConfigLoadFailedId) {
		t.Fatalf("len(Values()) = %d, want %d", len(values), ConfigLoadFailedId)
	}
	for i, is := range values {
		if is.Id() != Id(i+1) {
			t.Errorf("Values()[%d].Id() = %d", i, is.Id())
		}
		if strings.TrimSpace(string(is.MarkdownMsg())) == "" {
			t.Errorf("issue %d has no guide", is.Id())
		}
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	if Get(UnknownOSId) == nil {
		t.Fatal("Get(UnknownOSId) = nil")
	}
	if Get(Id(999)) != nil {
		t.Error("Get(999) != nil")
	}
}

func TestDocLinksAreCopied(t *testing.T) {
	t.Parallel()

	is := Get(EngineUnavailableId)
	links := is.DocLinks()
	if len(links) == 0 {
		t.Fatal("no doc links")
	}
	links[0] = "changed"
	if is.DocLinks()[0] == "changed" {
		t.Error("DocLinks() exposes internal slice")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	out, err := Get(EngineUnavailableId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "No container engine available") {
		t.Errorf("Render() = %q", out)
	}
	if !strings.Contains(out, "podman.io") {
		t.Error("Render() output lacks doc links")
	}
}
