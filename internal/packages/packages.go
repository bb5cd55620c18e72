// SPDX-License-Identifier: MPL-2.0

package packages

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/pbtest/pbtest/internal/image"
	"github.com/pbtest/pbtest/pkg/platform"
	"github.com/pbtest/pbtest/pkg/playbook"
)

// ImagesFile holds OS alias overrides at the runtime directory root.
const ImagesFile = "images.yaml"

// ErrNotInstalled is wrapped when a playbook name is not installed.
var ErrNotInstalled = errors.New("playbook not installed")

type (
	// Manager looks up playbooks under one runtime directory.
	Manager struct {
		root string
	}

	// imagesDocument is the images.yaml layout:
	//
	//	images:
	//	  - name: Linux
	//	    image: debian:stable
	//	  - name: macOS
	//	    image: sickcodes/docker-osx:ventura
	//	    privileged: true
	imagesDocument struct {
		Images []image.Alias `yaml:"images"`
	}
)

// NewManager creates a manager for root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the runtime directory.
func (m *Manager) Root() string { return m.root }

// Installed returns the names of installed playbooks, sorted. A missing
// runtime directory has none.
func (m *Manager) Installed() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime directory %s: %w", m.root, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := playbook.FindManifest(filepath.Join(m.root, e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Lookup loads the installed playbook name. A name that is not installed
// yields a *playbook.ConfigError wrapping ErrNotInstalled.
func (m *Manager) Lookup(name string) (*playbook.Playbook, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." || platform.IsWindowsReservedName(name) {
		return nil, &playbook.ConfigError{Path: m.root, Field: "playbook", Err: fmt.Errorf("invalid playbook name %q", name)}
	}

	dir := filepath.Join(m.root, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, &playbook.ConfigError{Path: dir, Err: fmt.Errorf("%w: %s", ErrNotInstalled, name)}
	}
	return playbook.LoadDir(dir)
}

// ImageOverrides reads images.yaml. A missing file yields no overrides.
func (m *Manager) ImageOverrides() ([]image.Alias, error) {
	path := filepath.Join(m.root, ImagesFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &playbook.ConfigError{Path: path, Err: err}
	}

	var doc imagesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &playbook.ConfigError{Path: path, Err: err}
	}
	for i, a := range doc.Images {
		if a.Name == "" || a.Image == "" {
			return nil, &playbook.ConfigError{
				Path:  path,
				Field: fmt.Sprintf("images[%d]", i),
				Err:   errors.New("name and image are required"),
			}
		}
	}
	return doc.Images, nil
}
