// SPDX-License-Identifier: MPL-2.0

package playbook

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"

	"github.com/pbtest/pbtest/pkg/cueutil"
)

//go:embed playbook_schema.cue
var playbookSchema []byte

// ErrNoManifest is wrapped when a directory holds no manifest.
var ErrNoManifest = errors.New("no playbook.yaml or playbook.yml found")

// ManifestNames lists the accepted manifest file names, in lookup order.
var ManifestNames = []string{"playbook.yaml", "playbook.yml"}

// FindManifest returns the manifest path inside dir.
func FindManifest(dir string) (string, error) {
	for _, name := range ManifestNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", &ConfigError{Path: dir, Err: ErrNoManifest}
}

// LoadDir loads the manifest found in dir. The directory name is used as the
// playbook name when the manifest does not set one.
func LoadDir(dir string) (*Playbook, error) {
	path, err := FindManifest(dir)
	if err != nil {
		return nil, err
	}
	return Load(path, filepath.Base(dir))
}

// Load reads and parses the manifest at path.
func Load(path, defaultName string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return Parse(data, path, defaultName)
}

// Parse parses manifest bytes. path is only used in error messages.
// The returned playbook is schema-valid but not yet checked with Validate.
func Parse(data []byte, path, defaultName string) (*Playbook, error) {
	res, err := cueutil.ParseYAMLAndDecode[Playbook](playbookSchema, data, "#Playbook", cueutil.WithFilename(path))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	pb := res.Value
	pb.Path = path
	if pb.Name == "" {
		pb.Name = defaultName
	}
	return pb, nil
}
