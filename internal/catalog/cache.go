// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package catalog

import (
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/patchbay/patchbay/internal/plugin"
)

// cacheVersion is the layout written by Save.
const cacheVersion = 1

type cacheFile struct {
	Version   int                 `yaml:"version"`
	SavedAt   time.Time           `yaml:"saved-at"`
	Plugins   []plugin.Descriptor `yaml:"plugins"`
	Blacklist []string            `yaml:"blacklist,omitempty"`
}

// Save writes the known plugins and the blacklist to a YAML file. The file
// is replaced atomically.
func (c *Catalog) Save(path string) error {
	data, err := yaml.Marshal(cacheFile{
		Version:   cacheVersion,
		SavedAt:   time.Now().UTC(),
		Plugins:   c.Plugins(),
		Blacklist: c.Blacklist(),
	})
	if err != nil {
		return oops.In("catalog").Code(CodeCache).Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return oops.In("catalog").Code(CodeCache).With("path", path).Wrap(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalog-*.yaml")
	if err != nil {
		return oops.In("catalog").Code(CodeCache).With("path", path).Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return oops.In("catalog").Code(CodeCache).With("path", path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.In("catalog").Code(CodeCache).With("path", path).Wrap(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return oops.In("catalog").Code(CodeCache).With("path", path).Wrap(err)
	}
	c.logger.Debug("plugin cache saved", "path", path, "plugins", c.Len())
	return nil
}

// Load merges a file written by Save into the catalog. Blacklist entries
// are added first, so cached plugins they match are dropped. A missing file
// is not an error.
func (c *Catalog) Load(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return oops.In("catalog").Code(CodeCache).With("path", path).Wrap(err)
	}

	var cf cacheFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return oops.In("catalog").Code(CodeCache).With("path", path).Hint("malformed plugin cache").Wrap(err)
	}
	if cf.Version != cacheVersion {
		return oops.In("catalog").
			Code(CodeCache).
			With("path", path).
			With("version", cf.Version).
			Errorf("unsupported plugin cache version %d", cf.Version)
	}

	for _, pattern := range cf.Blacklist {
		if err := c.blacklist.Add(pattern); err != nil {
			c.logger.Warn("ignoring invalid cached blacklist entry", "pattern", pattern, "error", err)
		}
	}
	n := c.Add(cf.Plugins...)
	c.logger.Debug("plugin cache loaded", "path", path, "plugins", n)
	return nil
}
