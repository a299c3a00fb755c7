// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package xdg resolves Patchbay's XDG Base Directory paths.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "patchbay"

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns $XDG_CONFIG_HOME/patchbay, defaulting to ~/.config.
func ConfigDir() string { return dir("XDG_CONFIG_HOME", ".config") }

// DataDir returns $XDG_DATA_HOME/patchbay, defaulting to ~/.local/share.
func DataDir() string { return dir("XDG_DATA_HOME", ".local", "share") }

// StateDir returns $XDG_STATE_HOME/patchbay, defaulting to ~/.local/state.
func StateDir() string { return dir("XDG_STATE_HOME", ".local", "state") }

// CacheDir returns $XDG_CACHE_HOME/patchbay, defaulting to ~/.cache.
func CacheDir() string { return dir("XDG_CACHE_HOME", ".cache") }

// ConfigFile is the default configuration file.
func ConfigFile() string { return filepath.Join(ConfigDir(), "config.yaml") }

// PluginsDir is the default plugin search path.
func PluginsDir() string { return filepath.Join(DataDir(), "plugins") }

// CatalogCache is the default catalog cache file.
func CatalogCache() string { return filepath.Join(CacheDir(), "catalog.yaml") }

// DeadMansPedal is the default marker file written while probing plugins.
func DeadMansPedal() string { return filepath.Join(StateDir(), "scan.pedal") }

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrap(err)
	}
	return nil
}
