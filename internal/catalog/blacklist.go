// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gobwas/glob"
)

type blacklistEntry struct {
	pattern string
	glob    glob.Glob
}

// Blacklist holds plugin identities and file paths that scans must skip.
// Entries are gobwas/glob patterns, so "lua:*" excludes every Lua plugin
// and a plain identity or path matches only itself.
//
// Blacklist is safe for concurrent use. The zero value is ready to use.
type Blacklist struct {
	mu      sync.RWMutex
	entries []blacklistEntry
}

// Add compiles and adds a pattern. Adding an existing pattern is a no-op.
func (b *Blacklist) Add(pattern string) error {
	if pattern == "" {
		return errors.New("blacklist pattern cannot be empty")
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("blacklist pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.ContainsFunc(b.entries, func(e blacklistEntry) bool { return e.pattern == pattern }) {
		return nil
	}
	b.entries = append(b.entries, blacklistEntry{pattern: pattern, glob: g})
	return nil
}

// Remove deletes a pattern. It reports whether the pattern was present.
func (b *Blacklist) Remove(pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.entries, func(e blacklistEntry) bool { return e.pattern == pattern })
	if i < 0 {
		return false
	}
	b.entries = slices.Delete(b.entries, i, i+1)
	return true
}

// Clear removes every pattern.
func (b *Blacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Matches reports whether any key matches any pattern.
func (b *Blacklist) Matches(keys ...string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, e := range b.entries {
		for _, k := range keys {
			if k != "" && e.glob.Match(k) {
				return true
			}
		}
	}
	return false
}

// Patterns returns the patterns in insertion order.
func (b *Blacklist) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.pattern
	}
	return out
}
