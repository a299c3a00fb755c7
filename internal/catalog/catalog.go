// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package catalog keeps the list of known plugins. It discovers them by
// scanning directories on a background worker, honours a blacklist and
// answers queries from the control plane.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/broadcast"
	"github.com/patchbay/patchbay/internal/catalog/query"
	"github.com/patchbay/patchbay/internal/plugin"
)

// Error codes.
const (
	CodeScanInProgress = "SCAN_IN_PROGRESS"
	CodeBlacklist      = "CATALOG_BLACKLIST"
	CodeCache          = "CATALOG_CACHE"
)

// ErrScanInProgress is returned by ScanAsync while another scan runs.
var ErrScanInProgress = errors.New("a plugin scan is already in progress")

// FormatSource provides the format backends used to probe files.
type FormatSource interface {
	Formats() []plugin.Format
}

// Catalog is the set of known plugin descriptors keyed by identity.
// It is safe for concurrent use.
type Catalog struct {
	formats FormatSource
	logger  *slog.Logger
	pedal   string
	events  *broadcast.Broadcaster[Event]

	blacklist Blacklist

	mu      sync.RWMutex
	plugins map[string]plugin.Descriptor
	order   []string
	paths   map[string]struct{}

	scanMu   sync.Mutex
	scanning atomic.Bool
	stop     atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDeadMansPedal sets the file the scanner records the file being
// probed in. If the process dies mid-probe the file survives, and the next
// catalog created with the same pedal blacklists the recorded file.
func WithDeadMansPedal(path string) Option {
	return func(c *Catalog) { c.pedal = path }
}

// New creates an empty catalog probing with the formats from src.
func New(src FormatSource, opts ...Option) *Catalog {
	c := &Catalog{
		formats: src,
		logger:  slog.Default(),
		plugins: make(map[string]plugin.Descriptor),
		paths:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = broadcast.New(func(ev Event) {
		c.logger.Debug("dropping scan event for slow subscriber", "kind", ev.Kind.String())
	})
	c.checkDeadMansPedal()
	return c
}

// Subscribe returns a channel receiving scan events. Events for a full
// channel are dropped.
func (c *Catalog) Subscribe(size int) <-chan Event {
	return c.events.Subscribe(size)
}

// Unsubscribe closes and removes a channel returned by Subscribe.
func (c *Catalog) Unsubscribe(ch <-chan Event) {
	c.events.Unsubscribe(ch)
}

// Close stops any running scan and closes every subscriber channel.
func (c *Catalog) Close() {
	c.StopScanning()
	c.events.Close()
}

// checkDeadMansPedal blacklists the file a previous scan died on.
func (c *Catalog) checkDeadMansPedal() {
	if c.pedal == "" {
		return
	}
	data, err := os.ReadFile(filepath.Clean(c.pedal))
	if err != nil {
		return
	}
	if crashed := strings.TrimSpace(string(data)); crashed != "" {
		c.logger.Warn("blacklisting plugin file that crashed a previous scan", "path", crashed)
		_ = c.blacklist.Add(crashed)
	}
	_ = os.Remove(c.pedal)
}

func (c *Catalog) setPedal(path string) {
	if c.pedal == "" {
		return
	}
	if err := os.WriteFile(c.pedal, []byte(path), 0o600); err != nil {
		c.logger.Warn("failed to write dead man's pedal", "path", c.pedal, "error", err)
	}
}

func (c *Catalog) clearPedal() {
	if c.pedal != "" {
		_ = os.Remove(c.pedal)
	}
}

// Add inserts or replaces descriptors. Blacklisted ones are skipped. It
// returns the number of descriptors that were not known before.
func (c *Catalog) Add(descs ...plugin.Descriptor) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, d := range descs {
		if c.blacklist.Matches(d.Identity(), d.Path) {
			continue
		}
		if c.addLocked(d) {
			added++
		}
	}
	return added
}

// RegisterBuiltins adds in-process plugins, which have no file to scan.
func (c *Catalog) RegisterBuiltins(descs []plugin.Descriptor) {
	n := c.Add(descs...)
	c.logger.Debug("registered builtin plugins", "count", n)
}

func (c *Catalog) addLocked(d plugin.Descriptor) bool {
	id := d.Identity()
	_, known := c.plugins[id]
	if !known {
		c.order = append(c.order, id)
	}
	c.plugins[id] = d
	if d.Path != "" {
		c.paths[d.Path] = struct{}{}
	}
	return !known
}

// Remove deletes the descriptor with the given identity.
func (c *Catalog) Remove(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(identity)
}

func (c *Catalog) removeLocked(identity string) bool {
	d, ok := c.plugins[identity]
	if !ok {
		return false
	}
	delete(c.plugins, identity)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == identity })
	if d.Path != "" && !c.pathUsedLocked(d.Path) {
		delete(c.paths, d.Path)
	}
	return true
}

func (c *Catalog) pathUsedLocked(path string) bool {
	for _, d := range c.plugins {
		if d.Path == path {
			return true
		}
	}
	return false
}

// Clear removes every descriptor.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = make(map[string]plugin.Descriptor)
	c.order = nil
	c.paths = make(map[string]struct{})
}

// Len returns the number of known plugins.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plugins)
}

// IsKnownPath reports whether some descriptor came from path.
func (c *Catalog) IsKnownPath(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.paths[path]
	return ok
}

// AddToBlacklist adds an identity, path or glob pattern to the blacklist
// and drops matching known plugins.
func (c *Catalog) AddToBlacklist(pattern string) error {
	if err := c.blacklist.Add(pattern); err != nil {
		return oops.In("catalog").Code(CodeBlacklist).With("pattern", pattern).Wrap(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range slices.Clone(c.order) {
		d := c.plugins[id]
		if c.blacklist.Matches(d.Identity(), d.Path) {
			c.removeLocked(id)
		}
	}
	return nil
}

// RemoveFromBlacklist removes a pattern. Plugins it excluded come back on
// the next scan.
func (c *Catalog) RemoveFromBlacklist(pattern string) bool {
	return c.blacklist.Remove(pattern)
}

// ClearBlacklist removes every blacklist entry.
func (c *Catalog) ClearBlacklist() {
	c.blacklist.Clear()
}

// IsBlacklisted reports whether an identity or path is blacklisted.
func (c *Catalog) IsBlacklisted(key string) bool {
	return c.blacklist.Matches(key)
}

// Blacklist returns the blacklist patterns.
func (c *Catalog) Blacklist() []string {
	return c.blacklist.Patterns()
}

// Plugins returns every known plugin in discovery order.
func (c *Catalog) Plugins() []plugin.Descriptor {
	return c.filter(func(plugin.Descriptor) bool { return true })
}

// Find returns the plugin with the given identity ("format:uid").
func (c *Catalog) Find(identity string) (plugin.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.plugins[identity]
	return d, ok
}

// FindByName returns the first plugin whose name matches, ignoring case.
func (c *Catalog) FindByName(name string) (plugin.Descriptor, bool) {
	found := c.filter(func(d plugin.Descriptor) bool { return strings.EqualFold(d.Name, name) })
	if len(found) == 0 {
		return plugin.Descriptor{}, false
	}
	return found[0], true
}

// ByCategory returns the plugins in category, ignoring case.
func (c *Catalog) ByCategory(category string) []plugin.Descriptor {
	return c.filter(func(d plugin.Descriptor) bool { return strings.EqualFold(d.Category, category) })
}

// ByManufacturer returns the plugins made by manufacturer, ignoring case.
func (c *Catalog) ByManufacturer(manufacturer string) []plugin.Descriptor {
	return c.filter(func(d plugin.Descriptor) bool { return strings.EqualFold(d.Manufacturer, manufacturer) })
}

// ByFormat returns the plugins of one format.
func (c *Catalog) ByFormat(format string) []plugin.Descriptor {
	return c.filter(func(d plugin.Descriptor) bool { return d.Format == format })
}

// Search returns the plugins matching a query string; see package query
// for the syntax.
func (c *Catalog) Search(text string) ([]plugin.Descriptor, error) {
	q, err := query.Parse(text)
	if err != nil {
		return nil, err
	}
	return c.filter(q.Match), nil
}

// Categories returns the distinct categories of known plugins, sorted.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for _, d := range c.plugins {
		if d.Category != "" && !slices.Contains(out, d.Category) {
			out = append(out, d.Category)
		}
	}
	slices.Sort(out)
	return out
}

func (c *Catalog) filter(keep func(plugin.Descriptor) bool) []plugin.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]plugin.Descriptor, 0, len(c.order))
	for _, id := range c.order {
		if d := c.plugins[id]; keep(d) {
			out = append(out, d)
		}
	}
	return out
}
