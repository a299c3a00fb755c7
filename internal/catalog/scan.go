// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/errutil"
)

type scanRequest struct {
	paths          []string
	recursive      bool
	rescanExisting bool
}

// ScanAsync starts scanning paths on a background worker and returns
// immediately. Only one scan runs at a time; a request made while a scan is
// active returns ErrScanInProgress and changes nothing.
//
// Directories are searched for files any format matches. A non-recursive
// scan looks at the directory itself and its immediate subdirectories, which
// is where plugin bundles live. Files that already produced a descriptor are
// skipped unless rescanExisting is set.
func (c *Catalog) ScanAsync(paths []string, recursive, rescanExisting bool) error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	if c.scanning.Load() {
		return oops.In("catalog").Code(CodeScanInProgress).Wrap(ErrScanInProgress)
	}

	c.scanning.Store(true)
	c.stop.Store(false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	req := scanRequest{paths: slices.Clone(paths), recursive: recursive, rescanExisting: rescanExisting}
	go c.scan(ctx, req, done)
	return nil
}

// StopScanning asks the running scan to stop after the current file and
// blocks until the worker has exited. It is a no-op when idle.
func (c *Catalog) StopScanning() {
	c.scanMu.Lock()
	cancel, done := c.cancel, c.done
	c.scanMu.Unlock()

	if done == nil {
		return
	}
	c.stop.Store(true)
	cancel()
	<-done
}

// IsScanning reports whether a scan is in flight.
func (c *Catalog) IsScanning() bool {
	return c.scanning.Load()
}

// Wait blocks until the current scan, if any, has finished.
func (c *Catalog) Wait() {
	c.scanMu.Lock()
	done := c.done
	c.scanMu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Catalog) scan(ctx context.Context, req scanRequest, done chan struct{}) {
	defer close(done)
	defer c.scanning.Store(false)
	defer c.cancelScan()

	start := time.Now()
	files := c.candidates(req)
	c.logger.Info("plugin scan started", "paths", req.paths, "files", len(files), "recursive", req.recursive)
	c.events.Publish(Event{Kind: ScanStarted, Files: len(files)})

	added, cancelled := 0, false
	for i, file := range files {
		if c.stop.Load() {
			cancelled = true
			break
		}
		c.events.Publish(Event{Kind: ScanProgress, Progress: float64(i) / float64(len(files)), File: file})

		if c.blacklist.Matches(file) {
			c.logger.Debug("skipping blacklisted file", "path", file)
			continue
		}
		if !req.rescanExisting && c.IsKnownPath(file) {
			continue
		}
		added += c.probeFile(ctx, file, req.rescanExisting)
	}

	if !cancelled {
		c.events.Publish(Event{Kind: ScanProgress, Progress: 1})
	}
	c.events.Publish(Event{Kind: ScanFinished, NewPlugins: added, Cancelled: cancelled})
	c.logger.Info("plugin scan finished",
		"new_plugins", added,
		"known_plugins", c.Len(),
		"cancelled", cancelled,
		"duration", time.Since(start))
}

func (c *Catalog) cancelScan() {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// candidates lists the files under req.paths that some format matches,
// sorted and deduplicated.
func (c *Catalog) candidates(req scanRequest) []string {
	formats := c.formats.Formats()
	matches := func(path string) bool {
		return slices.ContainsFunc(formats, func(f plugin.Format) bool { return f.Matches(path) })
	}

	var files []string
	for _, root := range req.paths {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil {
			c.logger.Warn("skipping unreadable scan path", "path", root, "error", err)
			continue
		}
		if !info.IsDir() {
			if matches(root) {
				files = append(files, root)
			}
			continue
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				c.logger.Debug("skipping unreadable entry", "path", path, "error", err)
				return nil
			}
			if d.IsDir() {
				if !req.recursive && path != root && depth(root, path) > 1 {
					return filepath.SkipDir
				}
				return nil
			}
			if matches(path) {
				files = append(files, path)
			}
			return nil
		})
		if walkErr != nil {
			c.logger.Warn("scan walk failed", "path", root, "error", walkErr)
		}
	}

	slices.Sort(files)
	return slices.Compact(files)
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// probeFile probes one file with every matching format and returns the
// number of new descriptors.
func (c *Catalog) probeFile(ctx context.Context, file string, rescan bool) int {
	c.setPedal(file)
	defer c.clearPedal()

	added := 0
	for _, f := range c.formats.Formats() {
		if !f.Matches(file) {
			continue
		}
		descs, err := probe(ctx, f, file)
		if err != nil {
			errutil.LogErrorContext(ctx, c.logger, "plugin probe failed", err, "path", file, "format", f.Name())
			c.events.Publish(Event{Kind: ProbeFailed, File: file, Err: err})
			continue
		}
		for _, d := range descs {
			if c.blacklist.Matches(d.Identity(), d.Path) {
				c.logger.Debug("skipping blacklisted plugin", "plugin", d.Name, "identity", d.Identity())
				continue
			}
			if c.merge(d, rescan) {
				added++
				c.logger.Info("plugin discovered", "plugin", d.Name, "format", d.Format, "path", file)
				c.events.Publish(Event{Kind: PluginFound, File: file, Plugin: d.Name})
			}
		}
	}
	return added
}

// probe calls f.Probe, turning a backend panic into an error.
func probe(ctx context.Context, f plugin.Format, file string) (descs []plugin.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			descs = nil
			err = oops.In("catalog").With("path", file).With("format", f.Name()).Errorf("probe panicked: %v", r)
		}
	}()
	return f.Probe(ctx, file)
}

// merge adds d and reports whether it is new. A known descriptor is only
// replaced during a rescan.
func (c *Catalog) merge(d plugin.Descriptor, rescan bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, known := c.plugins[d.Identity()]
	if !known {
		return c.addLocked(d)
	}
	if !rescan || (old.FileHash == d.FileHash && old.Version == d.Version && old.Path == d.Path) {
		return false
	}
	if upgraded(old.Version, d.Version) {
		c.logger.Info("plugin updated", "plugin", d.Name, "from", old.Version, "to", d.Version)
	}
	c.addLocked(d)
	return false
}

func upgraded(from, to string) bool {
	a, err1 := semver.NewVersion(from)
	b, err2 := semver.NewVersion(to)
	if err1 != nil || err2 != nil {
		return false
	}
	return b.GreaterThan(a)
}
