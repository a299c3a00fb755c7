// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package catalog

// EventKind classifies scan events.
type EventKind int

// Scan event kinds.
const (
	// ScanStarted carries the number of candidate files.
	ScanStarted EventKind = iota
	// ScanProgress is sent before each file is probed.
	ScanProgress
	// PluginFound is sent for every newly added descriptor.
	PluginFound
	// ProbeFailed is sent when a candidate file could not be read.
	ProbeFailed
	// ScanFinished carries the number of new plugins.
	ScanFinished
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case ScanStarted:
		return "scan_started"
	case ScanProgress:
		return "scan_progress"
	case PluginFound:
		return "plugin_found"
	case ProbeFailed:
		return "probe_failed"
	case ScanFinished:
		return "scan_finished"
	default:
		return "unknown"
	}
}

// Event reports scan activity.
type Event struct {
	Kind EventKind
	// Progress is the fraction of candidate files handled, 0..1.
	Progress float64
	File     string
	// Files is the candidate count on ScanStarted.
	Files int
	// NewPlugins is the number of descriptors added, on ScanFinished.
	NewPlugins int
	Cancelled  bool
	Plugin     string
	Err        error
}
