// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package manager

import (
	"github.com/patchbay/patchbay/internal/graph"
)

// EventKind classifies manager events.
type EventKind int

// Manager event kinds.
const (
	PluginLoaded EventKind = iota
	PluginLoadFailed
	PluginRemoved
	ParameterChanged
	PresetLoaded
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case PluginLoaded:
		return "plugin_loaded"
	case PluginLoadFailed:
		return "plugin_load_failed"
	case PluginRemoved:
		return "plugin_removed"
	case ParameterChanged:
		return "parameter_changed"
	case PresetLoaded:
		return "preset_loaded"
	default:
		return "unknown"
	}
}

// Event reports a control-plane change.
type Event struct {
	Kind      EventKind
	NodeID    graph.NodeID
	Plugin    string
	RequestID string
	// Parameter and Value are set on ParameterChanged.
	Parameter int
	Value     float32
	// Preset is set on PresetLoaded.
	Preset string
	Err    string
}
