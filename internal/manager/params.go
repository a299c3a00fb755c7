// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package manager

import (
	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/pkg/audio"
)

// Parameter access fails closed: an unknown node, a processor without
// parameters or an out-of-range index yields the zero value or false.

func (m *Manager) parameterized(id graph.NodeID) (audio.Parameterized, bool) {
	proc, ok := m.processor(id)
	if !ok {
		return nil, false
	}
	params, ok := proc.(audio.Parameterized)
	return params, ok
}

func (m *Manager) parameter(id graph.NodeID, index int) (audio.Parameterized, bool) {
	params, ok := m.parameterized(id)
	if !ok || index < 0 || index >= params.ParameterCount() {
		return nil, false
	}
	return params, true
}

// GetPluginParameters describes every parameter of a plugin.
func (m *Manager) GetPluginParameters(id graph.NodeID) []audio.ParameterInfo {
	params, ok := m.parameterized(id)
	if !ok {
		return nil
	}
	out := make([]audio.ParameterInfo, params.ParameterCount())
	for i := range out {
		out[i] = params.ParameterInfo(i)
	}
	return out
}

// GetParameterValue returns a normalized parameter value.
func (m *Manager) GetParameterValue(id graph.NodeID, index int) float32 {
	params, ok := m.parameter(id, index)
	if !ok {
		return 0
	}
	return params.ParameterValue(index)
}

// SetParameterValue sets a normalized parameter value, clamped to [0, 1],
// and publishes ParameterChanged.
func (m *Manager) SetParameterValue(id graph.NodeID, index int, value float32) bool {
	params, ok := m.parameter(id, index)
	if !ok {
		return false
	}
	params.SetParameterValue(index, min(max(value, 0), 1))
	m.events.Publish(Event{
		Kind:      ParameterChanged,
		NodeID:    id,
		Parameter: index,
		Value:     params.ParameterValue(index),
	})
	return true
}

// GetParameterText returns a parameter's display text.
func (m *Manager) GetParameterText(id graph.NodeID, index int) string {
	params, ok := m.parameter(id, index)
	if !ok {
		return ""
	}
	return params.ParameterText(index)
}

// ResetParametersToDefault restores every parameter to its default.
func (m *Manager) ResetParametersToDefault(id graph.NodeID) bool {
	params, ok := m.parameterized(id)
	if !ok {
		return false
	}
	for i := range params.ParameterCount() {
		def := params.ParameterInfo(i).Default
		if params.ParameterValue(i) == def {
			continue
		}
		params.SetParameterValue(i, def)
		m.events.Publish(Event{Kind: ParameterChanged, NodeID: id, Parameter: i, Value: def})
	}
	return true
}
