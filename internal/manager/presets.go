// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package manager

import (
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/pkg/audio"
)

// presetVersion is the export envelope layout written by ExportPreset.
const presetVersion = 1

// Preset is a named capture of one plugin's state.
type Preset struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
	// ParameterCount is the number of parameters in a parameter-vector
	// blob, or -1 for plugin-defined state.
	ParameterCount int       `json:"parameter_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type presetEnvelope struct {
	Version        int       `yaml:"version"`
	ID             string    `yaml:"id"`
	Plugin         string    `yaml:"plugin"`
	Name           string    `yaml:"name"`
	ParameterCount int       `yaml:"parameter_count"`
	CreatedAt      time.Time `yaml:"created_at"`
	Data           string    `yaml:"data"`
}

func presetParameterCount(data []byte) int {
	n, err := audio.ParameterStateCount(data)
	if err != nil {
		return -1
	}
	return n
}

// SavePreset captures a plugin's current state under name, replacing any
// preset with the same name.
func (m *Manager) SavePreset(id graph.NodeID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return oops.In("manager").Code(CodePresetInvalid).Errorf("preset name is empty")
	}
	proc, ok := m.processor(id)
	if !ok {
		return errUnknownInstance(id)
	}
	data, err := audio.CaptureState(proc)
	if err != nil {
		return oops.In("manager").With("node_id", id).With("preset", name).Wrap(err)
	}
	m.storePreset(id, Preset{
		Name:           name,
		Data:           data,
		ParameterCount: presetParameterCount(data),
		CreatedAt:      time.Now(),
	})
	return nil
}

func (m *Manager) storePreset(id graph.NodeID, p Preset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presets[id] == nil {
		m.presets[id] = make(map[string]Preset)
	}
	m.presets[id][p.Name] = p
}

func (m *Manager) preset(id graph.NodeID, name string) (Preset, error) {
	m.mu.RLock()
	p, ok := m.presets[id][name]
	m.mu.RUnlock()
	if !ok {
		return Preset{}, oops.In("manager").
			Code(CodeUnknownPreset).
			With("node_id", id).
			With("preset", name).
			Errorf("no preset %q for node %d", name, id)
	}
	return p, nil
}

// LoadPreset restores a saved preset. An unknown name or a parameter count
// that differs from the plugin's leaves the plugin untouched.
func (m *Manager) LoadPreset(id graph.NodeID, name string) error {
	proc, ok := m.processor(id)
	if !ok {
		return errUnknownInstance(id)
	}
	p, err := m.preset(id, name)
	if err != nil {
		return err
	}

	if p.ParameterCount >= 0 {
		params, ok := proc.(audio.Parameterized)
		if _, stateful := proc.(audio.Stateful); !stateful && (!ok || params.ParameterCount() != p.ParameterCount) {
			have := 0
			if ok {
				have = params.ParameterCount()
			}
			return oops.In("manager").
				Code(CodePresetMismatch).
				With("node_id", id).
				With("preset", name).
				Errorf("preset has %d parameters, plugin has %d", p.ParameterCount, have)
		}
	}

	// Plugin-defined state may fail halfway; roll back to the prior state.
	prior, _ := audio.CaptureState(proc)
	if err := audio.RestoreState(proc, p.Data); err != nil {
		if len(prior) > 0 {
			_ = audio.RestoreState(proc, prior)
		}
		code := CodePresetInvalid
		if errors.Is(err, audio.ErrStateMismatch) {
			code = CodePresetMismatch
		}
		return oops.In("manager").Code(code).With("node_id", id).With("preset", name).Wrap(err)
	}

	m.events.Publish(Event{Kind: PresetLoaded, NodeID: id, Preset: name})
	return nil
}

// DeletePreset removes a saved preset.
func (m *Manager) DeletePreset(id graph.NodeID, name string) error {
	if _, err := m.preset(id, name); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.presets[id], name)
	if len(m.presets[id]) == 0 {
		delete(m.presets, id)
	}
	m.mu.Unlock()
	return nil
}

// Presets returns a plugin's presets ordered by name.
func (m *Manager) Presets(id graph.NodeID) []Preset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Preset, 0, len(m.presets[id]))
	for _, p := range m.presets[id] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Preset) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ExportPreset encodes a saved preset as a self-describing YAML document
// tagged with the plugin identity.
func (m *Manager) ExportPreset(id graph.NodeID, name string) ([]byte, error) {
	info, ok := m.Instance(id)
	if !ok {
		return nil, errUnknownInstance(id)
	}
	p, err := m.preset(id, name)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(presetEnvelope{
		Version:        presetVersion,
		ID:             ulid.Make().String(),
		Plugin:         info.Descriptor.Identity(),
		Name:           p.Name,
		ParameterCount: p.ParameterCount,
		CreatedAt:      p.CreatedAt.UTC(),
		Data:           base64.StdEncoding.EncodeToString(p.Data),
	})
	if err != nil {
		return nil, oops.In("manager").Code(CodePresetInvalid).Wrap(err)
	}
	return out, nil
}

// ImportPreset decodes a document produced by ExportPreset and stores it as
// a preset of the plugin. The document must come from the same plugin. It
// returns the preset name.
func (m *Manager) ImportPreset(id graph.NodeID, doc []byte) (string, error) {
	info, ok := m.Instance(id)
	if !ok {
		return "", errUnknownInstance(id)
	}

	var env presetEnvelope
	if err := yaml.Unmarshal(doc, &env); err != nil {
		return "", oops.In("manager").Code(CodePresetInvalid).Hint("malformed preset document").Wrap(err)
	}
	errb := oops.In("manager").Code(CodePresetInvalid).With("node_id", id).With("preset", env.Name)
	if env.Version != presetVersion {
		return "", errb.Errorf("unsupported preset version %d", env.Version)
	}
	if env.Plugin != info.Descriptor.Identity() {
		return "", errb.With("plugin", env.Plugin).
			Errorf("preset belongs to %s, not %s", env.Plugin, info.Descriptor.Identity())
	}
	if strings.TrimSpace(env.Name) == "" {
		return "", errb.Errorf("preset name is empty")
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", errb.Wrap(err)
	}

	created := env.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	m.storePreset(id, Preset{
		Name:           env.Name,
		Data:           data,
		ParameterCount: presetParameterCount(data),
		CreatedAt:      created,
	})
	return env.Name, nil
}
