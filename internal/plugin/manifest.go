// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/patchbay/patchbay/pkg/audio"
)

// ManifestFile is the file name that marks a plugin bundle directory.
const ManifestFile = "plugin.yaml"

// Type identifies the plugin runtime of a bundle.
type Type string

// Bundle types supported by the manifest loader.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string          `yaml:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string          `yaml:"version"`
	Type         Type            `yaml:"type" jsonschema:"enum=lua,enum=binary"`
	Manufacturer string          `yaml:"manufacturer,omitempty"`
	Category     string          `yaml:"category,omitempty"`
	Inputs       int             `yaml:"inputs,omitempty" jsonschema:"minimum=0,maximum=64"`
	Outputs      int             `yaml:"outputs,omitempty" jsonschema:"minimum=0,maximum=64"`
	MIDIInput    bool            `yaml:"midi-input,omitempty"`
	MIDIOutput   bool            `yaml:"midi-output,omitempty"`
	Instrument   bool            `yaml:"instrument,omitempty"`
	Parameters   []ParameterSpec `yaml:"parameters,omitempty"`
	LuaPlugin    *LuaConfig      `yaml:"lua-plugin,omitempty"`
	BinaryPlugin *BinaryConfig   `yaml:"binary-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable"`
}

// ParameterSpec declares one automatable parameter in plain units.
type ParameterSpec struct {
	ID      string  `json:"id" yaml:"id"`
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Default float64 `json:"default" yaml:"default"`
	Unit    string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Steps   int     `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Build creates the runtime parameter.
func (s ParameterSpec) Build() *audio.Parameter {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return audio.NewParameter(s.ID, name, s.Min, s.Max, s.Default).
		WithUnit(s.Unit).
		WithSteps(s.Steps)
}

// BuildParameters creates a parameter set from specs.
func BuildParameters(specs []ParameterSpec) *audio.ParameterSet {
	set := audio.NewParameterSet()
	for _, s := range specs {
		set.Add(s.Build())
	}
	return set
}

// Manifest limits.
const (
	maxNameLength = 64
	maxChannels   = 64
)

// namePattern accepts a lowercase letter followed by lowercase letters,
// digits and inner hyphens.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest decodes and validates a plugin.yaml document.
func ParseManifest(data []byte) (*Manifest, error) {
	errb := oops.In("plugin").Code(CodeManifestInvalid)
	if len(data) == 0 {
		return nil, errb.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errb.Wrapf(err, "invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads a manifest file, checks it against the JSON schema and
// validates it.
func LoadManifest(path string) (*Manifest, error) {
	errb := oops.In("plugin").With("path", path)
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errb.Hint("failed to read manifest").Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, errb.Wrap(err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	return m, nil
}

// Validate checks the constraints the schema cannot express. Every problem
// is reported, joined in one error.
func (m *Manifest) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case m.Name == "" || !namePattern.MatchString(m.Name):
		fail("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	case len(m.Name) > maxNameLength:
		fail("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		fail("version is required")
	} else if _, err := semver.NewVersion(m.Version); err != nil {
		fail("version %q is not semver: %v", m.Version, err)
	}

	if m.Inputs < 0 || m.Inputs > maxChannels || m.Outputs < 0 || m.Outputs > maxChannels {
		fail("channel counts must be within 0..%d, got %d in / %d out", maxChannels, m.Inputs, m.Outputs)
	}
	if m.Outputs == 0 && !m.MIDIOutput {
		fail("plugin must produce audio or MIDI output")
	}

	seen := make(map[string]bool, len(m.Parameters))
	for i, p := range m.Parameters {
		switch {
		case p.ID == "":
			fail("parameter %d: id is required", i)
		case seen[p.ID]:
			fail("parameter %d: duplicate id %q", i, p.ID)
		case p.Max <= p.Min:
			fail("parameter %q: max must be greater than min", p.ID)
		case p.Default < p.Min || p.Default > p.Max:
			fail("parameter %q: default %g outside %g..%g", p.ID, p.Default, p.Min, p.Max)
		}
		seen[p.ID] = true
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			fail("lua-plugin is required when type is lua")
		} else if m.LuaPlugin.Entry == "" {
			fail("lua-plugin.entry is required")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil {
			fail("binary-plugin is required when type is binary")
		} else if m.BinaryPlugin.Executable == "" {
			fail("binary-plugin.executable is required")
		}
	default:
		fail("type must be 'lua' or 'binary', got %q", m.Type)
	}

	if len(problems) == 0 {
		return nil
	}
	return oops.In("plugin").
		Code(CodeManifestInvalid).
		With("name", m.Name).
		With("problems", problems).
		Errorf("%s", strings.Join(problems, "; "))
}

// EntryPath returns the path of the file the runtime loads, relative to dir.
func (m *Manifest) EntryPath(dir string) string {
	switch {
	case m.LuaPlugin != nil:
		return filepath.Join(dir, m.LuaPlugin.Entry)
	case m.BinaryPlugin != nil:
		return filepath.Join(dir, m.BinaryPlugin.Executable)
	default:
		return ""
	}
}

// Descriptor builds the catalog descriptor for a manifest found at path.
// fileHash is the fingerprint of the bundle's entry file.
func (m *Manifest) Descriptor(path, fileHash string) Descriptor {
	return Descriptor{
		Name:         m.Name,
		UID:          DeriveUID(string(m.Type), m.Name, m.Manufacturer),
		Format:       string(m.Type),
		Manufacturer: m.Manufacturer,
		Category:     m.Category,
		Version:      m.Version,
		Path:         path,
		FileHash:     fileHash,
		NumInputs:    m.Inputs,
		NumOutputs:   m.Outputs,
		AcceptsMIDI:  m.MIDIInput,
		ProducesMIDI: m.MIDIOutput,
		IsInstrument: m.Instrument,
		Parameters:   m.Parameters,
	}
}
