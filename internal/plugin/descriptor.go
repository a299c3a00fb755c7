// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package plugin

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Descriptor is the catalog metadata of one installable plugin. It carries
// everything needed to instantiate the plugin through its format backend.
type Descriptor struct {
	Name         string          `json:"name" yaml:"name"`
	UID          string          `json:"uid" yaml:"uid"`
	Format       string          `json:"format" yaml:"format"`
	Manufacturer string          `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Category     string          `json:"category,omitempty" yaml:"category,omitempty"`
	Version      string          `json:"version,omitempty" yaml:"version,omitempty"`
	Path         string          `json:"path,omitempty" yaml:"path,omitempty"`
	FileHash     string          `json:"file_hash,omitempty" yaml:"file-hash,omitempty"`
	NumInputs    int             `json:"num_inputs" yaml:"inputs"`
	NumOutputs   int             `json:"num_outputs" yaml:"outputs"`
	AcceptsMIDI  bool            `json:"accepts_midi,omitempty" yaml:"midi-input,omitempty"`
	ProducesMIDI bool            `json:"produces_midi,omitempty" yaml:"midi-output,omitempty"`
	IsInstrument bool            `json:"is_instrument,omitempty" yaml:"instrument,omitempty"`
	Parameters   []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Identity returns "format:uid", the key used by the catalog and blacklist.
func (d Descriptor) Identity() string {
	return d.Format + ":" + d.UID
}

// IsZero reports whether d is the zero descriptor.
func (d Descriptor) IsZero() bool {
	return d.Format == "" && d.UID == "" && d.Name == ""
}

// DeriveUID computes a stable identifier from the plugin's format, name and
// manufacturer. It does not depend on the install path, so a moved plugin
// keeps its identity.
func DeriveUID(format, name, manufacturer string) string {
	sum := blake2b.Sum256([]byte(format + "\x00" + name + "\x00" + manufacturer))
	return hex.EncodeToString(sum[:8])
}

// Fingerprint returns the blake2b-256 digest of data as hex.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
