// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package builtin provides the in-process processors shipped with patchbay:
// a gain stage, a feedback delay and a polyphonic sine synth.
package builtin

import (
	"context"

	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// FormatName is the Descriptor.Format of every builtin processor.
const FormatName = "builtin"

// Manufacturer is the manufacturer recorded on builtin descriptors.
const Manufacturer = "Patchbay"

const version = "1.0.0"

// Names of the builtin processors.
const (
	GainName  = "gain"
	DelayName = "delay"
	SynthName = "sine-synth"
)

type entry struct {
	desc plugin.Descriptor
	make func() audio.Processor
}

var registry = []entry{
	{desc: descriptor(GainName, "Utility", 2, 2, false, gainParams()), make: func() audio.Processor { return NewGain() }},
	{desc: descriptor(DelayName, "Delay", 2, 2, false, delayParams()), make: func() audio.Processor { return NewDelay() }},
	{desc: descriptor(SynthName, "Instrument", 0, 2, true, synthParams()), make: func() audio.Processor { return NewSynth() }},
}

func descriptor(name, category string, inputs, outputs int, instrument bool, params []plugin.ParameterSpec) plugin.Descriptor {
	return plugin.Descriptor{
		Name:         name,
		UID:          plugin.DeriveUID(FormatName, name, Manufacturer),
		Format:       FormatName,
		Manufacturer: Manufacturer,
		Category:     category,
		Version:      version,
		Path:         FormatName + "://" + name,
		NumInputs:    inputs,
		NumOutputs:   outputs,
		AcceptsMIDI:  instrument,
		IsInstrument: instrument,
		Parameters:   params,
	}
}

// Format instantiates builtin processors. It has no files to probe; the
// catalog registers its descriptors directly.
type Format struct{}

// Compile-time interface check.
var _ plugin.Format = Format{}

// Name implements plugin.Format.
func (Format) Name() string { return FormatName }

// Matches implements plugin.Format. Builtins are never found on disk.
func (Format) Matches(string) bool { return false }

// Probe implements plugin.Format.
func (Format) Probe(context.Context, string) ([]plugin.Descriptor, error) {
	return nil, nil
}

// Descriptors returns the descriptor of every builtin processor.
func (Format) Descriptors() []plugin.Descriptor {
	out := make([]plugin.Descriptor, len(registry))
	for i, e := range registry {
		out[i] = e.desc
	}
	return out
}

// Instantiate implements plugin.Format.
func (Format) Instantiate(_ context.Context, desc plugin.Descriptor, _ float64, _ int) (audio.Processor, error) {
	for _, e := range registry {
		if e.desc.UID == desc.UID || e.desc.Name == desc.Name {
			return e.make(), nil
		}
	}
	return nil, oops.In("builtin").
		Code(plugin.CodeInstantiate).
		With("plugin", desc.Name).
		With("uid", desc.UID).
		Errorf("no builtin processor named %q", desc.Name)
}

// Lookup returns the descriptor of the builtin named name.
func Lookup(name string) (plugin.Descriptor, bool) {
	for _, e := range registry {
		if e.desc.Name == name {
			return e.desc, true
		}
	}
	return plugin.Descriptor{}, false
}
