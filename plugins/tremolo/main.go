// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package main implements a tremolo as a binary patchbay plugin.
//
// Build next to its manifest:
//
//	go build -o plugins/tremolo/tremolo ./plugins/tremolo
package main

import (
	"math"

	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/pluginsdk"
)

// Tremolo modulates amplitude with a sine LFO.
type Tremolo struct {
	*audio.ParameterSet

	sampleRate float64
	phase      float64
}

var (
	_ audio.Processor = (*Tremolo)(nil)
	_ audio.Resetter  = (*Tremolo)(nil)
)

// NewTremolo creates a tremolo with rate and depth parameters.
func NewTremolo() *Tremolo {
	return &Tremolo{
		ParameterSet: audio.NewParameterSet(
			audio.NewParameter("rate", "Rate", 0.1, 20, 5).WithUnit("Hz"),
			audio.NewParameter("depth", "Depth", 0, 1, 0.5),
		),
	}
}

func (t *Tremolo) Name() string        { return "tremolo" }
func (t *Tremolo) NumInputs() int      { return 2 }
func (t *Tremolo) NumOutputs() int     { return 2 }
func (t *Tremolo) AcceptsMIDI() bool   { return false }
func (t *Tremolo) ProducesMIDI() bool  { return false }
func (t *Tremolo) LatencySamples() int { return 0 }

func (t *Tremolo) Prepare(sampleRate float64, _ int) error {
	t.sampleRate = sampleRate
	t.phase = 0
	return nil
}

func (t *Tremolo) Release() {}

func (t *Tremolo) Reset() { t.phase = 0 }

func (t *Tremolo) Process(buf [][]float32, frames int, _ *audio.MIDIBuffer) {
	if t.sampleRate <= 0 {
		return
	}
	inc := 2 * math.Pi * t.Param(0).Plain() / t.sampleRate
	depth := t.Param(1).Plain()

	phase := t.phase
	for i := range frames {
		gain := float32(1 - depth*0.5*(1-math.Sin(phase)))
		for ch := range min(2, len(buf)) {
			buf[ch][i] *= gain
		}
		phase += inc
	}
	t.phase = math.Mod(phase, 2*math.Pi)
}

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{Processor: NewTremolo()})
}
