// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package builtin

import (
	"math"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// minGainDB is the gain setting treated as silence.
const minGainDB = -60

func gainParams() []plugin.ParameterSpec {
	return []plugin.ParameterSpec{
		{ID: "gain", Name: "Gain", Min: minGainDB, Max: 12, Default: 0, Unit: "dB"},
		{ID: "invert", Name: "Invert Phase", Min: 0, Max: 1, Default: 0, Steps: 2},
	}
}

// Gain scales a stereo signal by a decibel amount.
type Gain struct {
	*audio.ParameterSet
}

// NewGain creates a gain stage at 0 dB.
func NewGain() *Gain {
	return &Gain{ParameterSet: plugin.BuildParameters(gainParams())}
}

// Name implements audio.Processor.
func (g *Gain) Name() string { return GainName }

// NumInputs implements audio.Processor.
func (g *Gain) NumInputs() int { return 2 }

// NumOutputs implements audio.Processor.
func (g *Gain) NumOutputs() int { return 2 }

// AcceptsMIDI implements audio.Processor.
func (g *Gain) AcceptsMIDI() bool { return false }

// ProducesMIDI implements audio.Processor.
func (g *Gain) ProducesMIDI() bool { return false }

// LatencySamples implements audio.Processor.
func (g *Gain) LatencySamples() int { return 0 }

// Prepare implements audio.Processor.
func (g *Gain) Prepare(float64, int) error { return nil }

// Release implements audio.Processor.
func (g *Gain) Release() {}

// Process implements audio.Processor.
func (g *Gain) Process(buf [][]float32, frames int, _ *audio.MIDIBuffer) {
	gain := float32(dbToLinear(g.Param(0).Plain()))
	if g.Param(1).Plain() >= 0.5 {
		gain = -gain
	}
	for ch := range min(2, len(buf)) {
		samples := buf[ch][:frames]
		for i := range samples {
			samples[i] *= gain
		}
	}
}

func dbToLinear(db float64) float64 {
	if db <= minGainDB {
		return 0
	}
	return math.Pow(10, db/20)
}
