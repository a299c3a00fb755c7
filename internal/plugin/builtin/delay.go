// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package builtin

import (
	"math"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// maxDelayMs bounds the delay line allocated by Prepare.
const maxDelayMs = 2000

func delayParams() []plugin.ParameterSpec {
	return []plugin.ParameterSpec{
		{ID: "time", Name: "Time", Min: 1, Max: maxDelayMs, Default: 250, Unit: "ms"},
		{ID: "feedback", Name: "Feedback", Min: 0, Max: 0.95, Default: 0.35},
		{ID: "mix", Name: "Mix", Min: 0, Max: 1, Default: 0.3},
	}
}

// Delay is a stereo feedback delay.
type Delay struct {
	*audio.ParameterSet

	sampleRate float64
	lines      [2][]float32
	pos        int
}

// Compile-time interface check.
var _ audio.Resetter = (*Delay)(nil)

// NewDelay creates an unprepared delay.
func NewDelay() *Delay {
	return &Delay{ParameterSet: plugin.BuildParameters(delayParams())}
}

// Name implements audio.Processor.
func (d *Delay) Name() string { return DelayName }

// NumInputs implements audio.Processor.
func (d *Delay) NumInputs() int { return 2 }

// NumOutputs implements audio.Processor.
func (d *Delay) NumOutputs() int { return 2 }

// AcceptsMIDI implements audio.Processor.
func (d *Delay) AcceptsMIDI() bool { return false }

// ProducesMIDI implements audio.Processor.
func (d *Delay) ProducesMIDI() bool { return false }

// LatencySamples implements audio.Processor.
func (d *Delay) LatencySamples() int { return 0 }

// Prepare allocates a delay line long enough for the maximum delay time.
func (d *Delay) Prepare(sampleRate float64, _ int) error {
	n := int(sampleRate*maxDelayMs/1000) + 1
	d.sampleRate = sampleRate
	for ch := range d.lines {
		d.lines[ch] = make([]float32, n)
	}
	d.pos = 0
	return nil
}

// Release implements audio.Processor.
func (d *Delay) Release() {
	d.lines = [2][]float32{}
	d.pos = 0
}

// Reset clears the delay line.
func (d *Delay) Reset() {
	for ch := range d.lines {
		clear(d.lines[ch])
	}
	d.pos = 0
}

// Process implements audio.Processor.
func (d *Delay) Process(buf [][]float32, frames int, _ *audio.MIDIBuffer) {
	size := len(d.lines[0])
	if size == 0 {
		return
	}
	delay := min(max(int(math.Round(d.Param(0).Plain()*d.sampleRate/1000)), 1), size-1)
	feedback := float32(d.Param(1).Plain())
	mix := float32(d.Param(2).Plain())

	pos := d.pos
	for ch := range min(2, len(buf)) {
		line := d.lines[ch]
		samples := buf[ch][:frames]
		pos = d.pos
		for i, dry := range samples {
			read := pos - delay
			if read < 0 {
				read += size
			}
			wet := line[read]
			line[pos] = dry + wet*feedback
			samples[i] = dry*(1-mix) + wet*mix
			if pos++; pos == size {
				pos = 0
			}
		}
	}
	d.pos = pos
}
