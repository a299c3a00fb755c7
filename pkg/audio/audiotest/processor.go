// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package audiotest provides configurable fake processors for tests.
package audiotest

import (
	"errors"
	"sync/atomic"

	"github.com/patchbay/patchbay/pkg/audio"
)

// ErrPrepare is returned by Prepare when FailPrepare is set.
var ErrPrepare = errors.New("audiotest: prepare failed")

// Processor is a fake plugin that multiplies every channel by its "gain"
// parameter (plain range 0..2, default 1) and records lifecycle calls.
type Processor struct {
	*audio.ParameterSet

	ProcName    string
	Inputs      int
	Outputs     int
	MIDIIn      bool
	MIDIOut     bool
	Latency     int
	FailPrepare bool
	// MaxSampleRate, when set, makes Prepare fail above that rate.
	MaxSampleRate float64

	Prepares  atomic.Int32
	Releases  atomic.Int32
	Processed atomic.Int64
	MIDISeen  atomic.Int64

	SampleRate float64
	BlockSize  int
}

// Compile-time interface checks.
var (
	_ audio.Processor     = (*Processor)(nil)
	_ audio.Parameterized = (*Processor)(nil)
)

// New creates a fake with the given channel counts and a gain + mix
// parameter pair.
func New(name string, inputs, outputs int) *Processor {
	return &Processor{
		ParameterSet: audio.NewParameterSet(
			audio.NewParameter("gain", "Gain", 0, 2, 1),
			audio.NewParameter("mix", "Mix", 0, 100, 100).WithUnit("%"),
		),
		ProcName: name,
		Inputs:   inputs,
		Outputs:  outputs,
	}
}

// Stereo creates a 2-in/2-out fake.
func Stereo(name string) *Processor {
	return New(name, 2, 2)
}

// Gain returns the current plain gain.
func (p *Processor) Gain() float64 {
	return p.Param(0).Plain()
}

// SetGain sets the plain gain.
func (p *Processor) SetGain(g float64) {
	p.Param(0).SetPlain(g)
}

// Name implements audio.Processor.
func (p *Processor) Name() string { return p.ProcName }

// NumInputs implements audio.Processor.
func (p *Processor) NumInputs() int { return p.Inputs }

// NumOutputs implements audio.Processor.
func (p *Processor) NumOutputs() int { return p.Outputs }

// AcceptsMIDI implements audio.Processor.
func (p *Processor) AcceptsMIDI() bool { return p.MIDIIn }

// ProducesMIDI implements audio.Processor.
func (p *Processor) ProducesMIDI() bool { return p.MIDIOut }

// LatencySamples implements audio.Processor.
func (p *Processor) LatencySamples() int { return p.Latency }

// Prepare implements audio.Processor.
func (p *Processor) Prepare(sampleRate float64, blockSize int) error {
	if p.FailPrepare || (p.MaxSampleRate > 0 && sampleRate > p.MaxSampleRate) {
		return ErrPrepare
	}
	p.SampleRate = sampleRate
	p.BlockSize = blockSize
	p.Prepares.Add(1)
	return nil
}

// Process implements audio.Processor.
func (p *Processor) Process(buf [][]float32, frames int, midi *audio.MIDIBuffer) {
	g := float32(p.Gain())
	n := min(p.Outputs, len(buf))
	for ch := range n {
		samples := buf[ch][:frames]
		for i := range samples {
			samples[i] *= g
		}
	}
	p.MIDISeen.Add(int64(midi.Len()))
	p.Processed.Add(1)
}

// Release implements audio.Processor.
func (p *Processor) Release() {
	p.Releases.Add(1)
}
