// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package audio defines the capability interfaces shared by the audio graph,
// the plugin backends and plugin authors.
//
// A Processor processes planar float32 audio in place. The buffer handed to
// Process has max(NumInputs, NumOutputs) channels: the first NumInputs
// channels hold the input on entry and the first NumOutputs channels must
// hold the output on return.
//
// Optional capabilities (parameters, state, reset) are discovered through
// type assertions on the Processor value.
package audio

// Processor is the minimal capability every schedulable node provides.
//
// Prepare and Release are called from the control thread. Process is called
// from the render thread and must not block or allocate.
type Processor interface {
	// Name returns a human-readable processor name.
	Name() string

	// NumInputs returns the number of audio input channels.
	NumInputs() int

	// NumOutputs returns the number of audio output channels.
	NumOutputs() int

	// AcceptsMIDI reports whether the processor consumes MIDI events.
	AcceptsMIDI() bool

	// ProducesMIDI reports whether the processor emits MIDI events.
	ProducesMIDI() bool

	// LatencySamples returns the processing latency in samples.
	LatencySamples() int

	// Prepare readies the processor for rendering at the given rate and
	// maximum block size.
	Prepare(sampleRate float64, blockSize int) error

	// Process renders frames samples in place. midi is the node's MIDI
	// buffer; it is nil when the processor neither accepts nor produces MIDI.
	Process(buf [][]float32, frames int, midi *MIDIBuffer)

	// Release frees resources acquired in Prepare. Calling Release on a
	// processor that is not prepared must be safe.
	Release()
}

// Parameterized is implemented by processors that expose automatable
// parameters. Values are normalized to [0, 1].
type Parameterized interface {
	ParameterCount() int
	ParameterInfo(index int) ParameterInfo
	ParameterValue(index int) float32
	SetParameterValue(index int, value float32)
	ParameterText(index int) string
}

// Stateful is implemented by processors that can capture and restore their
// complete state as an opaque blob.
type Stateful interface {
	State() ([]byte, error)
	SetState(data []byte) error
}

// Resetter is implemented by processors that hold signal history (delay lines,
// envelopes) which can be cleared without a release/prepare cycle.
type Resetter interface {
	Reset()
}

// CaptureState returns the state blob for p. Stateful processors supply their
// own blob, parameterized processors get a parameter-vector blob, and any
// other processor has empty state.
func CaptureState(p Processor) ([]byte, error) {
	if s, ok := p.(Stateful); ok {
		return s.State()
	}
	if params, ok := p.(Parameterized); ok {
		return EncodeParameterState(params), nil
	}
	return nil, nil
}

// RestoreState applies a blob produced by CaptureState. Empty state leaves
// the processor untouched.
func RestoreState(p Processor, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if s, ok := p.(Stateful); ok {
		return s.SetState(data)
	}
	if params, ok := p.(Parameterized); ok {
		return DecodeParameterState(params, data)
	}
	return ErrStateUnsupported
}
