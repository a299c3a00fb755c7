// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package builtin

import (
	"math"

	"gitlab.com/gomidi/midi/v2"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// Voices is the synth's polyphony.
const Voices = 8

// ccAllNotesOff is the channel-mode controller that silences every voice.
const ccAllNotesOff = 123

func synthParams() []plugin.ParameterSpec {
	return []plugin.ParameterSpec{
		{ID: "level", Name: "Level", Min: 0, Max: 1, Default: 0.5},
		{ID: "release", Name: "Release", Min: 1, Max: 2000, Default: 50, Unit: "ms"},
	}
}

type voice struct {
	key      uint8
	active   bool
	held     bool
	phase    float64
	step     float64
	velocity float32
	env      float32
}

// Synth is a polyphonic sine instrument driven by MIDI note messages.
type Synth struct {
	*audio.ParameterSet

	sampleRate float64
	voices     [Voices]voice
}

// Compile-time interface check.
var _ audio.Resetter = (*Synth)(nil)

// NewSynth creates an unprepared synth.
func NewSynth() *Synth {
	return &Synth{ParameterSet: plugin.BuildParameters(synthParams())}
}

// Name implements audio.Processor.
func (s *Synth) Name() string { return SynthName }

// NumInputs implements audio.Processor.
func (s *Synth) NumInputs() int { return 0 }

// NumOutputs implements audio.Processor.
func (s *Synth) NumOutputs() int { return 2 }

// AcceptsMIDI implements audio.Processor.
func (s *Synth) AcceptsMIDI() bool { return true }

// ProducesMIDI implements audio.Processor.
func (s *Synth) ProducesMIDI() bool { return false }

// LatencySamples implements audio.Processor.
func (s *Synth) LatencySamples() int { return 0 }

// Prepare implements audio.Processor.
func (s *Synth) Prepare(sampleRate float64, _ int) error {
	s.sampleRate = sampleRate
	s.Reset()
	return nil
}

// Release implements audio.Processor.
func (s *Synth) Release() {
	s.Reset()
}

// Reset silences every voice.
func (s *Synth) Reset() {
	s.voices = [Voices]voice{}
}

// ActiveVoices returns the number of sounding voices.
func (s *Synth) ActiveVoices() int {
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

// Process renders the sounding voices, applying each MIDI event at its
// sample offset.
func (s *Synth) Process(buf [][]float32, frames int, events *audio.MIDIBuffer) {
	audio.ClearChannels(buf, frames)
	if s.sampleRate <= 0 || len(buf) == 0 {
		return
	}
	level := float32(s.Param(0).Plain())
	// The envelope falls by about 43 dB over the release time.
	decay := float32(math.Exp(-5 / (s.Param(1).Plain() / 1000 * s.sampleRate)))

	start := 0
	for _, ev := range events.Events() {
		at := min(max(ev.Offset, start), frames)
		s.render(buf, start, at, level, decay)
		s.handle(ev.Message)
		start = at
	}
	s.render(buf, start, frames, level, decay)

	if len(buf) > 1 {
		copy(buf[1][:frames], buf[0][:frames])
	}
}

func (s *Synth) render(buf [][]float32, from, to int, level, decay float32) {
	out := buf[0]
	for v := range s.voices {
		vc := &s.voices[v]
		if !vc.active {
			continue
		}
		for i := from; i < to; i++ {
			if !vc.held {
				vc.env *= decay
			}
			out[i] += float32(math.Sin(vc.phase)) * vc.velocity * vc.env * level
			vc.phase += vc.step
			if vc.phase >= 2*math.Pi {
				vc.phase -= 2 * math.Pi
			}
		}
		if !vc.held && vc.env < 1e-4 {
			vc.active = false
		}
	}
}

func (s *Synth) handle(msg midi.Message) {
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		vc := s.allocate(key)
		*vc = voice{
			key:      key,
			active:   true,
			held:     true,
			step:     2 * math.Pi * noteFrequency(key) / s.sampleRate,
			velocity: float32(vel) / 127,
			env:      1,
		}
	case msg.GetNoteEnd(&ch, &key):
		for v := range s.voices {
			if s.voices[v].active && s.voices[v].key == key {
				s.voices[v].held = false
			}
		}
	case msg.GetControlChange(&ch, &cc, &val) && cc == ccAllNotesOff:
		for v := range s.voices {
			s.voices[v].held = false
		}
	}
}

// allocate returns the voice already playing key, a free voice, or the
// quietest voice when all are busy.
func (s *Synth) allocate(key uint8) *voice {
	for v := range s.voices {
		if s.voices[v].active && s.voices[v].key == key {
			return &s.voices[v]
		}
	}
	quietest := &s.voices[0]
	for v := range s.voices {
		vc := &s.voices[v]
		if !vc.active {
			return vc
		}
		if vc.env < quietest.env {
			quietest = vc
		}
	}
	return quietest
}

func noteFrequency(key uint8) float64 {
	return 440 * math.Pow(2, (float64(key)-69)/12)
}
