// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package builtin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/internal/plugin/builtin"
	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/errutil"
)

func TestFormat_Descriptors(t *testing.T) {
	f := builtin.Format{}
	descs := f.Descriptors()
	require.Len(t, descs, 3)

	for _, d := range descs {
		assert.Equal(t, builtin.FormatName, d.Format)
		assert.Equal(t, plugin.DeriveUID(builtin.FormatName, d.Name, builtin.Manufacturer), d.UID)

		proc, err := f.Instantiate(context.Background(), d, 48000, 256)
		require.NoError(t, err, d.Name)
		assert.Equal(t, d.NumInputs, proc.NumInputs(), d.Name)
		assert.Equal(t, d.NumOutputs, proc.NumOutputs(), d.Name)
		assert.Equal(t, d.AcceptsMIDI, proc.AcceptsMIDI(), d.Name)

		params, ok := proc.(audio.Parameterized)
		require.True(t, ok)
		assert.Equal(t, len(d.Parameters), params.ParameterCount(), d.Name)
	}

	assert.False(t, f.Matches("/tmp/plugin.yaml"))
}

func TestFormat_InstantiateUnknown(t *testing.T) {
	_, err := builtin.Format{}.Instantiate(context.Background(), plugin.Descriptor{Name: "nope"}, 48000, 64)
	errutil.AssertErrorCode(t, err, plugin.CodeInstantiate)
}

func TestLookup(t *testing.T) {
	d, ok := builtin.Lookup(builtin.DelayName)
	require.True(t, ok)
	assert.Equal(t, "Delay", d.Category)

	_, ok = builtin.Lookup("reverb")
	assert.False(t, ok)
}

func constant(v float32, frames int) [][]float32 {
	buf := audio.NewBuffer(2, frames)
	for ch := range buf {
		for i := range buf[ch] {
			buf[ch][i] = v
		}
	}
	return buf
}

func TestGain(t *testing.T) {
	g := builtin.NewGain()
	require.NoError(t, g.Prepare(48000, 64))

	buf := constant(0.5, 64)
	g.Process(buf, 64, nil)
	assert.InDelta(t, 0.5, buf[0][0], 1e-6, "0 dB is unity")

	g.Param(0).SetPlain(-6)
	buf = constant(1, 64)
	g.Process(buf, 64, nil)
	assert.InDelta(t, 0.501, buf[1][63], 1e-3)

	g.Param(1).SetPlain(1)
	g.Param(0).SetPlain(0)
	buf = constant(0.25, 64)
	g.Process(buf, 64, nil)
	assert.InDelta(t, -0.25, buf[0][10], 1e-6)

	g.Param(0).SetPlain(-60)
	buf = constant(1, 64)
	g.Process(buf, 64, nil)
	assert.Zero(t, buf[0][0])
}

func TestDelay_EchoesAfterDelayTime(t *testing.T) {
	d := builtin.NewDelay()
	require.NoError(t, d.Prepare(1000, 64))
	d.Param(0).SetPlain(10) // 10 samples at 1 kHz
	d.Param(1).SetPlain(0)
	d.Param(2).SetPlain(1)

	buf := audio.NewBuffer(2, 32)
	buf[0][0] = 1
	d.Process(buf, 32, nil)

	assert.Zero(t, buf[0][0], "fully wet output has no dry signal")
	assert.InDelta(t, 1, buf[0][10], 1e-6)
	assert.Zero(t, buf[0][20])

	d.Reset()
	buf = audio.NewBuffer(2, 32)
	d.Process(buf, 32, nil)
	for _, s := range buf[0] {
		require.Zero(t, s)
	}
}

func TestDelay_UnpreparedIsNoop(t *testing.T) {
	d := builtin.NewDelay()
	buf := constant(0.5, 8)
	d.Process(buf, 8, nil)
	assert.InDelta(t, 0.5, buf[0][7], 0)
}

func TestSynth_NotesStartAtTheirOffset(t *testing.T) {
	s := builtin.NewSynth()
	require.NoError(t, s.Prepare(48000, 128))

	events := audio.NewMIDIBuffer(8)
	events.Add(64, midi.NoteOn(0, 69, 127))
	buf := audio.NewBuffer(2, 128)
	s.Process(buf, 128, events)

	for i := range 64 {
		require.Zero(t, buf[0][i], "sample %d before the note", i)
	}
	var peak float32
	for _, v := range buf[0][64:] {
		peak = max(peak, v)
	}
	assert.Greater(t, peak, float32(0.1))
	assert.Equal(t, buf[0], buf[1])
	assert.Equal(t, 1, s.ActiveVoices())
}

func TestSynth_ReleaseAndAllNotesOff(t *testing.T) {
	s := builtin.NewSynth()
	require.NoError(t, s.Prepare(48000, 512))
	s.Param(1).SetPlain(1)

	events := audio.NewMIDIBuffer(8)
	events.Add(0, midi.NoteOn(0, 60, 100))
	events.Add(0, midi.NoteOn(0, 64, 100))
	buf := audio.NewBuffer(2, 512)
	s.Process(buf, 512, events)
	require.Equal(t, 2, s.ActiveVoices())

	events.Clear()
	events.Add(0, midi.NoteOff(0, 60))
	s.Process(buf, 512, events)
	assert.Equal(t, 1, s.ActiveVoices())

	events.Clear()
	events.Add(0, midi.ControlChange(0, 123, 0))
	s.Process(buf, 512, events)
	assert.Zero(t, s.ActiveVoices())
}

func TestSynth_VoiceStealing(t *testing.T) {
	s := builtin.NewSynth()
	require.NoError(t, s.Prepare(48000, 64))

	events := audio.NewMIDIBuffer(16)
	for key := range uint8(builtin.Voices + 2) {
		events.Add(0, midi.NoteOn(0, 40+key, 100))
	}
	s.Process(audio.NewBuffer(2, 64), 64, events)
	assert.Equal(t, builtin.Voices, s.ActiveVoices())
}
