// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/patchbay/pkg/audio"
)

func render(t *Tremolo, frames int) [][]float32 {
	buf := audio.NewBuffer(2, frames)
	for _, ch := range buf {
		for i := range ch {
			ch[i] = 1
		}
	}
	t.Process(buf, frames, nil)
	return buf
}

func TestTremolo_ZeroDepthIsTransparent(t *testing.T) {
	tr := NewTremolo()
	require.NoError(t, tr.Prepare(48000, 512))
	tr.Param(1).SetPlain(0)

	buf := render(tr, 512)
	for _, ch := range buf {
		for _, s := range ch {
			assert.InDelta(t, 1, s, 1e-6)
		}
	}
}

func TestTremolo_FullDepthModulates(t *testing.T) {
	tr := NewTremolo()
	require.NoError(t, tr.Prepare(1000, 1000))
	tr.Param(0).SetPlain(1)
	tr.Param(1).SetPlain(1)

	buf := render(tr, 1000)
	lo, hi := float32(1), float32(0)
	for _, s := range buf[0] {
		lo, hi = min(lo, s), max(hi, s)
	}
	assert.InDelta(t, 0, lo, 1e-3, "one full cycle reaches silence")
	assert.InDelta(t, 1, hi, 1e-3)
	assert.Equal(t, buf[0], buf[1], "channels share the LFO")
}

func TestTremolo_ResetRestartsPhase(t *testing.T) {
	tr := NewTremolo()
	require.NoError(t, tr.Prepare(48000, 64))
	first := render(tr, 64)
	tr.Reset()
	again := render(tr, 64)
	assert.Equal(t, first, again)
}

func TestTremolo_UnpreparedLeavesAudio(t *testing.T) {
	buf := render(NewTremolo(), 8)
	assert.Equal(t, float32(1), buf[0][7])
}
