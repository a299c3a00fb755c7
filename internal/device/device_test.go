// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package device_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/patchbay/patchbay/internal/device"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu         sync.Mutex
	started    int
	stopped    int
	sampleRate float64
	blockSize  int
	blocks     atomic.Int64
	lastIn     float32
}

func (r *recorder) AboutToStart(sampleRate float64, blockSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	r.sampleRate, r.blockSize = sampleRate, blockSize
}

func (r *recorder) OnAudioBlock(in, out [][]float32, frames int) {
	r.mu.Lock()
	if len(in) > 0 {
		r.lastIn = in[0][frames-1]
	}
	r.mu.Unlock()
	for ch := range min(len(in), len(out)) {
		copy(out[ch][:frames], in[ch][:frames])
	}
	r.blocks.Add(1)
}

func (r *recorder) Stopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

func TestNewNull_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  device.Config
	}{
		{name: "zero sample rate", cfg: device.Config{BlockSize: 64, Outputs: 2}},
		{name: "zero block size", cfg: device.Config{SampleRate: 48000, Outputs: 2}},
		{name: "negative inputs", cfg: device.Config{SampleRate: 48000, BlockSize: 64, Inputs: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := device.NewNull(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestNull_Lifecycle(t *testing.T) {
	var outSeen atomic.Int64
	d, err := device.NewNull(
		device.Config{SampleRate: 48000, BlockSize: 32, Inputs: 2, Outputs: 2},
		device.WithInterval(0),
		device.WithInput(func(in [][]float32, frames int) {
			for ch := range in {
				for i := range frames {
					in[ch][i] = 0.5
				}
			}
		}),
		device.WithOutput(func(out [][]float32, frames int) {
			if out[1][frames-1] == 0.5 {
				outSeen.Add(1)
			}
		}),
	)
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, d.Start(context.Background(), rec))
	assert.ErrorIs(t, d.Start(context.Background(), rec), device.ErrRunning)

	require.Eventually(t, func() bool { return rec.blocks.Load() >= 10 }, time.Second, time.Millisecond)
	d.Stop()
	d.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, 1, rec.stopped)
	assert.InDelta(t, 48000, rec.sampleRate, 0)
	assert.Equal(t, 32, rec.blockSize)
	assert.InDelta(t, 0.5, rec.lastIn, 0)
	assert.Positive(t, outSeen.Load())
	assert.Equal(t, uint64(rec.blocks.Load()), d.Blocks())
}

func TestNull_StopsWithContext(t *testing.T) {
	d, err := device.NewNull(device.Config{SampleRate: 48000, BlockSize: 48, Outputs: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	require.NoError(t, d.Start(ctx, rec))
	require.Eventually(t, func() bool { return rec.blocks.Load() > 0 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.stopped == 1
	}, time.Second, time.Millisecond)
	d.Stop()
}

func TestNull_Restart(t *testing.T) {
	d, err := device.NewNull(device.Config{SampleRate: 48000, BlockSize: 16, Outputs: 1}, device.WithInterval(0))
	require.NoError(t, err)

	rec := &recorder{}
	for range 2 {
		require.NoError(t, d.Start(context.Background(), rec))
		d.Stop()
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.started)
	assert.Equal(t, 2, rec.stopped)
}
