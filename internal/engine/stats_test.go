// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsTracker_Record(t *testing.T) {
	var tr statsTracker

	s := tr.record(2*time.Millisecond, 480, 48000)
	assert.Equal(t, uint64(1), s.TotalBlocksProcessed)
	assert.InDelta(t, 2, s.MinMs, 1e-9)
	assert.InDelta(t, 2, s.MaxMs, 1e-9)
	assert.InDelta(t, 2, s.AverageMs, 1e-9)
	// 480 frames at 48 kHz is a 10 ms block.
	assert.InDelta(t, 20, s.CPUUsagePercent, 1e-9)

	s = tr.record(12*time.Millisecond, 480, 48000)
	assert.Equal(t, uint64(2), s.TotalBlocksProcessed)
	assert.InDelta(t, 2, s.MinMs, 1e-9)
	assert.InDelta(t, 12, s.MaxMs, 1e-9)
	assert.InDelta(t, 3, s.AverageMs, 1e-9)
	assert.InDelta(t, 30, s.CPUUsagePercent, 1e-9)

	tr.reset()
	assert.Equal(t, PerformanceStats{}, tr.snapshot())
}

func TestStatsTracker_ZeroSampleRateKeepsCPU(t *testing.T) {
	var tr statsTracker
	s := tr.record(time.Millisecond, 64, 0)
	assert.Zero(t, s.CPUUsagePercent)
	assert.Equal(t, uint64(1), s.TotalBlocksProcessed)
}
