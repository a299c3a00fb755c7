// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"sync"
	"time"
)

// statsSmoothing is the EMA factor applied to per-block render times.
const statsSmoothing = 0.1

// PerformanceStats summarises render timing since the last reset.
type PerformanceStats struct {
	TotalBlocksProcessed uint64  `json:"total_blocks_processed"`
	MinMs                float64 `json:"min_ms"`
	MaxMs                float64 `json:"max_ms"`
	AverageMs            float64 `json:"average_ms"`
	CPUUsagePercent      float64 `json:"cpu_usage_percent"`
}

// statsTracker accumulates PerformanceStats from the render thread.
type statsTracker struct {
	mu    sync.Mutex
	stats PerformanceStats
}

// record adds one block that took elapsed to render frames samples at
// sampleRate, and returns the updated stats.
func (t *statsTracker) record(elapsed time.Duration, frames int, sampleRate float64) PerformanceStats {
	ms := float64(elapsed) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.stats
	if s.TotalBlocksProcessed == 0 {
		s.MinMs, s.MaxMs, s.AverageMs = ms, ms, ms
	} else {
		s.MinMs = min(s.MinMs, ms)
		s.MaxMs = max(s.MaxMs, ms)
		s.AverageMs = statsSmoothing*ms + (1-statsSmoothing)*s.AverageMs
	}
	s.TotalBlocksProcessed++

	if sampleRate > 0 && frames > 0 {
		blockMs := float64(frames) / sampleRate * 1000
		s.CPUUsagePercent = s.AverageMs / blockMs * 100
	}
	return *s
}

func (t *statsTracker) snapshot() PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *statsTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = PerformanceStats{}
}
