// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

// Transport is an external audio source, such as file playback, mixed into
// the graph input ahead of rendering.
//
// Prepare and Release are called from the control thread; NextBlock from the
// render thread, where it must not block or allocate.
type Transport interface {
	Prepare(blockSize int, sampleRate float64) error
	// NextBlock writes frames samples into every channel of buf. Channels
	// the source does not produce must be zeroed.
	NextBlock(buf [][]float32, frames int)
	Release()
}
