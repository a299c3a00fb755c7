// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package audio

// NewBuffer allocates a planar buffer of channels × frames samples.
func NewBuffer(channels, frames int) [][]float32 {
	buf := make([][]float32, channels)
	backing := make([]float32, channels*frames)
	for ch := range buf {
		buf[ch] = backing[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return buf
}

// ClearChannels zeroes the first frames samples of every channel.
func ClearChannels(buf [][]float32, frames int) {
	for _, ch := range buf {
		n := max(min(frames, len(ch)), 0)
		clear(ch[:n])
	}
}

// AddChannel sums src into dst over frames samples.
func AddChannel(dst, src []float32, frames int) {
	n := min(frames, len(dst), len(src))
	dst, src = dst[:n], src[:n]
	for i := range dst {
		dst[i] += src[i]
	}
}

// CopyChannel copies frames samples of src into dst.
func CopyChannel(dst, src []float32, frames int) {
	n := min(frames, len(dst), len(src))
	copy(dst[:n], src[:n])
}
