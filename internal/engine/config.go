// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"time"

	"github.com/samber/oops"
)

// Supported configuration ranges.
const (
	MinSampleRate = 8000
	MaxSampleRate = 384000
	MinBlockSize  = 16
	MaxBlockSize  = 8192
	MaxChannels   = 64
)

// GraphConfig is the render configuration of a processor. Two configs are
// equal exactly when no release/prepare cycle is needed to switch between
// them.
type GraphConfig struct {
	SampleRate        float64 `json:"sample_rate" koanf:"sample-rate"`
	BlockSize         int     `json:"block_size" koanf:"block-size"`
	NumInputChannels  int     `json:"num_input_channels" koanf:"inputs"`
	NumOutputChannels int     `json:"num_output_channels" koanf:"outputs"`
	EnableMIDI        bool    `json:"enable_midi" koanf:"midi"`
}

// DefaultConfig returns 48 kHz, 512-sample blocks, stereo in and out with MIDI.
func DefaultConfig() GraphConfig {
	return GraphConfig{
		SampleRate:        48000,
		BlockSize:         512,
		NumInputChannels:  2,
		NumOutputChannels: 2,
		EnableMIDI:        true,
	}
}

// Validate reports whether the config is within the supported ranges.
func (c GraphConfig) Validate() error {
	errb := oops.Code(CodeConfigInvalid).With("config", c)
	switch {
	case c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate:
		return errb.Errorf("sample rate %.0f outside %d..%d", c.SampleRate, MinSampleRate, MaxSampleRate)
	case c.BlockSize < MinBlockSize || c.BlockSize > MaxBlockSize:
		return errb.Errorf("block size %d outside %d..%d", c.BlockSize, MinBlockSize, MaxBlockSize)
	case c.NumInputChannels < 0 || c.NumInputChannels > MaxChannels:
		return errb.Errorf("input channels %d outside 0..%d", c.NumInputChannels, MaxChannels)
	case c.NumOutputChannels < 1 || c.NumOutputChannels > MaxChannels:
		return errb.Errorf("output channels %d outside 1..%d", c.NumOutputChannels, MaxChannels)
	}
	return nil
}

// BlockDuration returns the wall-clock length of one full block.
func (c GraphConfig) BlockDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.BlockSize) / c.SampleRate * float64(time.Second))
}
