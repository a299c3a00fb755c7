// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package device defines the audio device boundary the engine is driven
// from, and a clock-driven null device for headless runs and tests.
package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Callback receives the device lifecycle and one call per audio block.
// OnAudioBlock runs on the device's render goroutine.
type Callback interface {
	AboutToStart(sampleRate float64, blockSize int)
	OnAudioBlock(in, out [][]float32, frames int)
	Stopped()
}

// Device is an audio device that drives a Callback.
type Device interface {
	Start(ctx context.Context, cb Callback) error
	Stop()
}

// ErrRunning is returned by Start when the device is already running.
var ErrRunning = errors.New("device already running")

// Config describes the null device's stream.
type Config struct {
	SampleRate float64
	BlockSize  int
	Inputs     int
	Outputs    int
}

// Null is a device with no hardware behind it. It renders one block per
// block duration of wall-clock time, feeding silence or the configured
// input generator.
type Null struct {
	cfg      Config
	logger   *slog.Logger
	interval time.Duration
	input    func(in [][]float32, frames int)
	output   func(out [][]float32, frames int)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	in, out [][]float32
	blocks  uint64
}

// Compile-time interface check.
var _ Device = (*Null)(nil)

// NullOption configures a Null device.
type NullOption func(*Null)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) NullOption {
	return func(n *Null) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithInterval overrides the tick interval. Zero renders as fast as
// possible.
func WithInterval(d time.Duration) NullOption {
	return func(n *Null) { n.interval = d }
}

// WithInput sets a generator that fills the input channels before each block.
func WithInput(fn func(in [][]float32, frames int)) NullOption {
	return func(n *Null) { n.input = fn }
}

// WithOutput sets a sink that observes the output channels after each block.
func WithOutput(fn func(out [][]float32, frames int)) NullOption {
	return func(n *Null) { n.output = fn }
}

// NewNull creates a null device.
func NewNull(cfg Config, opts ...NullOption) (*Null, error) {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 || cfg.Inputs < 0 || cfg.Outputs < 0 {
		return nil, oops.In("device").
			With("sample_rate", cfg.SampleRate).
			With("block_size", cfg.BlockSize).
			Errorf("invalid device configuration")
	}
	n := &Null{
		cfg:      cfg,
		logger:   slog.Default(),
		interval: time.Duration(float64(cfg.BlockSize) / cfg.SampleRate * float64(time.Second)),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Config returns the stream configuration.
func (n *Null) Config() Config { return n.cfg }

// Start announces the stream to cb and begins rendering on a new goroutine.
func (n *Null) Start(ctx context.Context, cb Callback) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		return ErrRunning
	}

	n.in = newChannels(n.cfg.Inputs, n.cfg.BlockSize)
	n.out = newChannels(n.cfg.Outputs, n.cfg.BlockSize)
	cb.AboutToStart(n.cfg.SampleRate, n.cfg.BlockSize)

	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	go n.run(ctx, cb, n.done)

	n.logger.Info("null device started",
		"sample_rate", n.cfg.SampleRate,
		"block_size", n.cfg.BlockSize,
		"interval", n.interval)
	return nil
}

// Stop halts rendering, waits for the render goroutine and notifies the
// callback. Stopping a stopped device is a no-op.
func (n *Null) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Blocks returns the number of blocks rendered since the device was created.
func (n *Null) Blocks() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocks
}

func (n *Null) run(ctx context.Context, cb Callback, done chan struct{}) {
	defer close(done)
	defer cb.Stopped()

	var tick <-chan time.Time
	if n.interval > 0 {
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}
		n.render(cb)
	}
}

func (n *Null) render(cb Callback) {
	frames := n.cfg.BlockSize
	if n.input != nil {
		n.input(n.in, frames)
	} else {
		for _, ch := range n.in {
			clear(ch)
		}
	}
	cb.OnAudioBlock(n.in, n.out, frames)
	if n.output != nil {
		n.output(n.out, frames)
	}

	n.mu.Lock()
	n.blocks++
	n.mu.Unlock()
}

func newChannels(channels, frames int) [][]float32 {
	buf := make([][]float32, channels)
	for i := range buf {
		buf[i] = make([]float32, frames)
	}
	return buf
}
