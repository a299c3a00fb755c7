// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package engine implements the real-time graph processor: it owns an audio
// graph, drives it from the render callback, manages the channel layout and
// optional external source, keeps performance statistics and publishes
// engine notifications.
package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/errutil"
)

// performanceInterval is the number of blocks between performance
// notifications.
const performanceInterval = 100

// Instantiator creates a processor for a descriptor. SetState uses it to
// rebuild plugin nodes.
type Instantiator func(ctx context.Context, desc plugin.Descriptor, sampleRate float64, blockSize int) (audio.Processor, error)

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithNotifier sets the notifier events are published on.
func WithNotifier(n *Notifier) Option {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithInstantiator sets the function SetState uses to recreate plugins.
func WithInstantiator(fn Instantiator) Option {
	return func(p *Processor) {
		p.instantiate = fn
	}
}

// Processor is the graph audio processor. Control methods are safe for
// concurrent use and are serialised internally; ProcessBlock and
// OnAudioBlock are called from the render thread.
type Processor struct {
	logger      *slog.Logger
	notifier    *Notifier
	instantiate Instantiator
	graph       *graph.Graph
	stats       statsTracker

	mu          sync.Mutex
	cfg         GraphConfig
	prepared    bool
	descriptors map[graph.NodeID]plugin.Descriptor

	// rtMu is held by the render thread for one block and by the control
	// thread only to swap render state.
	rtMu sync.Mutex
	rt   renderState
}

// renderState is everything ProcessBlock touches besides the graph. It is
// preallocated by Prepare.
type renderState struct {
	active      bool
	sampleRate  float64
	blockSize   int
	midiEnabled bool

	views     [][]float32
	ioBuf     [][]float32
	midiIn    *audio.MIDIBuffer
	midiChunk *audio.MIDIBuffer
	midiOut   *audio.MIDIBuffer

	source    Transport
	sourceBuf [][]float32
}

func newRenderState(cfg GraphConfig) renderState {
	return renderState{
		active:      true,
		sampleRate:  cfg.SampleRate,
		blockSize:   cfg.BlockSize,
		midiEnabled: cfg.EnableMIDI,
		views:       make([][]float32, MaxChannels),
		ioBuf:       audio.NewBuffer(max(cfg.NumInputChannels, cfg.NumOutputChannels), cfg.BlockSize),
		midiIn:      audio.NewMIDIBuffer(audio.DefaultMIDICapacity),
		midiChunk:   audio.NewMIDIBuffer(audio.DefaultMIDICapacity),
		midiOut:     audio.NewMIDIBuffer(audio.DefaultMIDICapacity),
		sourceBuf:   audio.NewBuffer(cfg.NumInputChannels, cfg.BlockSize),
	}
}

// New creates an unprepared processor for cfg. The graph starts with the
// default passthrough connections.
func New(cfg GraphConfig, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		logger:      slog.Default(),
		cfg:         cfg,
		graph:       graph.New(cfg.NumInputChannels, cfg.NumOutputChannels),
		descriptors: make(map[graph.NodeID]plugin.Descriptor),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = NewNotifier(p.logger)
	}
	p.restorePassthroughLocked()
	return p, nil
}

// Notifier returns the notifier events are published on.
func (p *Processor) Notifier() *Notifier {
	return p.notifier
}

// Config returns the current configuration.
func (p *Processor) Config() GraphConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// IsPrepared reports whether the processor is ready to render.
func (p *Processor) IsPrepared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared
}

// Prepare readies every node for the given rate and block size. A prepared
// processor is released first.
func (p *Processor) Prepare(sampleRate float64, blockSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.cfg
	cfg.SampleRate = sampleRate
	cfg.BlockSize = blockSize
	if err := cfg.Validate(); err != nil {
		p.fail(err)
		return err
	}

	previous, wasPrepared := p.cfg, p.prepared
	p.releaseLocked()
	p.cfg = cfg
	if err := p.prepareLocked(); err != nil {
		p.cfg = previous
		if wasPrepared {
			p.reprepareLocked()
		}
		return err
	}
	return nil
}

// reprepareLocked prepares again at p.cfg after a failed switch. A failure
// here leaves the processor unprepared.
func (p *Processor) reprepareLocked() {
	if err := p.prepareLocked(); err != nil {
		p.logger.Error("engine could not return to its previous configuration",
			"sample_rate", p.cfg.SampleRate,
			"block_size", p.cfg.BlockSize,
			"error", err)
	}
}

func (p *Processor) prepareLocked() error {
	cfg := p.cfg
	if err := p.graph.Prepare(cfg.SampleRate, cfg.BlockSize); err != nil {
		err = oops.In("engine").
			Code(CodePrepareFailed).
			With("sample_rate", cfg.SampleRate).
			With("block_size", cfg.BlockSize).
			Wrap(err)
		p.fail(err)
		return err
	}

	rt := newRenderState(cfg)

	p.rtMu.Lock()
	source := p.rt.source
	p.rtMu.Unlock()
	if source != nil {
		if err := source.Prepare(cfg.BlockSize, cfg.SampleRate); err != nil {
			p.logger.Warn("external source failed to prepare, detaching", "error", err)
			source = nil
		}
	}
	rt.source = source

	p.rtMu.Lock()
	p.rt = rt
	p.rtMu.Unlock()

	p.stats.reset()
	p.prepared = true
	p.notifier.StateChanged(StatePrepared)
	p.logger.Info("engine prepared",
		"sample_rate", cfg.SampleRate,
		"block_size", cfg.BlockSize,
		"inputs", cfg.NumInputChannels,
		"outputs", cfg.NumOutputChannels)
	return nil
}

// Release releases every node and stops rendering. Calling it on an
// unprepared processor does nothing.
func (p *Processor) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

func (p *Processor) releaseLocked() {
	if !p.prepared {
		return
	}

	p.rtMu.Lock()
	p.rt.active = false
	source := p.rt.source
	p.rtMu.Unlock()

	p.graph.Release()
	if source != nil {
		source.Release()
	}
	p.prepared = false
	p.notifier.StateChanged(StateReleased)
	p.logger.Info("engine released")
}

// Reset clears signal history in every processor that supports it and
// resets the performance statistics.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var resetters []audio.Resetter
	for _, n := range p.graph.Nodes() {
		if r, ok := n.Processor().(audio.Resetter); ok {
			resetters = append(resetters, r)
		}
	}

	p.rtMu.Lock()
	for _, r := range resetters {
		r.Reset()
	}
	p.rtMu.Unlock()

	p.stats.reset()
}

// Configure switches to cfg. An invalid config is rejected and the current
// one kept. A changed config on a prepared processor performs one
// release/prepare cycle; afterwards the default passthrough connections are
// restored for every output left without a source. If a node cannot be
// prepared for cfg, the previous config, I/O layout and connections are put
// back and the processor is prepared again as before.
func (p *Processor) Configure(cfg GraphConfig) error {
	if err := cfg.Validate(); err != nil {
		p.fail(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg == p.cfg {
		return nil
	}

	previous, wasPrepared := p.cfg, p.prepared
	conns := p.graph.Connections()
	p.releaseLocked()

	p.cfg = cfg
	_ = p.graph.Update(func(tx *graph.Tx) error {
		tx.SetIOChannels(cfg.NumInputChannels, cfg.NumOutputChannels)
		restorePassthrough(tx, cfg)
		return nil
	})

	if wasPrepared {
		if err := p.prepareLocked(); err != nil {
			p.cfg = previous
			_ = p.graph.Update(func(tx *graph.Tx) error {
				tx.SetIOChannels(previous.NumInputChannels, previous.NumOutputChannels)
				for _, c := range tx.Connections() {
					if !slices.Contains(conns, c) {
						tx.RemoveConnection(c)
					}
				}
				for _, c := range conns {
					tx.AddConnection(c)
				}
				return nil
			})
			p.reprepareLocked()
			return err
		}
	}
	return nil
}

// restorePassthrough wires audio-in to audio-out on every channel whose
// output has no source. midi-in feeds midi-out when MIDI is enabled and
// midi-out has no source; with MIDI disabled that edge is removed.
func restorePassthrough(tx *graph.Tx, cfg GraphConfig) {
	for ch := range min(cfg.NumInputChannels, cfg.NumOutputChannels) {
		if len(tx.Incoming(graph.AudioOutputID, ch)) == 0 {
			tx.AddConnection(graph.AudioConnection(graph.AudioInputID, ch, graph.AudioOutputID, ch))
		}
	}

	midi := graph.MIDIConnection(graph.MIDIInputID, graph.MIDIOutputID)
	switch {
	case !cfg.EnableMIDI:
		tx.RemoveConnection(midi)
	case len(tx.Incoming(graph.MIDIOutputID, graph.MIDIChannel)) == 0:
		tx.AddConnection(midi)
	}
}

func (p *Processor) restorePassthroughLocked() {
	cfg := p.cfg
	_ = p.graph.Update(func(tx *graph.Tx) error {
		restorePassthrough(tx, cfg)
		return nil
	})
}

// SetExternalSource attaches t to be mixed into the graph input. The
// previous source, if any, is released.
func (p *Processor) SetExternalSource(t Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t != nil && p.prepared {
		if err := t.Prepare(p.cfg.BlockSize, p.cfg.SampleRate); err != nil {
			err = oops.In("engine").Hint("external source failed to prepare").Wrap(err)
			p.fail(err)
			return err
		}
	}

	p.rtMu.Lock()
	old := p.rt.source
	p.rt.source = t
	p.rtMu.Unlock()

	if old != nil && p.prepared {
		old.Release()
	}
	return nil
}

// ClearExternalSource detaches the external source.
func (p *Processor) ClearExternalSource() {
	_ = p.SetExternalSource(nil)
}

// ProcessBlock renders frames samples in place. buf holds the input on entry
// and the output on return; midi likewise carries incoming events in and the
// graph's MIDI output out. Blocks longer than the prepared block size are
// rendered in chunks. When unprepared the output is cleared.
func (p *Processor) ProcessBlock(buf [][]float32, frames int, midi *audio.MIDIBuffer) {
	start := time.Now()

	p.rtMu.Lock()
	ok := p.processLocked(buf, frames, midi)
	sampleRate := p.rt.sampleRate
	p.rtMu.Unlock()

	if ok {
		p.recordBlock(start, frames, sampleRate)
	}
}

// OnAudioBlock is the device callback: it renders in into out.
func (p *Processor) OnAudioBlock(in, out [][]float32, frames int) {
	start := time.Now()

	p.rtMu.Lock()
	rt := &p.rt
	if !rt.active || frames <= 0 {
		p.rtMu.Unlock()
		audio.ClearChannels(out, frames)
		return
	}
	for off := 0; off < frames; off += rt.blockSize {
		n := min(rt.blockSize, frames-off)
		for ch, dst := range rt.ioBuf {
			if ch < len(in) && len(in[ch]) >= off+n {
				copy(dst[:n], in[ch][off:off+n])
			} else {
				clear(dst[:n])
			}
		}
		p.processLocked(rt.ioBuf, n, nil)
		for ch, dst := range out {
			if len(dst) < off+n {
				continue
			}
			if ch < len(rt.ioBuf) {
				copy(dst[off:off+n], rt.ioBuf[ch][:n])
			} else {
				clear(dst[off : off+n])
			}
		}
	}
	sampleRate := rt.sampleRate
	p.rtMu.Unlock()

	p.recordBlock(start, frames, sampleRate)
}

// AboutToStart is the device start notification.
func (p *Processor) AboutToStart(sampleRate float64, blockSize int) {
	if err := p.Prepare(sampleRate, blockSize); err != nil {
		errutil.LogError(p.logger, "device start: prepare failed", err)
	}
}

// Stopped is the device stop notification.
func (p *Processor) Stopped() {
	p.Release()
}

// processLocked renders one device block. rtMu must be held.
func (p *Processor) processLocked(buf [][]float32, frames int, midi *audio.MIDIBuffer) bool {
	rt := &p.rt
	for _, ch := range buf {
		frames = min(frames, len(ch))
	}
	if !rt.active || frames <= 0 {
		audio.ClearChannels(buf, frames)
		if midi != nil {
			midi.Clear()
		}
		return false
	}

	rt.midiIn.Clear()
	if rt.midiEnabled {
		rt.midiIn.Merge(midi)
	}
	if midi != nil {
		midi.Clear()
	}

	nviews := min(len(buf), len(rt.views))
	for ch := nviews; ch < len(buf); ch++ {
		clear(buf[ch][:frames])
	}

	for off := 0; off < frames; off += rt.blockSize {
		n := min(rt.blockSize, frames-off)
		views := rt.views[:nviews]
		for ch := range views {
			views[ch] = buf[ch][off : off+n]
		}

		if rt.source != nil {
			rt.source.NextBlock(rt.sourceBuf, n)
			for ch := range min(len(views), len(rt.sourceBuf)) {
				audio.AddChannel(views[ch], rt.sourceBuf[ch], n)
			}
		}

		rt.splitMIDI(off, n, frames)
		if !p.graph.Render(views, n, rt.midiChunk, rt.midiOut) {
			audio.ClearChannels(views, n)
			rt.midiOut.Clear()
		}
		if midi != nil && rt.midiEnabled {
			for _, ev := range rt.midiOut.Events() {
				midi.Add(ev.Offset+off, ev.Message)
			}
		}
	}
	return true
}

// splitMIDI fills midiChunk with the input events falling in [off, off+n),
// rebased to the chunk. Offsets outside the block are clamped into it.
func (rt *renderState) splitMIDI(off, n, frames int) {
	rt.midiChunk.Clear()
	for _, ev := range rt.midiIn.Events() {
		pos := min(max(ev.Offset, 0), frames-1)
		if pos >= off && pos < off+n {
			rt.midiChunk.Add(pos-off, ev.Message)
		}
	}
}

func (p *Processor) recordBlock(start time.Time, frames int, sampleRate float64) {
	stats := p.stats.record(time.Since(start), frames, sampleRate)
	if stats.TotalBlocksProcessed%performanceInterval == 0 {
		p.notifier.Performance(stats)
	}
}

// Stats returns the current performance statistics.
func (p *Processor) Stats() PerformanceStats {
	return p.stats.snapshot()
}

// ResetStats clears the performance statistics.
func (p *Processor) ResetStats() {
	p.stats.reset()
}

// fail publishes err as an error notification and logs it.
func (p *Processor) fail(err error) {
	p.notifier.Error(err.Error())
	errutil.LogError(p.logger, "engine operation failed", err)
}
