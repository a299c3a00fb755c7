// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package goplugin

import (
	"sync"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"

	"github.com/patchbay/patchbay/pkg/audio"
	"github.com/patchbay/patchbay/pkg/pluginsdk"
)

// remoteProcessor is the host-side view of a served processor.
type remoteProcessor interface {
	Info() (pluginsdk.Info, error)
	Prepare(sampleRate float64, blockSize int) error
	Process(args *pluginsdk.ProcessArgs, reply *pluginsdk.ProcessReply) error
	Release() error
	Reset() error
}

// Processor proxies a processor running in a plugin subprocess. Parameter
// values live host-side and travel with every block. An RPC failure during
// Process silences the processor for good.
type Processor struct {
	*audio.ParameterSet

	info    pluginsdk.Info
	remote  remoteProcessor
	dispose func(*Processor)

	mu    sync.Mutex
	args  pluginsdk.ProcessArgs
	reply pluginsdk.ProcessReply
	dead  atomic.Bool
}

// Compile-time interface checks.
var (
	_ audio.Processor = (*Processor)(nil)
	_ audio.Resetter  = (*Processor)(nil)
)

func newProcessor(remote remoteProcessor, info pluginsdk.Info, dispose func(*Processor)) *Processor {
	params := audio.NewParameterSet()
	for _, pi := range info.Parameters {
		p := audio.NewParameter(pi.ID, pi.Name, pi.Min, pi.Max, pi.Min+float64(pi.Default)*(pi.Max-pi.Min)).
			WithUnit(pi.Unit).
			WithSteps(pi.Steps)
		params.Add(p)
	}
	return &Processor{
		ParameterSet: params,
		info:         info,
		remote:       remote,
		dispose:      dispose,
	}
}

// Name implements audio.Processor.
func (p *Processor) Name() string { return p.info.Name }

// NumInputs implements audio.Processor.
func (p *Processor) NumInputs() int { return p.info.NumInputs }

// NumOutputs implements audio.Processor.
func (p *Processor) NumOutputs() int { return p.info.NumOutputs }

// AcceptsMIDI implements audio.Processor.
func (p *Processor) AcceptsMIDI() bool { return p.info.AcceptsMIDI }

// ProducesMIDI implements audio.Processor.
func (p *Processor) ProducesMIDI() bool { return p.info.ProducesMIDI }

// LatencySamples implements audio.Processor.
func (p *Processor) LatencySamples() int { return p.info.Latency }

// Alive reports whether the subprocess is still usable.
func (p *Processor) Alive() bool { return !p.dead.Load() }

func (p *Processor) markDead() { p.dead.Store(true) }

// Prepare prepares the remote processor and sizes the transfer buffers.
func (p *Processor) Prepare(sampleRate float64, blockSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dead.Load() {
		return ErrHostClosed
	}
	if err := p.remote.Prepare(sampleRate, blockSize); err != nil {
		return err
	}
	p.args.Channels = audio.NewBuffer(max(p.info.NumInputs, p.info.NumOutputs), blockSize)
	p.args.Parameters = make([]float32, p.ParameterCount())
	return nil
}

// Release releases the remote processor.
func (p *Processor) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dead.Load() {
		return
	}
	_ = p.remote.Release()
}

// Reset resets the remote processor.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.dead.Load() {
		_ = p.remote.Reset()
	}
}

// Close kills the plugin subprocess. The processor is unusable afterwards.
func (p *Processor) Close() error {
	if p.dead.Swap(true) {
		return nil
	}
	if p.dispose != nil {
		p.dispose(p)
	}
	return nil
}

// Process sends the block to the subprocess and copies the result back.
func (p *Processor) Process(buf [][]float32, frames int, events *audio.MIDIBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	outputs := min(p.info.NumOutputs, len(buf))
	if p.dead.Load() || p.args.Channels == nil {
		audio.ClearChannels(buf[:outputs], frames)
		return
	}

	args := &p.args
	args.Frames = frames
	for ch := range args.Channels {
		dst := args.Channels[ch][:frames]
		if ch < len(buf) {
			copy(dst, buf[ch][:frames])
		} else {
			clear(dst)
		}
	}
	for i := range args.Parameters {
		args.Parameters[i] = p.ParameterValue(i)
	}
	args.Events = args.Events[:0]
	if p.info.AcceptsMIDI {
		for _, ev := range events.Events() {
			args.Events = append(args.Events, pluginsdk.Event{Offset: ev.Offset, Data: ev.Message})
		}
	}

	p.reply = pluginsdk.ProcessReply{}
	if err := p.remote.Process(args, &p.reply); err != nil {
		p.dead.Store(true)
		audio.ClearChannels(buf[:outputs], frames)
		return
	}

	for ch := range outputs {
		if ch < len(p.reply.Channels) {
			audio.CopyChannel(buf[ch], p.reply.Channels[ch], frames)
		} else {
			clear(buf[ch][:frames])
		}
	}
	if events != nil && p.info.ProducesMIDI {
		events.Clear()
		for _, ev := range p.reply.Events {
			events.Add(min(max(ev.Offset, 0), max(frames-1, 0)), midi.Message(ev.Data))
		}
	}
}
