// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package lua

import (
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"gitlab.com/gomidi/midi/v2"

	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// Script entry points. Only process is required.
//
//	function prepare(sample_rate, block_size) end
//	function process(buf, frames, params, events) return out_events end
//	function reset() end
//	function release() end
//
// buf[ch][i] holds samples, both 1-based, processed in place. params maps
// parameter IDs to plain values. events lists incoming MIDI as tables with
// offset (0-based), status, data1 and data2 fields; plugins that produce
// MIDI return a list of the same shape. A global number named latency
// declares the processing latency in samples.
const (
	fnPrepare = "prepare"
	fnProcess = "process"
	fnReset   = "reset"
	fnRelease = "release"
)

// Processor runs a Lua script as an audio processor. A script error during
// Process silences the processor until the next Prepare; the error is
// available from Err.
type Processor struct {
	*audio.ParameterSet

	name     string
	inputs   int
	outputs  int
	midiIn   bool
	midiOut  bool
	latency  int
	paramIDs []lua.LString

	mu       sync.Mutex
	L        *lua.LState
	process  lua.LValue
	channels []*lua.LTable
	buf      *lua.LTable
	params   *lua.LTable
	events   *lua.LTable

	failed atomic.Bool
	err    atomic.Pointer[error]
}

// Compile-time interface checks.
var (
	_ audio.Processor = (*Processor)(nil)
	_ audio.Resetter  = (*Processor)(nil)
)

func newProcessor(L *lua.LState, m *plugin.Manifest) *Processor {
	p := &Processor{
		ParameterSet: plugin.BuildParameters(m.Parameters),
		name:         m.Name,
		inputs:       m.Inputs,
		outputs:      m.Outputs,
		midiIn:       m.MIDIInput,
		midiOut:      m.MIDIOutput,
		L:            L,
		process:      L.GetGlobal(fnProcess),
		params:       L.NewTable(),
		events:       L.NewTable(),
	}
	if n, ok := L.GetGlobal("latency").(lua.LNumber); ok {
		p.latency = max(int(n), 0)
	}
	for _, spec := range m.Parameters {
		p.paramIDs = append(p.paramIDs, lua.LString(spec.ID))
	}
	return p
}

// Name implements audio.Processor.
func (p *Processor) Name() string { return p.name }

// NumInputs implements audio.Processor.
func (p *Processor) NumInputs() int { return p.inputs }

// NumOutputs implements audio.Processor.
func (p *Processor) NumOutputs() int { return p.outputs }

// AcceptsMIDI implements audio.Processor.
func (p *Processor) AcceptsMIDI() bool { return p.midiIn }

// ProducesMIDI implements audio.Processor.
func (p *Processor) ProducesMIDI() bool { return p.midiOut }

// LatencySamples implements audio.Processor.
func (p *Processor) LatencySamples() int { return p.latency }

// Err returns the script error that silenced the processor, if any.
func (p *Processor) Err() error {
	if e := p.err.Load(); e != nil {
		return *e
	}
	return nil
}

// Prepare allocates the sample tables and calls the script's prepare.
func (p *Processor) Prepare(sampleRate float64, blockSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := max(p.inputs, p.outputs)
	p.channels = make([]*lua.LTable, n)
	p.buf = p.L.CreateTable(n, 0)
	for ch := range p.channels {
		t := p.L.CreateTable(blockSize, 0)
		for i := 1; i <= blockSize; i++ {
			t.RawSetInt(i, lua.LNumber(0))
		}
		p.channels[ch] = t
		p.buf.RawSetInt(ch+1, t)
	}
	p.failed.Store(false)
	p.err.Store(nil)

	if err := p.callOptional(fnPrepare, lua.LNumber(sampleRate), lua.LNumber(blockSize)); err != nil {
		return oops.In("lua").With("plugin", p.name).With("operation", fnPrepare).Wrap(err)
	}
	return nil
}

// Release calls the script's release and drops the sample tables.
func (p *Processor) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channels == nil {
		return
	}
	_ = p.callOptional(fnRelease)
	p.channels = nil
	p.buf = nil
}

// Reset calls the script's reset.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.callOptional(fnReset)
}

// Process implements audio.Processor.
func (p *Processor) Process(buf [][]float32, frames int, events *audio.MIDIBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channels == nil || p.failed.Load() {
		audio.ClearChannels(buf[:min(p.outputs, len(buf))], frames)
		return
	}

	for ch, t := range p.channels {
		if ch >= len(buf) {
			break
		}
		for i, s := range buf[ch][:frames] {
			t.RawSetInt(i+1, lua.LNumber(s))
		}
	}
	for i, id := range p.paramIDs {
		p.params.RawSetString(string(id), lua.LNumber(p.Param(i).Plain()))
	}
	p.fillEvents(events)

	err := p.L.CallByParam(lua.P{Fn: p.process, NRet: 1, Protect: true},
		p.buf, lua.LNumber(frames), p.params, p.events)
	if err != nil {
		p.failed.Store(true)
		wrapped := oops.In("lua").With("plugin", p.name).With("operation", fnProcess).Wrap(err)
		p.err.Store(&wrapped)
		audio.ClearChannels(buf[:min(p.outputs, len(buf))], frames)
		return
	}
	ret := p.L.Get(-1)
	p.L.Pop(1)

	for ch := range min(p.outputs, len(buf), len(p.channels)) {
		t := p.channels[ch]
		out := buf[ch][:frames]
		for i := range out {
			if v, ok := t.RawGetInt(i + 1).(lua.LNumber); ok {
				out[i] = float32(v)
			} else {
				out[i] = 0
			}
		}
	}

	if events != nil {
		events.Clear()
		if p.midiOut {
			collectEvents(ret, events, frames)
		}
	}
}

func (p *Processor) fillEvents(events *audio.MIDIBuffer) {
	n := p.events.Len()
	for i := n; i > 0; i-- {
		p.events.RawSetInt(i, lua.LNil)
	}
	if !p.midiIn {
		return
	}
	for i, ev := range events.Events() {
		t := p.L.CreateTable(0, 4)
		t.RawSetString("offset", lua.LNumber(ev.Offset))
		for j, field := range []string{"status", "data1", "data2"} {
			v := 0
			if j < len(ev.Message) {
				v = int(ev.Message[j])
			}
			t.RawSetString(field, lua.LNumber(v))
		}
		p.events.RawSetInt(i+1, t)
	}
}

func collectEvents(ret lua.LValue, events *audio.MIDIBuffer, frames int) {
	list, ok := ret.(*lua.LTable)
	if !ok {
		return
	}
	list.ForEach(func(_, v lua.LValue) {
		t, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		offset := min(max(int(lua.LVAsNumber(t.RawGetString("offset"))), 0), frames-1)
		status := byte(lua.LVAsNumber(t.RawGetString("status")))
		if status < 0x80 {
			return
		}
		msg := midi.Message{status,
			byte(lua.LVAsNumber(t.RawGetString("data1"))) & 0x7f,
			byte(lua.LVAsNumber(t.RawGetString("data2"))) & 0x7f,
		}
		events.Add(offset, msg)
	})
}

// callOptional calls a global function if the script defines it.
func (p *Processor) callOptional(name string, args ...lua.LValue) error {
	fn := p.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
}
