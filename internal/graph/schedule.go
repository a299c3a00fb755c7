// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package graph

import (
	"sync/atomic"

	"github.com/patchbay/patchbay/pkg/audio"
)

// route sums one source output channel into one destination input channel.
type route struct {
	src   *step
	srcCh int
	dstCh int
}

// step is one node's slot in a compiled schedule. Its buffer holds the
// summed inputs before Process and the node's outputs after it.
type step struct {
	id       NodeID
	kind     Kind
	proc     audio.Processor
	bypassed *atomic.Bool

	buf      [][]float32
	routes   []route
	midiSrcs []*step
	midi     *audio.MIDIBuffer
}

// schedule is the immutable render program compiled from an execution
// order. All buffers are allocated at build time; render never allocates.
type schedule struct {
	blockSize int
	steps     []*step
	audioOut  *step
	midiOut   *step
}

func buildSchedule(t *topology, order []NodeID, blockSize int) *schedule {
	s := &schedule{
		blockSize: blockSize,
		steps:     make([]*step, 0, len(order)),
	}
	byID := make(map[NodeID]*step, len(order))

	for _, id := range order {
		n := t.nodes[id]
		st := &step{
			id:       id,
			kind:     n.kind,
			proc:     n.proc,
			bypassed: n.bypassed,
			buf:      audio.NewBuffer(max(n.NumInputs(), n.NumOutputs()), blockSize),
		}
		if n.AcceptsMIDI() || n.ProducesMIDI() {
			st.midi = audio.NewMIDIBuffer(audio.DefaultMIDICapacity)
		}
		switch n.kind {
		case KindAudioOutput:
			s.audioOut = st
		case KindMIDIOutput:
			s.midiOut = st
		}
		byID[id] = st
		s.steps = append(s.steps, st)
	}

	for _, c := range t.conns {
		src, dst := byID[c.Source.Node], byID[c.Dest.Node]
		if c.IsMIDI() {
			dst.midiSrcs = append(dst.midiSrcs, src)
			continue
		}
		dst.routes = append(dst.routes, route{src: src, srcCh: c.Source.Channel, dstCh: c.Dest.Channel})
	}
	return s
}

// render runs every step in order. buf carries the device input on entry and
// receives the graph output; frames must not exceed blockSize.
func (s *schedule) render(buf [][]float32, frames int, midiIn, midiOut *audio.MIDIBuffer) {
	for _, st := range s.steps {
		switch st.kind {
		case KindAudioInput:
			for ch, dst := range st.buf {
				if ch < len(buf) {
					audio.CopyChannel(dst, buf[ch], frames)
				} else {
					clear(dst[:frames])
				}
			}
		case KindMIDIInput:
			st.midi.Clear()
			st.midi.Merge(midiIn)
		default:
			st.gather(frames)
			if st.kind == KindPlugin && !st.bypassed.Load() {
				st.proc.Process(st.buf, frames, st.midi)
			}
		}
	}

	if out := s.audioOut; out != nil {
		for ch, dst := range buf {
			if ch < len(out.buf) {
				audio.CopyChannel(dst, out.buf[ch], frames)
			} else {
				clear(dst[:min(frames, len(dst))])
			}
		}
	}
	if midiOut != nil {
		midiOut.Clear()
		if s.midiOut != nil {
			midiOut.Merge(s.midiOut.midi)
		}
	}
}

// gather clears the step buffer and sums every incoming edge into it.
func (st *step) gather(frames int) {
	for _, ch := range st.buf {
		clear(ch[:frames])
	}
	for _, r := range st.routes {
		audio.AddChannel(st.buf[r.dstCh], r.src.buf[r.srcCh], frames)
	}
	if st.midi != nil {
		st.midi.Clear()
		for _, src := range st.midiSrcs {
			st.midi.Merge(src.midi)
		}
	}
}
