// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package graph

import (
	"sync/atomic"

	"github.com/patchbay/patchbay/pkg/audio"
)

// NodeID identifies a node for the lifetime of a graph. IDs are allocated
// monotonically and never reused.
type NodeID uint32

// InvalidNodeID is never assigned to a node.
const InvalidNodeID NodeID = 0

// Fixed I/O node IDs, allocated by New before any other node.
const (
	AudioInputID NodeID = iota + 1
	AudioOutputID
	MIDIInputID
	MIDIOutputID
)

// Kind distinguishes the fixed I/O endpoints from plugin nodes.
type Kind int

// Node kinds.
const (
	KindPlugin Kind = iota
	KindAudioInput
	KindAudioOutput
	KindMIDIInput
	KindMIDIOutput
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPlugin:
		return "plugin"
	case KindAudioInput:
		return "audio-in"
	case KindAudioOutput:
		return "audio-out"
	case KindMIDIInput:
		return "midi-in"
	case KindMIDIOutput:
		return "midi-out"
	default:
		return "unknown"
	}
}

// IsIO reports whether the kind is one of the four fixed endpoints.
func (k Kind) IsIO() bool {
	return k != KindPlugin
}

// Node is a schedulable unit wrapping a processor. Nodes are owned by the
// graph; the accessors are safe to call from the control thread.
type Node struct {
	id       NodeID
	name     string
	kind     Kind
	proc     audio.Processor
	seq      uint64
	bypassed *atomic.Bool
}

// NodeOption configures a node at insertion.
type NodeOption func(*Node)

// WithName sets the display name. Defaults to the processor name.
func WithName(name string) NodeOption {
	return func(n *Node) {
		if name != "" {
			n.name = name
		}
	}
}

// WithBypassed inserts the node in the bypassed state.
func WithBypassed(bypassed bool) NodeOption {
	return func(n *Node) {
		n.bypassed.Store(bypassed)
	}
}

func newNode(id NodeID, kind Kind, proc audio.Processor, seq uint64, opts ...NodeOption) *Node {
	n := &Node{
		id:       id,
		name:     proc.Name(),
		kind:     kind,
		proc:     proc,
		seq:      seq,
		bypassed: new(atomic.Bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ID returns the node ID.
func (n *Node) ID() NodeID { return n.id }

// Name returns the display name.
func (n *Node) Name() string { return n.name }

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Processor returns the wrapped processor.
func (n *Node) Processor() audio.Processor { return n.proc }

// IsBypassed reports whether the node is skipped during rendering.
func (n *Node) IsBypassed() bool { return n.bypassed.Load() }

// NumInputs returns the processor's audio input count.
func (n *Node) NumInputs() int { return n.proc.NumInputs() }

// NumOutputs returns the processor's audio output count.
func (n *Node) NumOutputs() int { return n.proc.NumOutputs() }

// AcceptsMIDI reports whether the processor consumes MIDI.
func (n *Node) AcceptsMIDI() bool { return n.proc.AcceptsMIDI() }

// ProducesMIDI reports whether the processor emits MIDI.
func (n *Node) ProducesMIDI() bool { return n.proc.ProducesMIDI() }

// LatencySamples returns the processor latency.
func (n *Node) LatencySamples() int { return n.proc.LatencySamples() }

// withProcessor returns a copy of n wrapping proc. The bypass flag is shared.
func (n *Node) withProcessor(proc audio.Processor) *Node {
	c := *n
	c.proc = proc
	return &c
}

// withName returns a copy of n with a new display name.
func (n *Node) withName(name string) *Node {
	c := *n
	c.name = name
	return &c
}

// ioProcessor is the processor behind the four fixed endpoints. Rendering of
// I/O nodes is done by the schedule; Process is never called.
type ioProcessor struct {
	kind     Kind
	channels int
}

func (p *ioProcessor) Name() string {
	switch p.kind {
	case KindAudioInput:
		return "Audio Input"
	case KindAudioOutput:
		return "Audio Output"
	case KindMIDIInput:
		return "MIDI Input"
	default:
		return "MIDI Output"
	}
}

func (p *ioProcessor) NumInputs() int {
	if p.kind == KindAudioOutput {
		return p.channels
	}
	return 0
}

func (p *ioProcessor) NumOutputs() int {
	if p.kind == KindAudioInput {
		return p.channels
	}
	return 0
}

func (p *ioProcessor) AcceptsMIDI() bool  { return p.kind == KindMIDIOutput }
func (p *ioProcessor) ProducesMIDI() bool { return p.kind == KindMIDIInput }
func (p *ioProcessor) LatencySamples() int {
	return 0
}
func (p *ioProcessor) Prepare(float64, int) error                 { return nil }
func (p *ioProcessor) Process([][]float32, int, *audio.MIDIBuffer) {}
func (p *ioProcessor) Release()                                   {}
