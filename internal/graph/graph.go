// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package graph implements the audio processing topology: nodes wrapping
// processors, directed audio/MIDI connections, a cached execution order and
// the compiled render schedule.
//
// Mutations happen on the control thread and are applied atomically through
// Update. The render thread only ever sees a complete schedule, replaced
// wholesale under a short-held render lock.
//
// Structural failures (unknown node, illegal or duplicate edge, cycle,
// removing a fixed I/O node) are reported as false or InvalidNodeID; they are
// never fatal.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/patchbay/patchbay/pkg/audio"
)

// ErrInvalidBlockSize is returned by Prepare for non-positive block sizes.
var ErrInvalidBlockSize = errors.New("block size must be positive")

// Graph is the node-and-connection topology. Control-side methods are safe
// for concurrent use; Render is called from the render thread only.
type Graph struct {
	mu     sync.Mutex
	topo   *topology
	order  []NodeID
	nextID NodeID
	seq    uint64
	rev    uint64

	sampleRate float64
	blockSize  int
	prepared   bool

	renderMu sync.Mutex
	sched    *schedule
}

// New creates a graph holding the four fixed I/O nodes, laid out for the
// given audio channel counts.
func New(numInputs, numOutputs int) *Graph {
	g := &Graph{
		topo: &topology{nodes: make(map[NodeID]*Node, 8)},
	}
	for _, io := range []*ioProcessor{
		{kind: KindAudioInput, channels: numInputs},
		{kind: KindAudioOutput, channels: numOutputs},
		{kind: KindMIDIInput},
		{kind: KindMIDIOutput},
	} {
		n := g.allocNode(io.kind, io)
		g.topo.nodes[n.id] = n
	}
	g.order, _ = executionOrder(g.topo)
	return g
}

func (g *Graph) allocNode(kind Kind, p audio.Processor, opts ...NodeOption) *Node {
	g.nextID++
	g.seq++
	return newNode(g.nextID, kind, p, g.seq, opts...)
}

// Update applies fn to a copy of the topology. If fn returns an error, or
// leaves the topology unchanged, nothing is committed. Otherwise the
// execution order is recomputed, a new schedule is swapped in and the
// processors of removed nodes are released.
func (g *Graph) Update(fn func(tx *Tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &Tx{g: g, t: g.topo.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.changed {
		return nil
	}

	order, err := executionOrder(tx.t)
	if err != nil {
		return err
	}
	g.topo = tx.t
	g.order = order
	g.rev++
	g.swapScheduleLocked()

	for _, n := range tx.removed {
		n.proc.Release()
	}
	return nil
}

// swapScheduleLocked compiles the current topology and publishes it to the
// render thread. Once it returns no render call uses the old schedule.
func (g *Graph) swapScheduleLocked() {
	var s *schedule
	if g.prepared {
		s = buildSchedule(g.topo, g.order, g.blockSize)
	}
	g.renderMu.Lock()
	g.sched = s
	g.renderMu.Unlock()
}

// AddNode inserts a plugin node and returns its ID, or InvalidNodeID for a
// nil processor.
func (g *Graph) AddNode(p audio.Processor, opts ...NodeOption) NodeID {
	id := InvalidNodeID
	_ = g.Update(func(tx *Tx) error {
		id = tx.AddNode(p, opts...)
		return nil
	})
	return id
}

// RemoveNode disconnects and deletes a plugin node, releasing its processor.
// It returns false for unknown IDs and for the fixed I/O nodes.
func (g *Graph) RemoveNode(id NodeID) bool {
	var ok bool
	_ = g.Update(func(tx *Tx) error {
		ok = tx.RemoveNode(id)
		return nil
	})
	return ok
}

// AddConnection inserts c, returning false if it is illegal or a duplicate.
func (g *Graph) AddConnection(c Connection) bool {
	var ok bool
	_ = g.Update(func(tx *Tx) error {
		ok = tx.AddConnection(c)
		return nil
	})
	return ok
}

// RemoveConnection deletes c, returning false when it is absent.
func (g *Graph) RemoveConnection(c Connection) bool {
	var ok bool
	_ = g.Update(func(tx *Tx) error {
		ok = tx.RemoveConnection(c)
		return nil
	})
	return ok
}

// DisconnectNode removes every edge touching id.
func (g *Graph) DisconnectNode(id NodeID) bool {
	var ok bool
	_ = g.Update(func(tx *Tx) error {
		ok = tx.DisconnectNode(id)
		return nil
	})
	return ok
}

// RenameNode changes a node's display name.
func (g *Graph) RenameNode(id NodeID, name string) bool {
	var ok bool
	_ = g.Update(func(tx *Tx) error {
		ok = tx.RenameNode(id, name)
		return nil
	})
	return ok
}

// IsConnectionLegal reports whether c could be added right now.
func (g *Graph) IsConnectionLegal(c Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.isConnectionLegal(c)
}

// SetBypassed sets a plugin node's bypass flag. The render thread observes
// the change on its next block; the topology is not rebuilt.
func (g *Graph) SetBypassed(id NodeID, bypassed bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.topo.nodes[id]
	if !ok || n.kind.IsIO() {
		return false
	}
	n.bypassed.Store(bypassed)
	return true
}

// SetIOChannels re-attaches the audio I/O nodes for a new channel layout.
// Edges referring to channels that no longer exist are dropped.
func (g *Graph) SetIOChannels(numInputs, numOutputs int) {
	_ = g.Update(func(tx *Tx) error {
		tx.SetIOChannels(numInputs, numOutputs)
		return nil
	})
}

// Prepare prepares every node for the given rate and block size and builds
// the render schedule. If any node fails, the nodes prepared so far are
// released and the graph stays unprepared.
func (g *Graph) Prepare(sampleRate float64, blockSize int) error {
	if blockSize <= 0 {
		return ErrInvalidBlockSize
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prepared := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		n := g.topo.nodes[id]
		if err := n.proc.Prepare(sampleRate, blockSize); err != nil {
			for _, p := range prepared {
				p.proc.Release()
			}
			return fmt.Errorf("prepare node %d (%s): %w", n.id, n.name, err)
		}
		prepared = append(prepared, n)
	}

	g.sampleRate = sampleRate
	g.blockSize = blockSize
	g.prepared = true
	g.swapScheduleLocked()
	return nil
}

// Release tears down the schedule and releases every node. It is safe to
// call on an unprepared graph.
func (g *Graph) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.prepared {
		return
	}
	g.prepared = false
	g.swapScheduleLocked()
	for _, id := range g.order {
		g.topo.nodes[id].proc.Release()
	}
}

// Render executes one block. It returns false, leaving buf untouched, when
// the graph is not prepared or frames exceeds the prepared block size.
func (g *Graph) Render(buf [][]float32, frames int, midiIn, midiOut *audio.MIDIBuffer) bool {
	g.renderMu.Lock()
	s := g.sched
	if s == nil || frames > s.blockSize {
		g.renderMu.Unlock()
		return false
	}
	s.render(buf, frames, midiIn, midiOut)
	g.renderMu.Unlock()
	return true
}

// IsPrepared reports whether a render schedule is installed.
func (g *Graph) IsPrepared() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prepared
}

// BlockSize returns the prepared block size.
func (g *Graph) BlockSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockSize
}

// SampleRate returns the prepared sample rate.
func (g *Graph) SampleRate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sampleRate
}

// ExecutionOrder returns the cached topological order.
func (g *Graph) ExecutionOrder() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.order)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.topo.nodes[id]
	return n, ok
}

// Nodes returns every node ordered by ID.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.sortedNodes()
}

// Connections returns the edge set in insertion order.
func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.topo.conns)
}

// HasConnection reports whether c is present.
func (g *Graph) HasConnection(c Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.hasConnection(c)
}

// Revision counts committed topology changes. Each committed Update adds
// exactly one, so one revision is one schedule the render thread may see.
func (g *Graph) Revision() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rev
}

// Len returns the number of nodes, including the fixed I/O nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.topo.nodes)
}
