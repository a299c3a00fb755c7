// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package graph

import (
	"cmp"
	"slices"

	"github.com/patchbay/patchbay/pkg/audio"
)

// topology is the node and edge set. It is treated as immutable once
// committed; transactions work on a clone.
type topology struct {
	nodes map[NodeID]*Node
	conns []Connection // insertion order
}

func (t *topology) clone() *topology {
	nodes := make(map[NodeID]*Node, len(t.nodes))
	for id, n := range t.nodes {
		nodes[id] = n
	}
	return &topology{
		nodes: nodes,
		conns: slices.Clone(t.conns),
	}
}

func (t *topology) sortedNodes() []*Node {
	nodes := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *Node) int { return cmp.Compare(a.id, b.id) })
	return nodes
}

func (t *topology) hasConnection(c Connection) bool {
	return slices.Contains(t.conns, c)
}

// reaches reports whether to is reachable from from along edges.
func (t *topology) reaches(from, to NodeID) bool {
	if from == to {
		return true
	}
	seen := map[NodeID]bool{from: true}
	stack := []NodeID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range t.conns {
			if c.Source.Node != id || seen[c.Dest.Node] {
				continue
			}
			if c.Dest.Node == to {
				return true
			}
			seen[c.Dest.Node] = true
			stack = append(stack, c.Dest.Node)
		}
	}
	return false
}

func (t *topology) isConnectionLegal(c Connection) bool {
	src, ok := t.nodes[c.Source.Node]
	if !ok {
		return false
	}
	dst, ok := t.nodes[c.Dest.Node]
	if !ok {
		return false
	}
	if c.Source.Node == c.Dest.Node {
		return false
	}

	srcMIDI := c.Source.Channel == MIDIChannel
	dstMIDI := c.Dest.Channel == MIDIChannel
	switch {
	case srcMIDI && dstMIDI:
		if !src.ProducesMIDI() || !dst.AcceptsMIDI() {
			return false
		}
	case srcMIDI || dstMIDI:
		return false
	default:
		if c.Source.Channel < 0 || c.Source.Channel >= src.NumOutputs() {
			return false
		}
		if c.Dest.Channel < 0 || c.Dest.Channel >= dst.NumInputs() {
			return false
		}
	}

	return !t.reaches(c.Dest.Node, c.Source.Node)
}

// Tx is a batch of graph mutations applied atomically by Graph.Update.
// A Tx must not be used after the Update callback returns.
type Tx struct {
	g       *Graph
	t       *topology
	added   []*Node
	removed []*Node
	changed bool
}

// AddNode inserts a plugin node wrapping p and returns its ID, or
// InvalidNodeID when p is nil.
func (tx *Tx) AddNode(p audio.Processor, opts ...NodeOption) NodeID {
	if p == nil {
		return InvalidNodeID
	}
	n := tx.g.allocNode(KindPlugin, p, opts...)
	tx.t.nodes[n.id] = n
	tx.added = append(tx.added, n)
	tx.changed = true
	return n.id
}

// RemoveNode deletes a plugin node and every edge touching it. Fixed I/O
// nodes and unknown IDs are refused. The processor is released after the
// transaction commits.
func (tx *Tx) RemoveNode(id NodeID) bool {
	n, ok := tx.t.nodes[id]
	if !ok || n.kind.IsIO() {
		return false
	}
	tx.DisconnectNode(id)
	delete(tx.t.nodes, id)

	if i := slices.Index(tx.added, n); i >= 0 {
		// Added and removed in the same transaction: the caller still owns it.
		tx.added = slices.Delete(tx.added, i, i+1)
	} else {
		tx.removed = append(tx.removed, n)
	}
	tx.changed = true
	return true
}

// IsConnectionLegal reports whether c could be added: both endpoints exist,
// channel indices are in range, c is not a self-loop and would not close a
// cycle.
func (tx *Tx) IsConnectionLegal(c Connection) bool {
	return tx.t.isConnectionLegal(c)
}

// AddConnection inserts c. It returns false when c is illegal or already
// present.
func (tx *Tx) AddConnection(c Connection) bool {
	if tx.t.hasConnection(c) || !tx.t.isConnectionLegal(c) {
		return false
	}
	tx.t.conns = append(tx.t.conns, c)
	tx.changed = true
	return true
}

// RemoveConnection deletes c, returning false when it is absent.
func (tx *Tx) RemoveConnection(c Connection) bool {
	i := slices.Index(tx.t.conns, c)
	if i < 0 {
		return false
	}
	tx.t.conns = slices.Delete(tx.t.conns, i, i+1)
	tx.changed = true
	return true
}

// DisconnectNode removes every edge touching id. It returns false when id is
// unknown.
func (tx *Tx) DisconnectNode(id NodeID) bool {
	if _, ok := tx.t.nodes[id]; !ok {
		return false
	}
	before := len(tx.t.conns)
	tx.t.conns = slices.DeleteFunc(tx.t.conns, func(c Connection) bool {
		return c.Touches(id)
	})
	if len(tx.t.conns) != before {
		tx.changed = true
	}
	return true
}

// RenameNode changes a node's display name.
func (tx *Tx) RenameNode(id NodeID, name string) bool {
	n, ok := tx.t.nodes[id]
	if !ok || name == "" {
		return false
	}
	tx.t.nodes[id] = n.withName(name)
	tx.changed = true
	return true
}

// Node returns the node with the given ID as seen by the transaction.
func (tx *Tx) Node(id NodeID) (*Node, bool) {
	n, ok := tx.t.nodes[id]
	return n, ok
}

// Nodes returns the nodes seen by the transaction, ordered by ID.
func (tx *Tx) Nodes() []*Node {
	return tx.t.sortedNodes()
}

// HasConnection reports whether c is present.
func (tx *Tx) HasConnection(c Connection) bool {
	return tx.t.hasConnection(c)
}

// Connections returns a copy of the edge set in insertion order.
func (tx *Tx) Connections() []Connection {
	return slices.Clone(tx.t.conns)
}

// Incoming returns the edges ending at dst on channel ch.
func (tx *Tx) Incoming(dst NodeID, ch int) []Connection {
	var out []Connection
	for _, c := range tx.t.conns {
		if c.Dest.Node == dst && c.Dest.Channel == ch {
			out = append(out, c)
		}
	}
	return out
}

// SetIOChannels swaps the audio I/O processors for the new layout and drops
// edges whose channel no longer exists.
func (tx *Tx) SetIOChannels(inputs, outputs int) {
	in := tx.t.nodes[AudioInputID]
	out := tx.t.nodes[AudioOutputID]
	tx.t.nodes[AudioInputID] = in.withProcessor(&ioProcessor{kind: KindAudioInput, channels: inputs})
	tx.t.nodes[AudioOutputID] = out.withProcessor(&ioProcessor{kind: KindAudioOutput, channels: outputs})

	tx.t.conns = slices.DeleteFunc(tx.t.conns, func(c Connection) bool {
		if c.IsMIDI() {
			return false
		}
		if c.Source.Node == AudioInputID && c.Source.Channel >= inputs {
			return true
		}
		return c.Dest.Node == AudioOutputID && c.Dest.Channel >= outputs
	})
	tx.changed = true
}
