// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// NodeInfo is a snapshot of one graph node.
type NodeInfo struct {
	ID             graph.NodeID       `json:"id"`
	Name           string             `json:"name"`
	Kind           string             `json:"kind"`
	NumInputs      int                `json:"num_inputs"`
	NumOutputs     int                `json:"num_outputs"`
	AcceptsMIDI    bool               `json:"accepts_midi"`
	ProducesMIDI   bool               `json:"produces_midi"`
	Bypassed       bool               `json:"bypassed"`
	LatencySamples int                `json:"latency_samples"`
	Descriptor     *plugin.Descriptor `json:"descriptor,omitempty"`
}

func (p *Processor) nodeInfoLocked(n *graph.Node) NodeInfo {
	info := NodeInfo{
		ID:             n.ID(),
		Name:           n.Name(),
		Kind:           n.Kind().String(),
		NumInputs:      n.NumInputs(),
		NumOutputs:     n.NumOutputs(),
		AcceptsMIDI:    n.AcceptsMIDI(),
		ProducesMIDI:   n.ProducesMIDI(),
		Bypassed:       n.IsBypassed(),
		LatencySamples: n.LatencySamples(),
	}
	if d, ok := p.descriptors[n.ID()]; ok {
		info.Descriptor = &d
	}
	return info
}

// AllNodes returns every node ordered by ID.
func (p *Processor) AllNodes() []NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	nodes := p.graph.Nodes()
	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, p.nodeInfoLocked(n))
	}
	return out
}

// NodeInfo returns the node with the given ID.
func (p *Processor) NodeInfo(id graph.NodeID) (NodeInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.graph.Node(id)
	if !ok {
		return NodeInfo{}, false
	}
	return p.nodeInfoLocked(n), true
}

// NodeProcessor returns the live processor behind a plugin node.
func (p *Processor) NodeProcessor(id graph.NodeID) (audio.Processor, bool) {
	n, ok := p.graph.Node(id)
	if !ok || n.Kind().IsIO() {
		return nil, false
	}
	return n.Processor(), true
}

// AllConnections returns every connection in insertion order.
func (p *Processor) AllConnections() []graph.Connection {
	return p.graph.Connections()
}

// TopologyRevision increases by one with every committed topology change.
func (p *Processor) TopologyRevision() uint64 {
	return p.graph.Revision()
}

// ExecutionOrder returns the current render order.
func (p *Processor) ExecutionOrder() []graph.NodeID {
	return p.graph.ExecutionOrder()
}

// TotalLatency returns the largest accumulated plugin latency along any
// path from audio-in to audio-out, in samples.
func (p *Processor) TotalLatency() int {
	order := p.graph.ExecutionOrder()
	conns := p.graph.Connections()

	acc := make(map[graph.NodeID]int, len(order))
	for _, id := range order {
		n, ok := p.graph.Node(id)
		if !ok {
			continue
		}
		lat := 0
		if !n.IsBypassed() {
			lat = n.LatencySamples()
		}
		acc[id] += lat
		for _, c := range conns {
			if c.Source.Node == id && !c.IsMIDI() {
				acc[c.Dest.Node] = max(acc[c.Dest.Node], acc[id])
			}
		}
	}
	return acc[graph.AudioOutputID]
}
