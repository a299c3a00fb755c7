// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// stateVersion is the engine state layout written by GetState.
const stateVersion = 1

type engineState struct {
	Version     int                `json:"version"`
	Config      GraphConfig        `json:"config"`
	Nodes       []nodeState        `json:"nodes"`
	Connections []graph.Connection `json:"connections"`
}

type nodeState struct {
	ID         graph.NodeID      `json:"id"`
	Name       string            `json:"name"`
	Descriptor plugin.Descriptor `json:"descriptor"`
	Bypassed   bool              `json:"bypassed"`
	State      []byte            `json:"state,omitempty"`
}

// GetState captures the configuration, every plugin node with its state and
// every connection. Plugins added without a descriptor cannot be captured.
func (p *Processor) GetState() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := engineState{
		Version:     stateVersion,
		Config:      p.cfg,
		Connections: p.graph.Connections(),
	}
	for _, n := range p.graph.Nodes() {
		if n.Kind().IsIO() {
			continue
		}
		desc, ok := p.descriptors[n.ID()]
		if !ok {
			return nil, oops.In("engine").
				Code(CodeStateInvalid).
				With("node_id", n.ID()).
				Errorf("node %d (%s) has no descriptor", n.ID(), n.Name())
		}
		blob, err := audio.CaptureState(n.Processor())
		if err != nil {
			return nil, oops.In("engine").
				Code(CodeStateInvalid).
				With("node_id", n.ID()).
				Wrap(err)
		}
		st.Nodes = append(st.Nodes, nodeState{
			ID:         n.ID(),
			Name:       n.Name(),
			Descriptor: desc,
			Bypassed:   n.IsBypassed(),
			State:      blob,
		})
	}

	data, err := json.Marshal(st)
	if err != nil {
		return nil, oops.In("engine").Code(CodeStateInvalid).Wrap(err)
	}
	return data, nil
}

// SetState replaces the configuration, nodes and connections with a blob
// produced by GetState. Plugins are recreated through the instantiator and
// receive new node IDs. On any failure nothing changes.
func (p *Processor) SetState(ctx context.Context, data []byte) error {
	st, err := decodeState(data)
	if err != nil {
		p.fail(err)
		return err
	}
	if p.instantiate == nil {
		err := oops.In("engine").Code(CodeStateRestore).Errorf("no instantiator configured")
		p.fail(err)
		return err
	}

	procs, err := p.instantiateAll(ctx, st)
	if err != nil {
		p.fail(err)
		return err
	}
	releaseAll := func() {
		for _, proc := range procs {
			proc.Release()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wasPrepared := p.prepared
	p.releaseLocked()

	ids := make(map[graph.NodeID]graph.NodeID, len(st.Nodes)+4)
	err = p.graph.Update(func(tx *graph.Tx) error {
		for _, n := range tx.Nodes() {
			if n.Kind().IsIO() {
				ids[n.ID()] = n.ID()
				tx.DisconnectNode(n.ID())
				continue
			}
			tx.RemoveNode(n.ID())
		}
		tx.SetIOChannels(st.Config.NumInputChannels, st.Config.NumOutputChannels)

		for i, ns := range st.Nodes {
			ids[ns.ID] = tx.AddNode(procs[i], graph.WithName(ns.Name), graph.WithBypassed(ns.Bypassed))
		}
		for _, c := range st.Connections {
			src, ok1 := ids[c.Source.Node]
			dst, ok2 := ids[c.Dest.Node]
			c.Source.Node, c.Dest.Node = src, dst
			if !ok1 || !ok2 || !tx.AddConnection(c) {
				return ErrIllegalConnection(c)
			}
		}
		return nil
	})
	if err != nil {
		releaseAll()
		err = oops.In("engine").Code(CodeStateRestore).Wrap(err)
		p.fail(err)
		if wasPrepared {
			_ = p.prepareLocked()
		}
		return err
	}

	p.cfg = st.Config
	p.descriptors = make(map[graph.NodeID]plugin.Descriptor, len(st.Nodes))
	for _, ns := range st.Nodes {
		p.descriptors[ids[ns.ID]] = ns.Descriptor
	}
	p.notifier.StateChanged(StateRestored)
	p.logger.Info("engine state restored", "nodes", len(st.Nodes), "connections", len(st.Connections))

	if wasPrepared {
		return p.prepareLocked()
	}
	return nil
}

func decodeState(data []byte) (*engineState, error) {
	var st engineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, oops.In("engine").Code(CodeStateInvalid).Hint("malformed state blob").Wrap(err)
	}
	if st.Version != stateVersion {
		return nil, oops.In("engine").
			Code(CodeStateInvalid).
			With("version", st.Version).
			Errorf("unsupported state version %d", st.Version)
	}
	if err := st.Config.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[graph.NodeID]bool, len(st.Nodes))
	for _, ns := range st.Nodes {
		if ns.ID <= graph.MIDIOutputID || seen[ns.ID] {
			return nil, oops.In("engine").
				Code(CodeStateInvalid).
				With("node_id", ns.ID).
				Errorf("invalid or duplicate node id %d", ns.ID)
		}
		seen[ns.ID] = true
	}
	return &st, nil
}

// instantiateAll creates and restores every node in st. On failure the
// processors created so far are released.
func (p *Processor) instantiateAll(ctx context.Context, st *engineState) ([]audio.Processor, error) {
	procs := make([]audio.Processor, 0, len(st.Nodes))
	fail := func(ns nodeState, err error) ([]audio.Processor, error) {
		for _, proc := range procs {
			proc.Release()
		}
		return nil, oops.In("engine").
			Code(CodeStateRestore).
			With("node_id", ns.ID).
			With("plugin", ns.Descriptor.Name).
			Wrap(err)
	}

	for _, ns := range st.Nodes {
		proc, err := p.instantiate(ctx, ns.Descriptor, st.Config.SampleRate, st.Config.BlockSize)
		if err != nil {
			return fail(ns, err)
		}
		if err := audio.RestoreState(proc, ns.State); err != nil {
			proc.Release()
			return fail(ns, err)
		}
		procs = append(procs, proc)
	}
	return procs, nil
}
