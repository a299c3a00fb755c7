// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/graph"
	"github.com/patchbay/patchbay/internal/plugin"
	"github.com/patchbay/patchbay/pkg/audio"
)

// autoRouteChannels is the most channels AddPlugin wires automatically.
const autoRouteChannels = 2

// PluginOption configures AddPlugin.
type PluginOption func(*pluginOptions)

type pluginOptions struct {
	desc      plugin.Descriptor
	bypassed  bool
	autoRoute bool
}

// WithDescriptor records the descriptor the processor was created from. It
// is required for the node to be captured by GetState.
func WithDescriptor(d plugin.Descriptor) PluginOption {
	return func(o *pluginOptions) { o.desc = d }
}

// WithBypassed inserts the plugin bypassed.
func WithBypassed(bypassed bool) PluginOption {
	return func(o *pluginOptions) { o.bypassed = bypassed }
}

// WithoutAutoRoute inserts the plugin unconnected.
func WithoutAutoRoute() PluginOption {
	return func(o *pluginOptions) { o.autoRoute = false }
}

// AddPlugin inserts proc as a plugin node. If the processor is prepared the
// plugin is prepared first. Unless disabled, the plugin is then routed into
// the output path: on each of its first two channels, whatever feeds that
// output channel now feeds the plugin, and the plugin feeds the output.
// Plugins without audio inputs are summed into the output instead, and a
// MIDI-accepting plugin is connected to midi-in.
func (p *Processor) AddPlugin(proc audio.Processor, name string, opts ...PluginOption) (graph.NodeID, error) {
	if proc == nil {
		err := oops.In("engine").Code(CodeInvalidProcessor).Errorf("processor is nil")
		p.fail(err)
		return graph.InvalidNodeID, err
	}
	o := pluginOptions{autoRoute: true}
	for _, opt := range opts {
		opt(&o)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.prepared {
		if err := proc.Prepare(p.cfg.SampleRate, p.cfg.BlockSize); err != nil {
			err = oops.In("engine").
				Code(CodePrepareFailed).
				With("plugin", name).
				Wrap(err)
			p.fail(err)
			return graph.InvalidNodeID, err
		}
	}

	var id graph.NodeID
	err := p.graph.Update(func(tx *graph.Tx) error {
		id = tx.AddNode(proc, graph.WithName(name), graph.WithBypassed(o.bypassed))
		if o.autoRoute {
			autoRoute(tx, id, p.cfg.EnableMIDI)
		}
		return nil
	})
	if err != nil {
		if p.prepared {
			proc.Release()
		}
		err = oops.In("engine").With("plugin", name).Wrap(err)
		p.fail(err)
		return graph.InvalidNodeID, err
	}

	if !o.desc.IsZero() {
		p.descriptors[id] = o.desc
	}
	p.logger.Info("plugin added",
		"node_id", id,
		"name", name,
		"inputs", proc.NumInputs(),
		"outputs", proc.NumOutputs())
	return id, nil
}

func autoRoute(tx *graph.Tx, id graph.NodeID, midiEnabled bool) {
	n, _ := tx.Node(id)
	out, _ := tx.Node(graph.AudioOutputID)
	in, _ := tx.Node(graph.AudioInputID)

	for ch := range min(autoRouteChannels, n.NumOutputs(), out.NumInputs()) {
		if n.NumInputs() > 0 {
			feeders := tx.Incoming(graph.AudioOutputID, ch)
			for _, f := range feeders {
				tx.RemoveConnection(f)
				if ch < n.NumInputs() {
					tx.AddConnection(graph.AudioConnection(f.Source.Node, f.Source.Channel, id, ch))
				}
			}
			if len(feeders) == 0 && ch < n.NumInputs() && ch < in.NumOutputs() {
				tx.AddConnection(graph.AudioConnection(graph.AudioInputID, ch, id, ch))
			}
		}
		tx.AddConnection(graph.AudioConnection(id, ch, graph.AudioOutputID, ch))
	}

	if midiEnabled && n.AcceptsMIDI() {
		tx.AddConnection(graph.MIDIConnection(graph.MIDIInputID, id))
	}
}

// RemoveNode removes a plugin node. Its sources on each channel are bridged
// to its destinations on the same channel so the chain stays intact, and
// outputs left without a source get their passthrough back.
func (p *Processor) RemoveNode(id graph.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkPluginLocked(id, "remove"); err != nil {
		return err
	}

	cfg := p.cfg
	_ = p.graph.Update(func(tx *graph.Tx) error {
		bridge(tx, id)
		tx.RemoveNode(id)
		restorePassthrough(tx, cfg)
		return nil
	})
	delete(p.descriptors, id)

	p.logger.Info("plugin removed", "node_id", id)
	return nil
}

func bridge(tx *graph.Tx, id graph.NodeID) {
	var ins, outs []graph.Connection
	for _, c := range tx.Connections() {
		switch {
		case c.IsMIDI():
		case c.Dest.Node == id:
			ins = append(ins, c)
		case c.Source.Node == id:
			outs = append(outs, c)
		}
	}
	tx.DisconnectNode(id)
	for _, o := range outs {
		for _, i := range ins {
			if i.Dest.Channel == o.Source.Channel {
				tx.AddConnection(graph.AudioConnection(i.Source.Node, i.Source.Channel, o.Dest.Node, o.Dest.Channel))
			}
		}
	}
}

// checkPluginLocked returns an error for unknown or fixed nodes.
func (p *Processor) checkPluginLocked(id graph.NodeID, op string) error {
	n, ok := p.graph.Node(id)
	if !ok {
		err := ErrUnknownNode(id)
		p.fail(err)
		return err
	}
	if n.Kind().IsIO() {
		err := ErrFixedNode(id, op)
		p.fail(err)
		return err
	}
	return nil
}

// SetNodeBypassed sets a plugin node's bypass flag.
func (p *Processor) SetNodeBypassed(id graph.NodeID, bypassed bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkPluginLocked(id, "bypass"); err != nil {
		return err
	}
	p.graph.SetBypassed(id, bypassed)
	return nil
}

// SetNodeEnabled is the inverse of SetNodeBypassed.
func (p *Processor) SetNodeEnabled(id graph.NodeID, enabled bool) error {
	return p.SetNodeBypassed(id, !enabled)
}

// RenameNode changes a node's display name.
func (p *Processor) RenameNode(id graph.NodeID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkPluginLocked(id, "rename"); err != nil {
		return err
	}
	if !p.graph.RenameNode(id, name) {
		err := oops.In("engine").With("node_id", id).Errorf("invalid name %q", name)
		p.fail(err)
		return err
	}
	return nil
}

// ConnectAudio connects an audio output channel to an audio input channel.
func (p *Processor) ConnectAudio(src graph.NodeID, srcCh int, dst graph.NodeID, dstCh int) error {
	return p.connect(graph.AudioConnection(src, srcCh, dst, dstCh))
}

// ConnectMIDI connects a MIDI producer to a MIDI consumer.
func (p *Processor) ConnectMIDI(src, dst graph.NodeID) error {
	return p.connect(graph.MIDIConnection(src, dst))
}

func (p *Processor) connect(c graph.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range []graph.NodeID{c.Source.Node, c.Dest.Node} {
		if _, ok := p.graph.Node(id); !ok {
			err := ErrUnknownNode(id)
			p.fail(err)
			return err
		}
	}
	if !p.graph.AddConnection(c) {
		err := ErrIllegalConnection(c)
		p.fail(err)
		return err
	}
	return nil
}

// Disconnect removes a connection.
func (p *Processor) Disconnect(c graph.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.graph.RemoveConnection(c) {
		err := ErrNoConnection(c)
		p.fail(err)
		return err
	}
	return nil
}

// DisconnectNode removes every connection touching id.
func (p *Processor) DisconnectNode(id graph.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.graph.DisconnectNode(id) {
		err := ErrUnknownNode(id)
		p.fail(err)
		return err
	}
	return nil
}
