// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package pluginsdk

import (
	"errors"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
	"gitlab.com/gomidi/midi/v2"

	"github.com/patchbay/patchbay/pkg/audio"
)

// Info describes a served processor.
type Info struct {
	Name         string
	NumInputs    int
	NumOutputs   int
	AcceptsMIDI  bool
	ProducesMIDI bool
	Latency      int
	Parameters   []audio.ParameterInfo
}

// PrepareArgs carries the Prepare arguments.
type PrepareArgs struct {
	SampleRate float64
	BlockSize  int
}

// Event is a MIDI event on the wire.
type Event struct {
	Offset int
	Data   []byte
}

// ProcessArgs is one block sent to the plugin. Parameters holds every
// normalized parameter value, in index order.
type ProcessArgs struct {
	Frames     int
	Channels   [][]float32
	Events     []Event
	Parameters []float32
}

// ProcessReply is the processed block.
type ProcessReply struct {
	Channels [][]float32
	Events   []Event
}

// ProcessorPlugin implements go-plugin's Plugin interface over net/rpc.
type ProcessorPlugin struct {
	// Impl is used by the plugin side; the host leaves it nil.
	Impl audio.Processor
}

// Compile-time interface check.
var _ hashiplug.Plugin = (*ProcessorPlugin)(nil)

// Server returns the RPC server (called by the plugin process).
func (p *ProcessorPlugin) Server(*hashiplug.MuxBroker) (any, error) {
	if p.Impl == nil {
		return nil, errors.New("pluginsdk: processor is nil")
	}
	return NewRPCServer(p.Impl), nil
}

// Client returns the RPC client (called by the host process).
func (p *ProcessorPlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return NewRPCClient(c), nil
}

// RPCServer exposes an audio.Processor to net/rpc.
type RPCServer struct {
	impl   audio.Processor
	events *audio.MIDIBuffer
}

// NewRPCServer wraps impl.
func NewRPCServer(impl audio.Processor) *RPCServer {
	return &RPCServer{impl: impl, events: audio.NewMIDIBuffer(audio.DefaultMIDICapacity)}
}

// Info reports the processor's shape and parameters.
func (s *RPCServer) Info(_ any, reply *Info) error {
	*reply = Info{
		Name:         s.impl.Name(),
		NumInputs:    s.impl.NumInputs(),
		NumOutputs:   s.impl.NumOutputs(),
		AcceptsMIDI:  s.impl.AcceptsMIDI(),
		ProducesMIDI: s.impl.ProducesMIDI(),
		Latency:      s.impl.LatencySamples(),
	}
	if params, ok := s.impl.(audio.Parameterized); ok {
		for i := range params.ParameterCount() {
			reply.Parameters = append(reply.Parameters, params.ParameterInfo(i))
		}
	}
	return nil
}

// Prepare calls Prepare on the processor.
func (s *RPCServer) Prepare(args PrepareArgs, ok *bool) error {
	if err := s.impl.Prepare(args.SampleRate, args.BlockSize); err != nil {
		return err
	}
	*ok = true
	return nil
}

// Process applies the parameter values and renders one block.
func (s *RPCServer) Process(args ProcessArgs, reply *ProcessReply) error {
	if params, ok := s.impl.(audio.Parameterized); ok {
		for i, v := range args.Parameters {
			if i < params.ParameterCount() {
				params.SetParameterValue(i, v)
			}
		}
	}

	n := max(s.impl.NumInputs(), s.impl.NumOutputs())
	buf := make([][]float32, n)
	for ch := range buf {
		if ch < len(args.Channels) && len(args.Channels[ch]) >= args.Frames {
			buf[ch] = args.Channels[ch]
		} else {
			buf[ch] = make([]float32, args.Frames)
		}
	}

	var events *audio.MIDIBuffer
	if s.impl.AcceptsMIDI() || s.impl.ProducesMIDI() {
		events = s.events
		events.Clear()
		for _, ev := range args.Events {
			events.Add(ev.Offset, midi.Message(ev.Data))
		}
	}

	s.impl.Process(buf, args.Frames, events)

	reply.Channels = buf[:s.impl.NumOutputs()]
	for _, ev := range events.Events() {
		reply.Events = append(reply.Events, Event{Offset: ev.Offset, Data: ev.Message})
	}
	return nil
}

// Release calls Release on the processor.
func (s *RPCServer) Release(_ any, ok *bool) error {
	s.impl.Release()
	*ok = true
	return nil
}

// Reset clears the processor's signal history when it supports it.
func (s *RPCServer) Reset(_ any, ok *bool) error {
	if r, isResetter := s.impl.(audio.Resetter); isResetter {
		r.Reset()
	}
	*ok = true
	return nil
}

// RPCClient is the host-side stub of a served processor.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an RPC connection.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

// Info fetches the processor description.
func (c *RPCClient) Info() (Info, error) {
	var info Info
	err := c.client.Call("Plugin.Info", new(any), &info)
	return info, err
}

// Prepare prepares the remote processor.
func (c *RPCClient) Prepare(sampleRate float64, blockSize int) error {
	var ok bool
	return c.client.Call("Plugin.Prepare", PrepareArgs{SampleRate: sampleRate, BlockSize: blockSize}, &ok)
}

// Process renders one block remotely.
func (c *RPCClient) Process(args *ProcessArgs, reply *ProcessReply) error {
	return c.client.Call("Plugin.Process", args, reply)
}

// Release releases the remote processor.
func (c *RPCClient) Release() error {
	var ok bool
	return c.client.Call("Plugin.Release", new(any), &ok)
}

// Reset resets the remote processor.
func (c *RPCClient) Reset() error {
	var ok bool
	return c.client.Call("Plugin.Reset", new(any), &ok)
}
