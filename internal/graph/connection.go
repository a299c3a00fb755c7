// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package graph

import "fmt"

// MIDIChannel is the reserved channel index marking a MIDI connection.
const MIDIChannel = 0x1000

// Endpoint is one side of a connection.
type Endpoint struct {
	Node    NodeID `json:"node"`
	Channel int    `json:"channel"`
}

// Connection is a directed edge from a source output channel to a
// destination input channel. Several connections may share a destination;
// their signals are summed.
type Connection struct {
	Source Endpoint `json:"source"`
	Dest   Endpoint `json:"dest"`
}

// AudioConnection builds an audio edge.
func AudioConnection(src NodeID, srcCh int, dst NodeID, dstCh int) Connection {
	return Connection{
		Source: Endpoint{Node: src, Channel: srcCh},
		Dest:   Endpoint{Node: dst, Channel: dstCh},
	}
}

// MIDIConnection builds a MIDI edge.
func MIDIConnection(src, dst NodeID) Connection {
	return Connection{
		Source: Endpoint{Node: src, Channel: MIDIChannel},
		Dest:   Endpoint{Node: dst, Channel: MIDIChannel},
	}
}

// IsMIDI reports whether the connection carries MIDI.
func (c Connection) IsMIDI() bool {
	return c.Source.Channel == MIDIChannel && c.Dest.Channel == MIDIChannel
}

// Touches reports whether id is either endpoint.
func (c Connection) Touches(id NodeID) bool {
	return c.Source.Node == id || c.Dest.Node == id
}

// String formats the connection as "src:ch -> dst:ch".
func (c Connection) String() string {
	if c.IsMIDI() {
		return fmt.Sprintf("%d:midi -> %d:midi", c.Source.Node, c.Dest.Node)
	}
	return fmt.Sprintf("%d:%d -> %d:%d", c.Source.Node, c.Source.Channel, c.Dest.Node, c.Dest.Channel)
}
