// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package audio

import (
	"gitlab.com/gomidi/midi/v2"
)

// DefaultMIDICapacity is the number of events a MIDIBuffer holds when created
// with a non-positive capacity.
const DefaultMIDICapacity = 512

// MIDIEvent is a MIDI message positioned at a sample offset within a block.
type MIDIEvent struct {
	Offset  int
	Message midi.Message
}

// MIDIBuffer is a fixed-capacity list of MIDI events. It never grows after
// construction, so it is safe to fill from the render thread; events added
// beyond capacity are dropped and counted.
type MIDIBuffer struct {
	events  []MIDIEvent
	dropped int
}

// NewMIDIBuffer creates a buffer that holds up to capacity events.
func NewMIDIBuffer(capacity int) *MIDIBuffer {
	if capacity <= 0 {
		capacity = DefaultMIDICapacity
	}
	return &MIDIBuffer{events: make([]MIDIEvent, 0, capacity)}
}

// Add appends an event. It returns false when the buffer is full.
func (b *MIDIBuffer) Add(offset int, msg midi.Message) bool {
	if len(b.events) == cap(b.events) {
		b.dropped++
		return false
	}
	b.events = append(b.events, MIDIEvent{Offset: offset, Message: msg})
	return true
}

// Clear removes all events and resets the drop counter.
func (b *MIDIBuffer) Clear() {
	b.events = b.events[:0]
	b.dropped = 0
}

// Len returns the number of buffered events.
func (b *MIDIBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.events)
}

// Cap returns the fixed capacity of the buffer.
func (b *MIDIBuffer) Cap() int {
	return cap(b.events)
}

// Dropped returns how many events were rejected since the last Clear.
func (b *MIDIBuffer) Dropped() int {
	return b.dropped
}

// At returns the i-th event.
func (b *MIDIBuffer) At(i int) MIDIEvent {
	return b.events[i]
}

// Events returns the buffered events. The slice aliases the buffer and is
// only valid until the next mutation.
func (b *MIDIBuffer) Events() []MIDIEvent {
	if b == nil {
		return nil
	}
	return b.events
}

// CopyFrom replaces the contents with the events of src.
func (b *MIDIBuffer) CopyFrom(src *MIDIBuffer) {
	b.Clear()
	b.Merge(src)
}

// Merge appends the events of src, dropping what does not fit.
func (b *MIDIBuffer) Merge(src *MIDIBuffer) {
	if src == nil {
		return
	}
	for _, ev := range src.events {
		b.Add(ev.Offset, ev.Message)
	}
}
