// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package broadcast fans events out to buffered subscriber channels.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity Subscribe uses for a non-positive
// size.
const DefaultBuffer = 64

// Broadcaster distributes events to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event. Publish does not
// allocate, so it may run on the render thread.
type Broadcaster[E any] struct {
	onDrop func(E)

	mu      sync.RWMutex
	subs    []chan E
	closed  bool
	dropped atomic.Uint64
}

// New creates a broadcaster. onDrop, if not nil, is called for every event
// a subscriber missed, while the subscriber list is read-locked.
func New[E any](onDrop func(E)) *Broadcaster[E] {
	return &Broadcaster[E]{onDrop: onDrop}
}

// Subscribe returns a channel receiving every later event. After Close it
// returns a closed channel.
func (b *Broadcaster[E]) Subscribe(size int) <-chan E {
	if size <= 0 {
		size = DefaultBuffer
	}
	ch := make(chan E, size)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe detaches and closes ch. It reports whether ch was subscribed.
func (b *Broadcaster[E]) Unsubscribe(ch <-chan E) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if (<-chan E)(sub) == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return true
		}
	}
	return false
}

// Publish offers ev to every subscriber.
func (b *Broadcaster[E]) Publish(ev E) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(ev)
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes go nowhere.
func (b *Broadcaster[E]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
	b.closed = true
}

// Subscribers returns the number of attached channels.
func (b *Broadcaster[E]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were lost to full subscribers.
func (b *Broadcaster[E]) Dropped() uint64 {
	return b.dropped.Load()
}
