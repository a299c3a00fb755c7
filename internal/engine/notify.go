// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"log/slog"
	"time"

	"github.com/patchbay/patchbay/internal/broadcast"
)

// EventKind classifies engine notifications.
type EventKind int

// Notification kinds.
const (
	EventError EventKind = iota
	EventStateChanged
	EventPerformance
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventStateChanged:
		return "state_changed"
	case EventPerformance:
		return "performance"
	default:
		return "unknown"
	}
}

// State-change messages.
const (
	StatePrepared = "prepared"
	StateReleased = "released"
	StateRestored = "state restored"
)

// Event is a single engine notification.
type Event struct {
	Kind    EventKind
	Message string
	Stats   PerformanceStats
	Time    time.Time
}

// DefaultSubscriberBuffer is the channel capacity used when Subscribe is
// given a non-positive size.
const DefaultSubscriberBuffer = broadcast.DefaultBuffer

// Notifier fans engine events out to subscriber channels. Sends never
// block: an event for a full subscriber is dropped.
type Notifier struct {
	b *broadcast.Broadcaster[Event]
}

// NewNotifier creates a notifier. A nil logger uses slog.Default.
// Dropped error and state events are logged; dropped performance events
// are only counted, since they come from the render thread.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{b: broadcast.New(func(ev Event) {
		if ev.Kind == EventPerformance {
			return
		}
		logger.Warn("engine event dropped: subscriber buffer full",
			"kind", ev.Kind.String(),
			"message", ev.Message)
	})}
}

// Subscribe returns a channel receiving every subsequent event.
func (n *Notifier) Subscribe(size int) <-chan Event {
	return n.b.Subscribe(size)
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (n *Notifier) Unsubscribe(ch <-chan Event) {
	n.b.Unsubscribe(ch)
}

// Close closes every subscriber channel.
func (n *Notifier) Close() {
	n.b.Close()
}

// Dropped returns the number of events lost to full subscribers.
func (n *Notifier) Dropped() uint64 {
	return n.b.Dropped()
}

// Error publishes an error notification.
func (n *Notifier) Error(msg string) {
	n.publish(Event{Kind: EventError, Message: msg, Time: time.Now()})
}

// StateChanged publishes a state-change notification.
func (n *Notifier) StateChanged(msg string) {
	n.publish(Event{Kind: EventStateChanged, Message: msg, Time: time.Now()})
}

// Performance publishes a stats notification. It is called from the render
// thread.
func (n *Notifier) Performance(stats PerformanceStats) {
	n.publish(Event{Kind: EventPerformance, Stats: stats, Time: time.Now()})
}

func (n *Notifier) publish(ev Event) {
	if n == nil {
		return
	}
	n.b.Publish(ev)
}
