// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscriber ring size.
const DefaultCapacity = 2048

// Kind tags the event variants carried by the bus.
type Kind string

const (
	KindAppServer      Kind = "app-server-event"
	KindTerminalOutput Kind = "terminal-output"
)

// AppServerEvent is a frame originating from a workspace child process:
// either an unsolicited server-to-client request or a notification.
type AppServerEvent struct {
	WorkspaceID string          `json:"workspaceId"`
	Message     json.RawMessage `json:"message"`
}

// TerminalOutput is a chunk of terminal output from a workspace child.
type TerminalOutput struct {
	WorkspaceID string `json:"workspaceId"`
	Data        string `json:"data"`
}

// Event is a broadcast daemon event. Payload holds the variant value
// and is marshalled verbatim into the notification params.
type Event struct {
	Kind    Kind
	Payload any
}

// Sink receives child-originated events. The bus implements Sink;
// sessions publish through it.
type Sink interface {
	EmitAppServerEvent(event AppServerEvent)
	EmitTerminalOutput(event TerminalOutput)
}

// Bus is a process-wide broadcast channel. Publication never blocks:
// a subscriber that falls behind has its oldest buffered events
// overwritten and observes the loss through a lag counter. Subscribers
// only see events published after they subscribed.
type Bus struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Subscription]struct{}
	closed   bool
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus    *Bus
	ch     chan Event
	lagged atomic.Uint64
}

// NewBus creates a bus. capacity <= 0 selects DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Publish delivers an event to every subscriber without blocking. When
// a subscriber's ring is full its oldest event is dropped to make room.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}
		// Ring full: overwrite the oldest event. Publish is the only
		// sender and holds the bus lock, so after draining one slot
		// the send cannot block.
		select {
		case <-sub.ch:
			sub.lagged.Add(1)
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// EmitAppServerEvent implements Sink.
func (b *Bus) EmitAppServerEvent(event AppServerEvent) {
	b.Publish(Event{Kind: KindAppServer, Payload: event})
}

// EmitTerminalOutput implements Sink.
func (b *Bus) EmitTerminalOutput(event TerminalOutput) {
	b.Publish(Event{Kind: KindTerminalOutput, Payload: event})
}

// Subscribe registers a new subscriber. Returns nil if the bus is
// closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, b.capacity),
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}

// Events returns the subscriber's receive channel. It is closed when
// the subscription is cancelled or the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Lagged reports how many events were dropped because this subscriber
// fell behind.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Load()
}

// Close removes the subscription from the bus. Safe to call twice.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
