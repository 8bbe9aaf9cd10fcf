// Package syncer contains the trade-monitoring and copy-execution pipeline:
// the leader registry, the per-wallet subscription orchestrator, the
// copy-trade synthesis engine, and the delay scheduler.
package syncer

import (
	"sync"

	"polymarket-copytrader/models"
)

// EventKind enumerates the events the core emits.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventLeaderTrade
	EventLeaderDetected
	EventCopyQueued
	EventError
)

// LeaderTradeEvent is published for every deduplicated trade observed on a
// monitored leader wallet.
type LeaderTradeEvent struct {
	LeaderAddress string
	Trade         models.TradeRecord
}

// LeaderDetectedEvent is published when a wallet newly qualifies as a leader.
type LeaderDetectedEvent struct {
	Leader models.LeaderWallet
}

// CopyQueuedEvent is published when a copy-trade request enters the
// scheduler.
type CopyQueuedEvent struct {
	Request models.CopyTradeRequest
}

// ErrorEvent carries an isolated failure: one wallet's monitoring error or
// one follower's synthesis error. It never implies the pipeline stopped.
type ErrorEvent struct {
	LeaderAddress string
	FollowerID    string
	Err           error
}

// Event is a published event with its kind-specific payload.
type Event struct {
	Kind    EventKind
	Payload interface{}
}

// Listener receives published events.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Bus is a thread-safe publish/subscribe dispatcher with a fixed set of
// event kinds. Registration and removal are O(1) amortized and safe to call
// during dispatch.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventKind][]listenerEntry
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[EventKind][]listenerEntry),
	}
}

// Subscribe registers a listener for one event kind and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(kind EventKind, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], listenerEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			entries := b.listeners[kind]
			for i, entry := range entries {
				if entry.id == id {
					entries[i] = entries[len(entries)-1]
					b.listeners[kind] = entries[:len(entries)-1]
					return
				}
			}
		})
	}
}

// Publish dispatches an event to every listener registered for its kind.
// The listener slice is copied first, so listeners may subscribe or
// unsubscribe from within a callback.
func (b *Bus) Publish(kind EventKind, payload interface{}) {
	b.mu.RLock()
	entries := make([]listenerEntry, len(b.listeners[kind]))
	copy(entries, b.listeners[kind])
	b.mu.RUnlock()

	event := Event{Kind: kind, Payload: payload}
	for _, entry := range entries {
		entry.fn(event)
	}
}
