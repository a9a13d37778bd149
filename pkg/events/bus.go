// Package events carries typed status events between components over
// channels. Components publish, interested parties subscribe; there is no
// hidden multicast wiring between modules.
package events

import (
	"sync"
	"time"
)

// Type tags an event so subscribers can filter.
type Type string

const (
	SnapshotCaptured  Type = "snapshot_captured"
	AlertRaised       Type = "alert_raised"
	OpportunityFound  Type = "opportunity_found"
	StateChanged      Type = "state_changed"
	RoleChanged       Type = "role_changed"
	PeerIntroduced    Type = "peer_introduced"
	UpdateRequested   Type = "update_requested"
	ShardProcessed    Type = "shard_processed"
)

// Event is a timestamped payload published on the bus.
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      interface{}
}

const subscriberBuffer = 32

// Bus fans events out to subscribers. Publish never blocks: a subscriber that
// falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]chan Event
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]chan Event)}
}

// Subscribe returns a buffered channel that receives events of the given
// types. The channel is closed when the bus is closed.
func (b *Bus) Subscribe(types ...Type) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// Publish delivers ev to every subscriber of its type, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan Event]struct{})
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}
}
