// Package events is a typed in-process event feed: protocol handling stays
// decoupled from whatever consumes state changes (UI, snapshots, tests).
package events

import (
	"sync"
	"sync/atomic"

	"github.com/huddle-rtc/huddle/internal/media"
)

// Type discriminates events on the bus.
type Type string

const (
	TypeConnectionStatus  Type = "connection_status_changed"
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"
	TypeNewProducer       Type = "new_producer"
	TypeProducerClosed    Type = "producer_closed"
	TypeNewConsumer       Type = "new_consumer"
	TypeConsumerClosed    Type = "consumer_closed"
	TypeError             Type = "error"
)

// Event is one published occurrence. Payload holds one of the payload
// structs below, keyed by Type.
type Event struct {
	Type    Type
	Payload any
}

// ConnectionStatusPayload reports a session status transition.
type ConnectionStatusPayload struct {
	Old string
	New string
}

// ParticipantPayload identifies a room member for join/leave events.
type ParticipantPayload struct {
	UserID      string
	DisplayName string
}

// ProducerPayload identifies a producer for new/closed events.
type ProducerPayload struct {
	ProducerID string
	UserID     string
	Kind       media.Kind
}

// ConsumerPayload identifies a consumer for new/closed events.
type ConsumerPayload struct {
	ConsumerID string
	ProducerID string
	UserID     string
	Kind       media.Kind
}

// ErrorPayload carries a non-fatal error surfaced as an event.
type ErrorPayload struct {
	Err error
}

type subscriber struct {
	types map[Type]struct{} // nil means all types
	ch    chan Event
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the event, counted in Dropped.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel receiving the given event types, or every type
// when none are named, plus a cancel function. The channel is closed on
// cancel or bus close.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 64)}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers e to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.types != nil {
			if _, ok := sub.types[e.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
