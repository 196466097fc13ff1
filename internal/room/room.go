// Package room tracks rooms and participant membership on the server and
// owns broadcast fan-out. Membership mutation for a room is serialized by
// the room's lock; engine calls never happen under it.
package room

import (
	"sync"
	"time"

	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/protocol"
)

// Sink is the outbound half of a participant's connection. Send must not
// block: the websocket layer buffers and drops on overflow.
type Sink interface {
	Send(msg *protocol.Message)
}

// Producer is the registry's view of a published track.
type Producer struct {
	ID     string
	UserID string
	Kind   media.Kind
	Paused bool
}

// Consumer is the registry's view of a subscription to a remote producer.
type Consumer struct {
	ID         string
	UserID     string
	ProducerID string
	Kind       media.Kind
	Paused     bool
}

// Participant is one room member together with its producer/consumer
// bookkeeping. Transport handles stay with the owning session, not here.
type Participant struct {
	UserID      string
	DisplayName string
	JoinedAt    time.Time

	sink Sink

	mu        sync.Mutex
	producers map[string]*Producer
	consumers map[string]*Consumer
}

// NewParticipant creates a participant bound to its connection's sink.
func NewParticipant(userID, displayName string, sink Sink) *Participant {
	return &Participant{
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    time.Now().UTC(),
		sink:        sink,
		producers:   make(map[string]*Producer),
		consumers:   make(map[string]*Consumer),
	}
}

// Send forwards a message to the participant's connection.
func (p *Participant) Send(msg *protocol.Message) {
	if p.sink != nil {
		p.sink.Send(msg)
	}
}

func (p *Participant) AddProducer(prod *Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[prod.ID] = prod
}

func (p *Participant) RemoveProducer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.producers, id)
}

func (p *Participant) AddConsumer(cons *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[cons.ID] = cons
}

func (p *Participant) RemoveConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

// Consumer returns the participant's consumer with the given id.
func (p *Participant) Consumer(id string) (*Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

// Producers returns a snapshot of the participant's producers.
func (p *Participant) Producers() []*Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Producer, 0, len(p.producers))
	for _, prod := range p.producers {
		out = append(out, prod)
	}
	return out
}

// Consumers returns a snapshot of the participant's consumers.
func (p *Participant) Consumers() []*Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

// Room is a named set of participants sharing a call.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	participants map[string]*Participant

	// destroyed marks a room the registry has dropped. A join that raced
	// the destroy sees the flag under the room lock and retries its lookup
	// instead of landing in an unreachable room.
	destroyed bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		participants: make(map[string]*Participant),
	}
}

// Participant returns the member with the given user id.
func (r *Room) Participant(userID string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	return p, ok
}

// Participants returns a snapshot of the current members.
func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Count returns the current member count.
func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// FindProducer locates a producer anywhere in the room, returning its owner.
func (r *Room) FindProducer(producerID string) (*Producer, *Participant, bool) {
	for _, p := range r.Participants() {
		p.mu.Lock()
		prod, ok := p.producers[producerID]
		p.mu.Unlock()
		if ok {
			return prod, p, true
		}
	}
	return nil, nil, false
}

// Broadcast sends msg to every member except exceptUserID. Sinks are
// collected under the lock and written outside it.
func (r *Room) Broadcast(msg *protocol.Message, exceptUserID string) {
	r.mu.Lock()
	targets := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if exceptUserID != "" && p.UserID == exceptUserID {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.Send(msg)
	}
}
