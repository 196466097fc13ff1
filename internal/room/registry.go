package room

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRoomFull      = errors.New("room is full")
)

// Registry tracks every live room. Creating a room when absent and adding
// the first participant is a single atomic operation, so concurrent joins to
// the same key cannot race on the existence check.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room

	// MaxParticipants caps room size when > 0.
	MaxParticipants int
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log.With("component", "registry"),
		rooms: make(map[string]*Room),
	}
}

// CreateRoom creates an empty room.
func (g *Registry) CreateRoom(id string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.rooms[id]; ok {
		return nil, ErrAlreadyExists
	}
	r := newRoom(id)
	g.rooms[id] = r
	g.log.Info("room created", "room", id)
	return r, nil
}

// GetRoom returns the room with the given id.
func (g *Registry) GetRoom(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	return r, ok
}

// Join adds p to the room, creating the room first if absent, and broadcasts
// participant_joined to the other members. It returns the room and a
// snapshot of the members present before p joined.
func (g *Registry) Join(roomID string, p *Participant) (*Room, []*Participant, error) {
	var r *Room
	var others []*Participant
	for {
		g.mu.Lock()
		room, ok := g.rooms[roomID]
		if !ok {
			room = newRoom(roomID)
			g.rooms[roomID] = room
			g.log.Info("room created", "room", roomID)
		}
		g.mu.Unlock()

		room.mu.Lock()
		if room.destroyed {
			// The last leave destroyed this room between our lookup and the
			// lock; the pointer is no longer reachable through the registry.
			room.mu.Unlock()
			continue
		}
		if _, ok := room.participants[p.UserID]; ok {
			room.mu.Unlock()
			return nil, nil, ErrAlreadyExists
		}
		if g.MaxParticipants > 0 && len(room.participants) >= g.MaxParticipants {
			room.mu.Unlock()
			return nil, nil, ErrRoomFull
		}
		others = make([]*Participant, 0, len(room.participants))
		for _, other := range room.participants {
			others = append(others, other)
		}
		room.participants[p.UserID] = p
		room.mu.Unlock()
		r = room
		break
	}

	g.log.Info("participant joined", "room", roomID, "user", p.UserID)

	joined := protocol.MustMessage(protocol.MessageTypeParticipantJoined, protocol.ParticipantJoinedPayload{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
	})
	for _, other := range others {
		other.Send(joined)
	}

	return r, others, nil
}

// AddParticipant adds p to an existing room; it fails with ErrRoomNotFound
// when the room does not exist. Join is the create-if-absent variant.
func (g *Registry) AddParticipant(roomID string, p *Participant) error {
	g.mu.Lock()
	_, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}
	_, _, err := g.Join(roomID, p)
	return err
}

// RemoveParticipant removes the member and broadcasts participant_left to
// the rest. Removing an absent member is a no-op. The room is destroyed the
// moment it becomes empty.
func (g *Registry) RemoveParticipant(roomID, userID string) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, ok := r.participants[userID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, userID)
	empty := len(r.participants) == 0
	remaining := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		remaining = append(remaining, p)
	}
	r.mu.Unlock()

	g.log.Info("participant left", "room", roomID, "user", userID)

	left := protocol.MustMessage(protocol.MessageTypeParticipantLeft, protocol.ParticipantLeftPayload{
		UserID: userID,
	})
	for _, p := range remaining {
		p.Send(left)
	}

	if empty {
		g.mu.Lock()
		// Re-check under the registry lock: a concurrent Join may have
		// repopulated the room through the still-reachable pointer.
		r.mu.Lock()
		if len(r.participants) == 0 && g.rooms[roomID] == r {
			r.destroyed = true
			delete(g.rooms, roomID)
			g.log.Info("room destroyed", "room", roomID)
		}
		r.mu.Unlock()
		g.mu.Unlock()
	}
}

// PruneConsumer drops a consumer entry wherever it lives. The engine calls
// this through the closed notification when it cascades a close, keeping
// registry state consistent with engine state.
func (g *Registry) PruneConsumer(consumerID string) {
	for _, r := range g.Rooms() {
		for _, p := range r.Participants() {
			p.mu.Lock()
			_, ok := p.consumers[consumerID]
			if ok {
				delete(p.consumers, consumerID)
			}
			p.mu.Unlock()
			if ok {
				return
			}
		}
	}
}

// Rooms returns a snapshot of the live rooms.
func (g *Registry) Rooms() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Stats summarizes registry state for the metrics endpoint.
type Stats struct {
	Rooms        int        `json:"rooms"`
	Participants int        `json:"participants"`
	Producers    int        `json:"producers"`
	Consumers    int        `json:"consumers"`
	PerRoom      []RoomStat `json:"per_room,omitempty"`
}

type RoomStat struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	Producers    int    `json:"producers"`
	Consumers    int    `json:"consumers"`
	CreatedAt    string `json:"created_at"`
}

// Snapshot collects current counts across all rooms.
func (g *Registry) Snapshot() Stats {
	stats := Stats{}
	for _, r := range g.Rooms() {
		rs := RoomStat{ID: r.ID, CreatedAt: r.CreatedAt.Format(time.RFC3339)}
		for _, p := range r.Participants() {
			rs.Participants++
			rs.Producers += len(p.Producers())
			rs.Consumers += len(p.Consumers())
		}
		stats.Rooms++
		stats.Participants += rs.Participants
		stats.Producers += rs.Producers
		stats.Consumers += rs.Consumers
		stats.PerRoom = append(stats.PerRoom, rs)
	}
	return stats
}
