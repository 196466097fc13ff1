package room

import (
	"errors"
	"sync"
	"testing"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

// recordSink collects every message sent to a participant.
type recordSink struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (s *recordSink) Send(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordSink) byType(t string) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Message
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestCreateRoomDuplicate(t *testing.T) {
	g := NewRegistry(nil)

	if _, err := g.CreateRoom("r1"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := g.CreateRoom("r1"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate err = %v, want ErrAlreadyExists", err)
	}
	if _, ok := g.GetRoom("r1"); !ok {
		t.Error("GetRoom did not find created room")
	}
	if _, ok := g.GetRoom("r2"); ok {
		t.Error("GetRoom found a room that was never created")
	}
}

func TestAddParticipantRequiresRoom(t *testing.T) {
	g := NewRegistry(nil)

	p := NewParticipant("alice", "Alice", &recordSink{})
	if err := g.AddParticipant("nope", p); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestJoinLeaveSymmetry(t *testing.T) {
	g := NewRegistry(nil)

	a := NewParticipant("alice", "Alice", &recordSink{})
	if _, others, err := g.Join("r1", a); err != nil || len(others) != 0 {
		t.Fatalf("Join = (%v, %v), want empty room", others, err)
	}

	r, _ := g.GetRoom("r1")
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}

	g.RemoveParticipant("r1", "alice")
	if _, ok := g.GetRoom("r1"); ok {
		t.Error("empty room was not destroyed")
	}

	// Removing again is a no-op.
	g.RemoveParticipant("r1", "alice")
}

func TestJoinBroadcastExcludesActor(t *testing.T) {
	g := NewRegistry(nil)

	aSink := &recordSink{}
	bSink := &recordSink{}
	g.Join("r1", NewParticipant("alice", "", aSink))
	g.Join("r1", NewParticipant("bob", "", bSink))

	if n := len(aSink.byType(protocol.MessageTypeParticipantJoined)); n != 1 {
		t.Errorf("alice saw %d joins, want 1 (bob's)", n)
	}
	if n := len(bSink.byType(protocol.MessageTypeParticipantJoined)); n != 0 {
		t.Errorf("bob saw %d joins, want 0 (no echo)", n)
	}

	g.RemoveParticipant("r1", "bob")
	if n := len(aSink.byType(protocol.MessageTypeParticipantLeft)); n != 1 {
		t.Errorf("alice saw %d leaves, want 1", n)
	}
	if n := len(bSink.byType(protocol.MessageTypeParticipantLeft)); n != 0 {
		t.Errorf("bob saw %d leaves, want 0", n)
	}
}

func TestJoinDuplicateUser(t *testing.T) {
	g := NewRegistry(nil)

	g.Join("r1", NewParticipant("alice", "", &recordSink{}))
	if _, _, err := g.Join("r1", NewParticipant("alice", "", &recordSink{})); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestRoomCap(t *testing.T) {
	g := NewRegistry(nil)
	g.MaxParticipants = 1

	g.Join("r1", NewParticipant("alice", "", &recordSink{}))
	if _, _, err := g.Join("r1", NewParticipant("bob", "", &recordSink{})); !errors.Is(err, ErrRoomFull) {
		t.Errorf("err = %v, want ErrRoomFull", err)
	}
}

func TestConcurrentJoinsSeeEachOtherExactlyOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		g := NewRegistry(nil)
		aSink := &recordSink{}
		bSink := &recordSink{}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Join("race", NewParticipant("alice", "", aSink))
		}()
		go func() {
			defer wg.Done()
			g.Join("race", NewParticipant("bob", "", bSink))
		}()
		wg.Wait()

		r, ok := g.GetRoom("race")
		if !ok || r.Count() != 2 {
			t.Fatalf("room count = %d, want 2", r.Count())
		}

		// Exactly one of the two saw the other's join broadcast, and the
		// total is exactly one event: no duplicates, no echo.
		aJoins := len(aSink.byType(protocol.MessageTypeParticipantJoined))
		bJoins := len(bSink.byType(protocol.MessageTypeParticipantJoined))
		if aJoins+bJoins != 1 {
			t.Fatalf("join broadcasts = %d+%d, want exactly 1 total", aJoins, bJoins)
		}
	}
}

func TestJoinNeverLandsInDestroyedRoom(t *testing.T) {
	for i := 0; i < 200; i++ {
		g := NewRegistry(nil)
		g.Join("race", NewParticipant("alice", "", &recordSink{}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.RemoveParticipant("race", "alice")
		}()
		go func() {
			defer wg.Done()
			g.Join("race", NewParticipant("bob", "", &recordSink{}))
		}()
		wg.Wait()

		// Whatever the interleaving, bob must end up in the room the
		// registry serves lookups from, not in a destroyed one.
		r, ok := g.GetRoom("race")
		if !ok {
			t.Fatal("bob's room is not reachable through the registry")
		}
		if _, ok := r.Participant("bob"); !ok {
			t.Fatal("bob is missing from the registered room")
		}
	}
}

func TestFindProducer(t *testing.T) {
	g := NewRegistry(nil)
	a := NewParticipant("alice", "", &recordSink{})
	g.Join("r1", a)
	a.AddProducer(&Producer{ID: "p1", UserID: "alice", Kind: "video"})

	r, _ := g.GetRoom("r1")
	prod, owner, ok := r.FindProducer("p1")
	if !ok || prod.ID != "p1" || owner.UserID != "alice" {
		t.Errorf("FindProducer = (%v, %v, %v)", prod, owner, ok)
	}
	if _, _, ok := r.FindProducer("nope"); ok {
		t.Error("found a producer that does not exist")
	}
}

func TestPruneConsumer(t *testing.T) {
	g := NewRegistry(nil)
	b := NewParticipant("bob", "", &recordSink{})
	g.Join("r1", b)
	b.AddConsumer(&Consumer{ID: "c1", UserID: "bob", ProducerID: "p1"})

	g.PruneConsumer("c1")
	if _, ok := b.Consumer("c1"); ok {
		t.Error("consumer survived prune")
	}
}
