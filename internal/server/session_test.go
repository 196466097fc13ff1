package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/protocol"
	"github.com/huddle-rtc/huddle/internal/room"
)

// recordSink captures everything a session sends.
type recordSink struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (s *recordSink) Send(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordSink) messages() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *recordSink) byType(t string) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range s.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordSink) waitFor(t *testing.T, msgType string) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := s.byType(msgType); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s message received", msgType)
	return nil
}

// countingEngine wraps an engine and counts ConnectTransport invocations.
type countingEngine struct {
	media.Engine
	mu       sync.Mutex
	connects int
}

func (e *countingEngine) ConnectTransport(ctx context.Context, transportID string, params media.DTLSParameters) error {
	e.mu.Lock()
	e.connects++
	e.mu.Unlock()
	return e.Engine.ConnectTransport(ctx, transportID, params)
}

func newTestBench(t *testing.T) (*media.MemoryEngine, *room.Registry) {
	t.Helper()
	engine, err := media.NewMemoryEngine()
	if err != nil {
		t.Fatalf("NewMemoryEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	registry := room.NewRegistry(nil)
	engine.OnClosed(func(kind media.ResourceKind, id string) {
		if kind == media.ResourceConsumer {
			registry.PruneConsumer(id)
		}
	})
	return engine, registry
}

func joinRoom(t *testing.T, sess *Session, sink *recordSink, roomID, userID string) protocol.JoinedPayload {
	t.Helper()
	sess.HandleMessage(protocol.MustMessage(protocol.MessageTypeJoin, protocol.JoinPayload{
		RoomID: roomID,
		UserID: userID,
	}))

	msg := sink.waitFor(t, protocol.MessageTypeJoined)
	var joined protocol.JoinedPayload
	if err := msg.DecodePayload(&joined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	return joined
}

func validDTLS(t *testing.T) media.DTLSParameters {
	t.Helper()
	dev, err := media.NewDevice()
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	return dev.DTLSParameters(media.DTLSRoleClient)
}

func TestJoinCreatesRoomAndTransports(t *testing.T) {
	engine, registry := newTestBench(t)

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)

	joined := joinRoom(t, sess, sink, "standup", "alice")

	if joined.SendTransport.ID == "" || joined.RecvTransport.ID == "" {
		t.Fatal("joined payload missing transport ids")
	}
	if joined.SendTransport.ID == joined.RecvTransport.ID {
		t.Fatal("send and recv transports share an id")
	}
	if len(joined.RouterCapabilities) == 0 {
		t.Fatal("joined payload missing router capabilities")
	}
	if len(joined.Participants) != 0 {
		t.Fatalf("expected empty room, got %d participants", len(joined.Participants))
	}

	r, ok := registry.GetRoom("standup")
	if !ok {
		t.Fatal("room was not created by join")
	}
	if r.Count() != 1 {
		t.Fatalf("room has %d participants, want 1", r.Count())
	}
}

func TestSecondJoinOnSameConnectionRejected(t *testing.T) {
	engine, registry := newTestBench(t)

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)

	joinRoom(t, sess, sink, "standup", "alice")
	sess.HandleMessage(protocol.MustMessage(protocol.MessageTypeJoin, protocol.JoinPayload{
		RoomID: "other",
		UserID: "alice",
	}))

	msg := sink.waitFor(t, protocol.MessageTypeError)
	var ep protocol.ErrorPayload
	if err := msg.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeAlreadyExists {
		t.Fatalf("error code = %q, want %q", ep.Code, protocol.CodeAlreadyExists)
	}
}

func TestInvalidHandshakeRejectedBeforeEngine(t *testing.T) {
	base, registry := newTestBench(t)
	engine := &countingEngine{Engine: base}

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)
	joined := joinRoom(t, sess, sink, "standup", "alice")

	sess.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportConnect, protocol.TransportConnectPayload{
		TransportID:    joined.SendTransport.ID,
		DTLSParameters: media.DTLSParameters{Role: media.DTLSRoleClient},
	}))

	msg := sink.waitFor(t, protocol.MessageTypeError)
	var ep protocol.ErrorPayload
	if err := msg.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeInvalidHandshake {
		t.Fatalf("error code = %q, want %q", ep.Code, protocol.CodeInvalidHandshake)
	}
	if ep.TransportID != joined.SendTransport.ID {
		t.Fatalf("error correlates to transport %q, want %q", ep.TransportID, joined.SendTransport.ID)
	}

	engine.mu.Lock()
	connects := engine.connects
	engine.mu.Unlock()
	if connects != 0 {
		t.Fatalf("engine saw %d connect calls for a structurally invalid request", connects)
	}
}

func TestConnectTransportAck(t *testing.T) {
	engine, registry := newTestBench(t)

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)
	joined := joinRoom(t, sess, sink, "standup", "alice")

	sess.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportConnect, protocol.TransportConnectPayload{
		TransportID:    joined.SendTransport.ID,
		DTLSParameters: validDTLS(t),
	}))

	msg := sink.waitFor(t, protocol.MessageTypeConnectTransport)
	var ack protocol.ConnectTransportPayload
	if err := msg.DecodePayload(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.TransportID != joined.SendTransport.ID {
		t.Fatalf("ack transport = %q, want %q", ack.TransportID, joined.SendTransport.ID)
	}
}

func TestConsumeUnknownProducer(t *testing.T) {
	engine, registry := newTestBench(t)

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)
	joined := joinRoom(t, sess, sink, "standup", "alice")

	sess.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportConsume, protocol.TransportConsumePayload{
		TransportID:  joined.RecvTransport.ID,
		ProducerID:   "nope",
		Capabilities: engine.RouterCapabilities(),
	}))

	msg := sink.waitFor(t, protocol.MessageTypeError)
	var ep protocol.ErrorPayload
	if err := msg.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeProducerNotFound {
		t.Fatalf("error code = %q, want %q", ep.Code, protocol.CodeProducerNotFound)
	}
	if ep.ProducerID != "nope" {
		t.Fatalf("error correlates to producer %q, want %q", ep.ProducerID, "nope")
	}
}

func TestProduceAnnouncesToOthersOnly(t *testing.T) {
	engine, registry := newTestBench(t)

	aliceSink := &recordSink{}
	alice := NewSession(engine, registry, aliceSink, nil)
	aliceJoined := joinRoom(t, alice, aliceSink, "standup", "alice")

	bobSink := &recordSink{}
	bob := NewSession(engine, registry, bobSink, nil)
	joinRoom(t, bob, bobSink, "standup", "bob")

	alice.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportProduce, protocol.TransportProducePayload{
		TransportID: aliceJoined.SendTransport.ID,
		Kind:        media.KindAudio,
		Codec:       media.DefaultAudioCodec(),
	}))

	produced := aliceSink.waitFor(t, protocol.MessageTypeProduced)
	var pp protocol.ProducedPayload
	if err := produced.DecodePayload(&pp); err != nil {
		t.Fatalf("decode produced: %v", err)
	}
	if pp.ProducerID == "" {
		t.Fatal("produced payload missing producer id")
	}

	announce := bobSink.waitFor(t, protocol.MessageTypeNewProducer)
	var np protocol.NewProducerPayload
	if err := announce.DecodePayload(&np); err != nil {
		t.Fatalf("decode new_producer: %v", err)
	}
	if np.ProducerID != pp.ProducerID || np.UserID != "alice" {
		t.Fatalf("new_producer = %+v, want alice's producer %s", np, pp.ProducerID)
	}

	if msgs := aliceSink.byType(protocol.MessageTypeNewProducer); len(msgs) != 0 {
		t.Fatalf("producer's own connection received %d new_producer announcements", len(msgs))
	}
}

func TestLateJoinerLearnsExistingProducers(t *testing.T) {
	engine, registry := newTestBench(t)

	aliceSink := &recordSink{}
	alice := NewSession(engine, registry, aliceSink, nil)
	aliceJoined := joinRoom(t, alice, aliceSink, "standup", "alice")

	alice.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportProduce, protocol.TransportProducePayload{
		TransportID: aliceJoined.SendTransport.ID,
		Kind:        media.KindVideo,
		Codec:       media.DefaultVideoCodec(),
	}))
	aliceSink.waitFor(t, protocol.MessageTypeProduced)

	bobSink := &recordSink{}
	bob := NewSession(engine, registry, bobSink, nil)
	joined := joinRoom(t, bob, bobSink, "standup", "bob")

	if len(joined.Participants) != 1 || joined.Participants[0].UserID != "alice" {
		t.Fatalf("joined participants = %+v, want [alice]", joined.Participants)
	}

	announce := bobSink.waitFor(t, protocol.MessageTypeNewProducer)
	var np protocol.NewProducerPayload
	if err := announce.DecodePayload(&np); err != nil {
		t.Fatalf("decode new_producer: %v", err)
	}
	if np.UserID != "alice" || np.Kind != media.KindVideo {
		t.Fatalf("late joiner announcement = %+v, want alice's video producer", np)
	}
}

func TestConsumeFlow(t *testing.T) {
	engine, registry := newTestBench(t)

	aliceSink := &recordSink{}
	alice := NewSession(engine, registry, aliceSink, nil)
	aliceJoined := joinRoom(t, alice, aliceSink, "standup", "alice")

	bobSink := &recordSink{}
	bob := NewSession(engine, registry, bobSink, nil)
	bobJoined := joinRoom(t, bob, bobSink, "standup", "bob")

	alice.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportProduce, protocol.TransportProducePayload{
		TransportID: aliceJoined.SendTransport.ID,
		Kind:        media.KindAudio,
		Codec:       media.DefaultAudioCodec(),
	}))
	announce := bobSink.waitFor(t, protocol.MessageTypeNewProducer)
	var np protocol.NewProducerPayload
	if err := announce.DecodePayload(&np); err != nil {
		t.Fatalf("decode new_producer: %v", err)
	}

	bob.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportConsume, protocol.TransportConsumePayload{
		TransportID:  bobJoined.RecvTransport.ID,
		ProducerID:   np.ProducerID,
		Capabilities: engine.RouterCapabilities(),
	}))

	consume := bobSink.waitFor(t, protocol.MessageTypeConsume)
	var cp protocol.ConsumePayload
	if err := consume.DecodePayload(&cp); err != nil {
		t.Fatalf("decode consume: %v", err)
	}
	if cp.ProducerID != np.ProducerID || cp.ProducerUserID != "alice" {
		t.Fatalf("consume payload = %+v, want alice's producer %s", cp, np.ProducerID)
	}

	bobP, _ := registry.GetRoom("standup")
	participant, ok := bobP.Participant("bob")
	if !ok {
		t.Fatal("bob missing from room")
	}
	cons, ok := participant.Consumer(cp.ConsumerID)
	if !ok {
		t.Fatal("consumer missing from registry")
	}
	if !cons.Paused {
		t.Fatal("consumer should start paused")
	}

	bob.HandleMessage(protocol.MustMessage(protocol.MessageTypeResume, protocol.ResumePayload{
		ConsumerID: cp.ConsumerID,
	}))
	deadline := time.Now().Add(2 * time.Second)
	for cons.Paused && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cons.Paused {
		t.Fatal("resume did not unpause the consumer")
	}
}

func TestMalformedPauseAnswersError(t *testing.T) {
	engine, registry := newTestBench(t)

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)
	joinRoom(t, sess, sink, "standup", "alice")

	sess.HandleMessage(&protocol.Message{
		Type:    protocol.MessageTypeResume,
		Payload: json.RawMessage(`{"consumer_id":42}`),
	})

	msg := sink.waitFor(t, protocol.MessageTypeError)
	var ep protocol.ErrorPayload
	if err := msg.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeInternal {
		t.Fatalf("error code = %q, want %q", ep.Code, protocol.CodeInternal)
	}
}

func TestIncompatibleCapabilities(t *testing.T) {
	engine, registry := newTestBench(t)

	aliceSink := &recordSink{}
	alice := NewSession(engine, registry, aliceSink, nil)
	aliceJoined := joinRoom(t, alice, aliceSink, "standup", "alice")

	bobSink := &recordSink{}
	bob := NewSession(engine, registry, bobSink, nil)
	bobJoined := joinRoom(t, bob, bobSink, "standup", "bob")

	alice.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportProduce, protocol.TransportProducePayload{
		TransportID: aliceJoined.SendTransport.ID,
		Kind:        media.KindVideo,
		Codec:       media.DefaultVideoCodec(),
	}))
	announce := bobSink.waitFor(t, protocol.MessageTypeNewProducer)
	var np protocol.NewProducerPayload
	if err := announce.DecodePayload(&np); err != nil {
		t.Fatalf("decode new_producer: %v", err)
	}

	// Audio-only capabilities cannot consume a video producer.
	bob.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportConsume, protocol.TransportConsumePayload{
		TransportID:  bobJoined.RecvTransport.ID,
		ProducerID:   np.ProducerID,
		Capabilities: []webrtc.RTPCodecCapability{media.DefaultAudioCodec()},
	}))

	msg := bobSink.waitFor(t, protocol.MessageTypeError)
	var ep protocol.ErrorPayload
	if err := msg.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeIncompatibleCapabilities {
		t.Fatalf("error code = %q, want %q", ep.Code, protocol.CodeIncompatibleCapabilities)
	}
}

func TestDisconnectMatchesGracefulLeave(t *testing.T) {
	engine, registry := newTestBench(t)

	aliceSink := &recordSink{}
	alice := NewSession(engine, registry, aliceSink, nil)
	aliceJoined := joinRoom(t, alice, aliceSink, "standup", "alice")

	bobSink := &recordSink{}
	bob := NewSession(engine, registry, bobSink, nil)
	bobJoined := joinRoom(t, bob, bobSink, "standup", "bob")

	alice.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportProduce, protocol.TransportProducePayload{
		TransportID: aliceJoined.SendTransport.ID,
		Kind:        media.KindAudio,
		Codec:       media.DefaultAudioCodec(),
	}))
	announce := bobSink.waitFor(t, protocol.MessageTypeNewProducer)
	var np protocol.NewProducerPayload
	if err := announce.DecodePayload(&np); err != nil {
		t.Fatalf("decode new_producer: %v", err)
	}

	bob.HandleMessage(protocol.MustMessage(protocol.MessageTypeTransportConsume, protocol.TransportConsumePayload{
		TransportID:  bobJoined.RecvTransport.ID,
		ProducerID:   np.ProducerID,
		Capabilities: engine.RouterCapabilities(),
	}))
	bobSink.waitFor(t, protocol.MessageTypeConsume)

	// Alice drops without a leave message.
	alice.Disconnect()

	// Bob hears producer_closed before participant_left.
	closed := bobSink.waitFor(t, protocol.MessageTypeProducerClosed)
	var pc protocol.ProducerClosedPayload
	if err := closed.DecodePayload(&pc); err != nil {
		t.Fatalf("decode producer_closed: %v", err)
	}
	if pc.ProducerID != np.ProducerID {
		t.Fatalf("producer_closed for %q, want %q", pc.ProducerID, np.ProducerID)
	}
	bobSink.waitFor(t, protocol.MessageTypeParticipantLeft)

	var closedIdx, leftIdx int
	for i, m := range bobSink.messages() {
		switch m.Type {
		case protocol.MessageTypeProducerClosed:
			closedIdx = i
		case protocol.MessageTypeParticipantLeft:
			leftIdx = i
		}
	}
	if closedIdx > leftIdx {
		t.Fatal("participant_left arrived before producer_closed")
	}

	// The cascade pruned bob's consumer from the registry.
	r, _ := registry.GetRoom("standup")
	participant, ok := r.Participant("bob")
	if !ok {
		t.Fatal("bob missing from room")
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(participant.Consumers()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(participant.Consumers()); n != 0 {
		t.Fatalf("bob still holds %d consumers after producer close", n)
	}

	if r.Count() != 1 {
		t.Fatalf("room has %d participants after alice left, want 1", r.Count())
	}

	// Alice's engine resources are gone; only bob's two transports remain.
	transports, producers, consumers := engine.CountResources()
	if transports != 2 || producers != 0 || consumers != 0 {
		t.Fatalf("engine resources = %d/%d/%d, want 2/0/0", transports, producers, consumers)
	}
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	engine, registry := newTestBench(t)

	sink := &recordSink{}
	sess := NewSession(engine, registry, sink, nil)
	joinRoom(t, sess, sink, "standup", "alice")

	sess.HandleMessage(protocol.MustMessage(protocol.MessageTypeLeave, nil))

	if _, ok := registry.GetRoom("standup"); ok {
		t.Fatal("room still exists after last participant left")
	}
	if transports, _, _ := engine.CountResources(); transports != 0 {
		t.Fatalf("engine still holds %d transports", transports)
	}
}

func TestRoomCapRejectsJoin(t *testing.T) {
	engine, registry := newTestBench(t)
	registry.MaxParticipants = 1

	aliceSink := &recordSink{}
	alice := NewSession(engine, registry, aliceSink, nil)
	joinRoom(t, alice, aliceSink, "standup", "alice")

	bobSink := &recordSink{}
	bob := NewSession(engine, registry, bobSink, nil)
	bob.HandleMessage(protocol.MustMessage(protocol.MessageTypeJoin, protocol.JoinPayload{
		RoomID: "standup",
		UserID: "bob",
	}))

	msg := bobSink.waitFor(t, protocol.MessageTypeError)
	var ep protocol.ErrorPayload
	if err := msg.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeRoomFull {
		t.Fatalf("error code = %q, want %q", ep.Code, protocol.CodeRoomFull)
	}

	// The rejected join must not leak transports: only alice's pair remains.
	if transports, _, _ := engine.CountResources(); transports != 2 {
		t.Fatalf("engine holds %d transports, want 2", transports)
	}
}
