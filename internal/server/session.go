// Package server is the signaling side of Huddle: the WebSocket endpoint,
// the per-connection session coordinator that turns protocol messages into
// media-engine calls, and the health/metrics surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/protocol"
	"github.com/huddle-rtc/huddle/internal/room"
)

// Session is the per-connection coordinator. Messages for one connection
// arrive sequentially from its read pump, so session state needs no
// cross-connection locking; only room membership is shared, and the registry
// serializes that per room.
type Session struct {
	id       string
	log      *slog.Logger
	engine   media.Engine
	registry *room.Registry
	sink     room.Sink

	mu          sync.Mutex
	closed      bool
	joined      bool
	roomID      string
	room        *room.Room
	participant *room.Participant

	// transports owned by this connection, keyed by id.
	transports      map[string]media.Direction
	sendTransportID string
	recvTransportID string
}

// NewSession creates a coordinator for one connection.
func NewSession(engine media.Engine, registry *room.Registry, sink room.Sink, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		log:        log.With("component", "session", "conn", id[:8]),
		engine:     engine,
		registry:   registry,
		sink:       sink,
		transports: make(map[string]media.Direction),
	}
}

// HandleMessage processes one inbound protocol message. Failures are
// answered with an error message addressed to this connection and never tear
// the connection down.
func (s *Session) HandleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeJoin:
		s.handleJoin(msg)
	case protocol.MessageTypeLeave:
		s.cleanup()
	case protocol.MessageTypeTransportConnect:
		s.handleTransportConnect(msg)
	case protocol.MessageTypeTransportProduce:
		s.handleProduce(msg)
	case protocol.MessageTypeTransportConsume:
		s.handleConsume(msg)
	case protocol.MessageTypeResume:
		s.handleSetPaused(msg, false)
	case protocol.MessageTypePause:
		s.handleSetPaused(msg, true)
	default:
		s.log.Warn("unsupported message type", "type", msg.Type)
		s.sendError(protocol.ErrorPayload{
			Code:    protocol.CodeInternal,
			Message: "unsupported message type " + msg.Type,
		})
	}
}

// Disconnect runs the compensating cleanup for a connection that terminated
// without sending leave. The end state is identical to a graceful leave.
func (s *Session) Disconnect() {
	s.cleanup()
}

func (s *Session) handleJoin(msg *protocol.Message) {
	var p protocol.JoinPayload
	if err := msg.DecodePayload(&p); err != nil {
		s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "malformed join payload"})
		return
	}
	if p.RoomID == "" || p.UserID == "" {
		s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "room_id and user_id are required"})
		return
	}

	s.mu.Lock()
	if s.joined || s.closed {
		s.mu.Unlock()
		s.sendError(protocol.ErrorPayload{Code: protocol.CodeAlreadyExists, Message: "connection already joined a room"})
		return
	}
	s.mu.Unlock()

	ctx := context.Background()

	// Allocate both transports before touching room state; engine calls are
	// slow and must not run under any room lock.
	sendInfo, err := s.engine.CreateTransport(ctx, media.DirectionSend)
	if err != nil {
		s.failJoin(err, nil)
		return
	}
	recvInfo, err := s.engine.CreateTransport(ctx, media.DirectionRecv)
	if err != nil {
		s.failJoin(err, []string{sendInfo.ID})
		return
	}

	participant := room.NewParticipant(p.UserID, p.DisplayName, s.sink)
	r, others, err := s.registry.Join(p.RoomID, participant)
	if err != nil {
		s.failJoin(err, []string{sendInfo.ID, recvInfo.ID})
		return
	}

	s.mu.Lock()
	s.joined = true
	s.roomID = p.RoomID
	s.room = r
	s.participant = participant
	s.transports[sendInfo.ID] = media.DirectionSend
	s.transports[recvInfo.ID] = media.DirectionRecv
	s.sendTransportID = sendInfo.ID
	s.recvTransportID = recvInfo.ID
	s.mu.Unlock()

	s.log.Info("participant joined", "room", p.RoomID, "user", p.UserID)

	members := make([]protocol.ParticipantInfo, 0, len(others))
	for _, other := range others {
		members = append(members, protocol.ParticipantInfo{
			UserID:      other.UserID,
			DisplayName: other.DisplayName,
		})
	}

	s.send(protocol.MustMessage(protocol.MessageTypeJoined, protocol.JoinedPayload{
		RoomID:             p.RoomID,
		SendTransport:      *sendInfo,
		RecvTransport:      *recvInfo,
		RouterCapabilities: s.engine.RouterCapabilities(),
		Participants:       members,
	}))

	// Announce producers that already live in the room, so the new member
	// can subscribe through the ordinary new_producer path.
	for _, other := range others {
		for _, prod := range other.Producers() {
			s.send(protocol.MustMessage(protocol.MessageTypeNewProducer, protocol.NewProducerPayload{
				ProducerID: prod.ID,
				UserID:     prod.UserID,
				Kind:       prod.Kind,
			}))
		}
	}
}

func (s *Session) failJoin(err error, transportIDs []string) {
	for _, id := range transportIDs {
		s.engine.CloseTransport(id)
	}
	s.log.Warn("join failed", "err", err)
	s.sendError(protocol.ErrorPayload{Code: errorCode(err), Message: err.Error()})
}

func (s *Session) handleTransportConnect(msg *protocol.Message) {
	var p protocol.TransportConnectPayload
	if err := msg.DecodePayload(&p); err != nil {
		s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "malformed transport_connect payload"})
		return
	}

	if !s.ownsTransport(p.TransportID) {
		s.sendError(protocol.ErrorPayload{
			Code:        protocol.CodeTransportNotFound,
			Message:     "unknown transport " + p.TransportID,
			TransportID: p.TransportID,
		})
		return
	}

	// Structural validation happens before the engine sees anything.
	if err := p.DTLSParameters.Validate(); err != nil {
		s.sendError(protocol.ErrorPayload{
			Code:        protocol.CodeInvalidHandshake,
			Message:     err.Error(),
			TransportID: p.TransportID,
		})
		return
	}

	if err := s.engine.ConnectTransport(context.Background(), p.TransportID, p.DTLSParameters); err != nil {
		s.sendError(protocol.ErrorPayload{
			Code:        errorCode(err),
			Message:     err.Error(),
			TransportID: p.TransportID,
		})
		return
	}

	s.send(protocol.MustMessage(protocol.MessageTypeConnectTransport, protocol.ConnectTransportPayload{
		TransportID: p.TransportID,
	}))
}

func (s *Session) handleProduce(msg *protocol.Message) {
	var p protocol.TransportProducePayload
	if err := msg.DecodePayload(&p); err != nil {
		s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "malformed transport_produce payload"})
		return
	}

	s.mu.Lock()
	_, owns := s.transports[p.TransportID]
	participant := s.participant
	r := s.room
	s.mu.Unlock()

	if !owns || participant == nil {
		s.sendError(protocol.ErrorPayload{
			Code:        protocol.CodeTransportNotFound,
			Message:     "unknown transport " + p.TransportID,
			TransportID: p.TransportID,
		})
		return
	}

	producerID, err := s.engine.Produce(context.Background(), p.TransportID, p.Kind, p.Codec)
	if err != nil {
		s.sendError(protocol.ErrorPayload{
			Code:        errorCode(err),
			Message:     err.Error(),
			TransportID: p.TransportID,
		})
		return
	}

	participant.AddProducer(&room.Producer{
		ID:     producerID,
		UserID: participant.UserID,
		Kind:   p.Kind,
	})

	s.log.Info("producer created", "producer", producerID, "kind", p.Kind)

	s.send(protocol.MustMessage(protocol.MessageTypeProduced, protocol.ProducedPayload{
		TransportID: p.TransportID,
		ProducerID:  producerID,
	}))

	r.Broadcast(protocol.MustMessage(protocol.MessageTypeNewProducer, protocol.NewProducerPayload{
		ProducerID: producerID,
		UserID:     participant.UserID,
		Kind:       p.Kind,
	}), participant.UserID)
}

func (s *Session) handleConsume(msg *protocol.Message) {
	var p protocol.TransportConsumePayload
	if err := msg.DecodePayload(&p); err != nil {
		s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "malformed transport_consume payload"})
		return
	}

	s.mu.Lock()
	_, owns := s.transports[p.TransportID]
	participant := s.participant
	r := s.room
	s.mu.Unlock()

	if !owns || participant == nil {
		s.sendError(protocol.ErrorPayload{
			Code:        protocol.CodeTransportNotFound,
			Message:     "unknown transport " + p.TransportID,
			TransportID: p.TransportID,
		})
		return
	}

	producer, owner, ok := r.FindProducer(p.ProducerID)
	if !ok {
		s.sendError(protocol.ErrorPayload{
			Code:       protocol.CodeProducerNotFound,
			Message:    "unknown producer " + p.ProducerID,
			ProducerID: p.ProducerID,
		})
		return
	}

	if !s.engine.CanConsume(p.ProducerID, p.Capabilities) {
		s.sendError(protocol.ErrorPayload{
			Code:       protocol.CodeIncompatibleCapabilities,
			Message:    "capabilities cannot consume producer " + p.ProducerID,
			ProducerID: p.ProducerID,
		})
		return
	}

	info, err := s.engine.Consume(context.Background(), p.TransportID, p.ProducerID, p.Capabilities)
	if err != nil {
		s.sendError(protocol.ErrorPayload{
			Code:       errorCode(err),
			Message:    err.Error(),
			ProducerID: p.ProducerID,
		})
		return
	}

	participant.AddConsumer(&room.Consumer{
		ID:         info.ID,
		UserID:     participant.UserID,
		ProducerID: info.ProducerID,
		Kind:       info.Kind,
		Paused:     true,
	})

	s.log.Info("consumer created", "consumer", info.ID, "producer", producer.ID)

	s.send(protocol.MustMessage(protocol.MessageTypeConsume, protocol.ConsumePayload{
		ConsumerID:     info.ID,
		ProducerID:     info.ProducerID,
		ProducerUserID: owner.UserID,
		Kind:           info.Kind,
		Codec:          info.Codec,
	}))
}

func (s *Session) handleSetPaused(msg *protocol.Message, paused bool) {
	var consumerID string
	if paused {
		var p protocol.PausePayload
		if err := msg.DecodePayload(&p); err != nil {
			s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "malformed pause payload"})
			return
		}
		consumerID = p.ConsumerID
	} else {
		var p protocol.ResumePayload
		if err := msg.DecodePayload(&p); err != nil {
			s.sendError(protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "malformed resume payload"})
			return
		}
		consumerID = p.ConsumerID
	}

	s.mu.Lock()
	participant := s.participant
	s.mu.Unlock()
	if participant == nil {
		return
	}

	cons, ok := participant.Consumer(consumerID)
	if !ok {
		s.sendError(protocol.ErrorPayload{
			Code:       protocol.CodeConsumerNotFound,
			Message:    "unknown consumer " + consumerID,
			ConsumerID: consumerID,
		})
		return
	}

	var err error
	if paused {
		err = s.engine.PauseConsumer(context.Background(), consumerID)
	} else {
		err = s.engine.ResumeConsumer(context.Background(), consumerID)
	}
	if err != nil {
		s.sendError(protocol.ErrorPayload{
			Code:       errorCode(err),
			Message:    err.Error(),
			ConsumerID: consumerID,
		})
		return
	}
	cons.Paused = paused
}

// cleanup releases everything this connection owns. Graceful leave and
// ungraceful disconnect share it, so both end in the same state.
func (s *Session) cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	joined := s.joined
	participant := s.participant
	roomID := s.roomID
	r := s.room
	transports := make([]string, 0, len(s.transports))
	for id := range s.transports {
		transports = append(transports, id)
	}
	s.mu.Unlock()

	if joined {
		for _, prod := range participant.Producers() {
			// Closing the producer cascades to its consumers inside the
			// engine; the closed notifications prune the other
			// participants' registry entries.
			s.engine.CloseProducer(prod.ID)
			participant.RemoveProducer(prod.ID)
			r.Broadcast(protocol.MustMessage(protocol.MessageTypeProducerClosed, protocol.ProducerClosedPayload{
				ProducerID: prod.ID,
				UserID:     participant.UserID,
			}), participant.UserID)
		}
		for _, cons := range participant.Consumers() {
			s.engine.CloseConsumer(cons.ID)
			participant.RemoveConsumer(cons.ID)
		}
	}

	for _, id := range transports {
		s.engine.CloseTransport(id)
	}

	if joined {
		s.registry.RemoveParticipant(roomID, participant.UserID)
		s.log.Info("session closed", "room", roomID, "user", participant.UserID)
	}
}

func (s *Session) send(msg *protocol.Message) {
	s.sink.Send(msg)
}

func (s *Session) sendError(p protocol.ErrorPayload) {
	s.send(protocol.MustMessage(protocol.MessageTypeError, p))
}

func (s *Session) ownsTransport(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.transports[id]
	return ok
}

// errorCode maps sentinel errors onto wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, room.ErrAlreadyExists):
		return protocol.CodeAlreadyExists
	case errors.Is(err, room.ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, media.ErrTransportNotFound):
		return protocol.CodeTransportNotFound
	case errors.Is(err, media.ErrProducerNotFound):
		return protocol.CodeProducerNotFound
	case errors.Is(err, media.ErrConsumerNotFound):
		return protocol.CodeConsumerNotFound
	case errors.Is(err, media.ErrInvalidHandshake):
		return protocol.CodeInvalidHandshake
	case errors.Is(err, media.ErrIncompatibleCapabilities):
		return protocol.CodeIncompatibleCapabilities
	default:
		return protocol.CodeInternal
	}
}
