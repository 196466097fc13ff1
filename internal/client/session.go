// Package client implements the room session a participant drives: joining,
// publishing and subscribing through the signaling protocol, with a typed
// event feed for whoever renders the result.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/dispatch"
	"github.com/huddle-rtc/huddle/internal/events"
	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/protocol"
	"github.com/huddle-rtc/huddle/internal/signaling"
)

// Dialer opens a signaling connection. The websocket dialer is the
// production implementation; the in-process broker provides another.
type Dialer interface {
	Dial(ctx context.Context) (signaling.Conn, error)
}

// WebSocketDialer dials the signaling server over websocket.
type WebSocketDialer struct {
	URL string
}

func (d *WebSocketDialer) Dial(ctx context.Context) (signaling.Conn, error) {
	conn, err := signaling.Dial(ctx, d.URL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Producer is a local published track.
type Producer struct {
	ID    string
	Kind  media.Kind
	Codec webrtc.RTPCodecCapability
}

// Consumer is a local subscription to a remote producer.
type Consumer struct {
	ID             string
	ProducerID     string
	ProducerUserID string
	Kind           media.Kind
	Codec          webrtc.RTPCodecCapability
	Paused         bool
}

// Session is a client connection to one room. All inbound messages are
// processed sequentially on a dispatch queue; the public methods may be
// called from any goroutine.
type Session struct {
	cfg     *config.ClientConfig
	log     *slog.Logger
	dialer  Dialer
	device  *media.Device
	bus     *events.Bus
	pending *pendingTable

	mu            sync.Mutex
	status        Status
	closed        bool
	conn          signaling.Conn
	queue         *dispatch.Queue
	roomID        string
	userID        string
	displayName   string
	joinRoomID    string // set while a join is in flight, for error routing
	sendTransport *Transport
	recvTransport *Transport
	participants  map[string]protocol.ParticipantInfo
	producers     map[string]*Producer
	consumers     map[string]*Consumer
	remote        map[string]protocol.NewProducerPayload
	autoPending   map[string]struct{} // producer ids with an auto-consume in flight
}

// NewSession creates a session. It does not connect; call Join.
func NewSession(cfg *config.ClientConfig, dialer Dialer, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	device, err := media.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return &Session{
		cfg:          cfg,
		log:          log.With("component", "client"),
		dialer:       dialer,
		device:       device,
		bus:          events.NewBus(),
		pending:      newPendingTable(),
		status:       StatusDisconnected,
		participants: make(map[string]protocol.ParticipantInfo),
		producers:    make(map[string]*Producer),
		consumers:    make(map[string]*Consumer),
		remote:       make(map[string]protocol.NewProducerPayload),
		autoPending:  make(map[string]struct{}),
	}, nil
}

// Events subscribes to the session's event feed. With no types it receives
// everything. The returned cancel releases the subscription.
func (s *Session) Events(types ...events.Type) (<-chan events.Event, func()) {
	return s.bus.Subscribe(types...)
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Room returns the joined room id, or "" when not in a room.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Participants returns a snapshot of the known remote room members.
func (s *Session) Participants() []protocol.ParticipantInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ParticipantInfo, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// Producers returns a snapshot of the local published tracks.
func (s *Session) Producers() []Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, *p)
	}
	return out
}

// Consumers returns a snapshot of the local subscriptions.
func (s *Session) Consumers() []Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, *c)
	}
	return out
}

// Join connects to the server and enters the room. It blocks until the join
// completes, fails, or the join timeout elapses.
func (s *Session) Join(ctx context.Context, roomID, userID, displayName string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.status {
	case StatusDisconnected, StatusError:
	default:
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.setStatusLocked(StatusConnecting)
	s.joinRoomID = roomID
	s.userID = userID
	s.displayName = displayName
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.setStatusLocked(StatusError)
		s.joinRoomID = ""
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	queue := dispatch.New(64, func(err error) {
		s.log.Warn("message handler failed", "err", err)
		s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{Err: err}})
	})

	s.mu.Lock()
	s.conn = conn
	s.queue = queue
	s.mu.Unlock()
	go s.readLoop(conn, queue)

	if err := s.requestJoin(ctx, conn, roomID, userID, displayName); err != nil {
		s.mu.Lock()
		s.teardownLocked()
		s.setStatusLocked(StatusError)
		s.joinRoomID = ""
		s.mu.Unlock()
		conn.Close()
		return err
	}

	// Both transports finish their handshake before the session reports as
	// connected; connected means media can flow, not just that the join was
	// acknowledged.
	if err := s.connectTransports(ctx); err != nil {
		s.mu.Lock()
		s.teardownLocked()
		s.setStatusLocked(StatusError)
		s.joinRoomID = ""
		s.mu.Unlock()
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.joinRoomID = ""
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()

	s.consumeKnownProducers()
	return nil
}

// requestJoin sends the join request on conn and waits for the terminal
// response under the join timeout. Room state is installed by the joined
// handler on the dispatch queue before the wait returns, so later queued
// messages already see it.
func (s *Session) requestJoin(ctx context.Context, conn signaling.Conn, roomID, userID, displayName string) error {
	key := "join:" + roomID
	ch, err := s.pending.create(key)
	if err != nil {
		return err
	}

	msg, err := protocol.NewMessage(protocol.MessageTypeJoin, protocol.JoinPayload{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
	})
	if err != nil {
		s.pending.forget(key)
		return err
	}
	if err := conn.Send(msg); err != nil {
		s.pending.forget(key)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()
	_, err = s.pending.await(waitCtx, key, ch)
	return err
}

// connectTransports runs the DTLS exchange on both transports.
func (s *Session) connectTransports(ctx context.Context) error {
	s.mu.Lock()
	send, recv := s.sendTransport, s.recvTransport
	s.mu.Unlock()
	if send == nil || recv == nil {
		return ErrNotConnected
	}
	if err := send.ensureConnected(ctx); err != nil {
		return fmt.Errorf("connect send transport: %w", err)
	}
	if err := recv.ensureConnected(ctx); err != nil {
		return fmt.Errorf("connect recv transport: %w", err)
	}
	return nil
}

// applyJoinedLocked installs room state from a joined payload. Any previous
// transports, producers and consumers are superseded.
func (s *Session) applyJoinedLocked(joined *protocol.JoinedPayload) {
	s.device.Load(joined.RouterCapabilities)

	s.sendTransport = newTransport(joined.SendTransport, s.connectTransport)
	s.recvTransport = newTransport(joined.RecvTransport, s.connectTransport)

	s.participants = make(map[string]protocol.ParticipantInfo, len(joined.Participants))
	for _, p := range joined.Participants {
		s.participants[p.UserID] = p
	}
	s.producers = make(map[string]*Producer)
	s.consumers = make(map[string]*Consumer)
	s.remote = make(map[string]protocol.NewProducerPayload)
	s.autoPending = make(map[string]struct{})
}

// connectTransport runs the DTLS parameter exchange for one transport and
// waits for the acknowledgment.
func (s *Session) connectTransport(ctx context.Context, transportID string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	key := "connect:" + transportID
	ch, err := s.pending.create(key)
	if err != nil {
		return err
	}

	msg := protocol.MustMessage(protocol.MessageTypeTransportConnect, protocol.TransportConnectPayload{
		TransportID:    transportID,
		DTLSParameters: s.device.DTLSParameters(media.DTLSRoleClient),
	})
	if err := conn.Send(msg); err != nil {
		s.pending.forget(key)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	_, err = s.pending.await(waitCtx, key, ch)
	return err
}

// Produce publishes a track of the given kind and returns the local handle.
// The send transport is connected on first use.
func (s *Session) Produce(ctx context.Context, kind media.Kind, codec webrtc.RTPCodecCapability) (*Producer, error) {
	s.mu.Lock()
	conn := s.conn
	transport := s.sendTransport
	ok := s.status == StatusConnected
	s.mu.Unlock()
	if !ok || conn == nil || transport == nil {
		return nil, ErrNotConnected
	}

	if err := transport.ensureConnected(ctx); err != nil {
		return nil, err
	}

	key := "produce:" + transport.ID
	ch, err := s.pending.create(key)
	if err != nil {
		return nil, err
	}

	msg := protocol.MustMessage(protocol.MessageTypeTransportProduce, protocol.TransportProducePayload{
		TransportID: transport.ID,
		Kind:        kind,
		Codec:       codec,
	})
	if err := conn.Send(msg); err != nil {
		s.pending.forget(key)
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	reply, err := s.pending.await(waitCtx, key, ch)
	if err != nil {
		return nil, err
	}

	var produced protocol.ProducedPayload
	if err := reply.DecodePayload(&produced); err != nil {
		return nil, fmt.Errorf("decode produced payload: %w", err)
	}

	producer := &Producer{ID: produced.ProducerID, Kind: kind, Codec: codec}
	s.mu.Lock()
	s.producers[producer.ID] = producer
	s.mu.Unlock()
	return producer, nil
}

// Consume subscribes to a remote producer. The consumer starts paused; call
// Resume to start media flowing. The receive transport is connected on first
// use.
func (s *Session) Consume(ctx context.Context, producerID string) (*Consumer, error) {
	s.mu.Lock()
	conn := s.conn
	transport := s.recvTransport
	ok := s.status == StatusConnected
	owner := s.remote[producerID].UserID
	s.mu.Unlock()
	if !ok || conn == nil || transport == nil {
		return nil, ErrNotConnected
	}

	if err := transport.ensureConnected(ctx); err != nil {
		return nil, err
	}

	key := "consume:" + producerID
	ch, err := s.pending.create(key)
	if err != nil {
		return nil, err
	}

	msg := protocol.MustMessage(protocol.MessageTypeTransportConsume, protocol.TransportConsumePayload{
		TransportID:  transport.ID,
		ProducerID:   producerID,
		Capabilities: s.device.RecvCapabilities(),
	})
	if err := conn.Send(msg); err != nil {
		s.pending.forget(key)
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	reply, err := s.pending.await(waitCtx, key, ch)
	if err != nil {
		return nil, err
	}

	var cp protocol.ConsumePayload
	if err := reply.DecodePayload(&cp); err != nil {
		return nil, fmt.Errorf("decode consume payload: %w", err)
	}
	if cp.ProducerUserID == "" {
		cp.ProducerUserID = owner
	}

	consumer := &Consumer{
		ID:             cp.ConsumerID,
		ProducerID:     cp.ProducerID,
		ProducerUserID: cp.ProducerUserID,
		Kind:           cp.Kind,
		Codec:          cp.Codec,
		Paused:         true,
	}
	s.mu.Lock()
	s.consumers[consumer.ID] = consumer
	s.mu.Unlock()

	s.bus.Publish(events.Event{Type: events.TypeNewConsumer, Payload: events.ConsumerPayload{
		ConsumerID: consumer.ID,
		ProducerID: consumer.ProducerID,
		UserID:     consumer.ProducerUserID,
		Kind:       consumer.Kind,
	}})
	return consumer, nil
}

// Resume unpauses a consumer. Resume expects no acknowledgment.
func (s *Session) Resume(consumerID string) error {
	return s.setConsumerPaused(consumerID, false)
}

// Pause pauses a consumer.
func (s *Session) Pause(consumerID string) error {
	return s.setConsumerPaused(consumerID, true)
}

func (s *Session) setConsumerPaused(consumerID string, paused bool) error {
	s.mu.Lock()
	conn := s.conn
	consumer, ok := s.consumers[consumerID]
	connected := s.status == StatusConnected
	s.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	if !ok {
		return fmt.Errorf("unknown consumer %s", consumerID)
	}

	var msg *protocol.Message
	if paused {
		msg = protocol.MustMessage(protocol.MessageTypePause, protocol.PausePayload{ConsumerID: consumerID})
	} else {
		msg = protocol.MustMessage(protocol.MessageTypeResume, protocol.ResumePayload{ConsumerID: consumerID})
	}
	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.mu.Lock()
	consumer.Paused = paused
	s.mu.Unlock()
	return nil
}

// Leave exits the room and disconnects. It is idempotent, callable from any
// state, and never fails: a leave that cannot reach the server still resets
// local state, and the server's disconnect cleanup converges the rest.
func (s *Session) Leave() {
	s.mu.Lock()
	conn := s.conn
	s.teardownLocked()
	if s.status != StatusDisconnected {
		s.setStatusLocked(StatusDisconnected)
	}
	s.mu.Unlock()

	if conn != nil {
		// Best effort; the read pump noticing the close is equivalent.
		conn.Send(protocol.MustMessage(protocol.MessageTypeLeave, nil))
		conn.Close()
	}
	s.pending.failAll(ErrClosed)
}

// Close leaves the room and shuts the session down for good.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Leave()
	s.bus.Close()
}

// teardownLocked clears connection-scoped state. Callers hold s.mu.
func (s *Session) teardownLocked() {
	s.conn = nil
	if s.queue != nil {
		// Closed out of band; the worker drains its in-flight handler.
		queue := s.queue
		s.queue = nil
		go queue.Close()
	}
	if s.sendTransport != nil {
		s.sendTransport.close()
		s.sendTransport = nil
	}
	if s.recvTransport != nil {
		s.recvTransport.close()
		s.recvTransport = nil
	}
	s.roomID = ""
	s.participants = make(map[string]protocol.ParticipantInfo)
	s.producers = make(map[string]*Producer)
	s.consumers = make(map[string]*Consumer)
	s.remote = make(map[string]protocol.NewProducerPayload)
}

// readLoop pumps inbound messages onto the dispatch queue so handlers run
// strictly in arrival order.
func (s *Session) readLoop(conn signaling.Conn, queue *dispatch.Queue) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			s.onConnectionLost(conn)
			return
		}
		m := msg
		if err := queue.Enqueue(func(ctx context.Context) error {
			s.handleMessage(m)
			return nil
		}); err != nil {
			return
		}
	}
}

// onConnectionLost reacts to the read pump dying. A deliberate leave already
// swapped the connection out; anything else is an unexpected drop.
func (s *Session) onConnectionLost(conn signaling.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		// Stale pump from a connection we already replaced or closed.
		s.mu.Unlock()
		return
	}
	wasConnected := s.status == StatusConnected
	reconnect := wasConnected && s.cfg.AutoReconnect && !s.closed
	roomID, userID, displayName := s.roomID, s.userID, s.displayName
	s.teardownLocked()
	if reconnect {
		s.setStatusLocked(StatusReconnecting)
	} else if wasConnected || s.status == StatusConnecting {
		s.setStatusLocked(StatusError)
	}
	s.mu.Unlock()

	s.pending.failAll(ErrConnection)

	if reconnect {
		go s.reconnect(roomID, userID, displayName)
	} else if wasConnected {
		s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{Err: ErrConnection}})
	}
}

// reconnect re-dials and re-joins with exponential backoff. Published tracks
// are not re-created automatically; the caller decides what to republish.
func (s *Session) reconnect(roomID, userID, displayName string) {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.MaxReconnects)

	err := backoff.Retry(func() error {
		s.mu.Lock()
		if s.closed || s.status != StatusReconnecting {
			s.mu.Unlock()
			return backoff.Permanent(ErrClosed)
		}
		s.mu.Unlock()

		return s.rejoin(roomID, userID, displayName)
	}, policy)

	if err != nil {
		if errors.Is(err, ErrClosed) {
			// Deliberate leave raced the reconnect; nothing to report.
			return
		}
		s.mu.Lock()
		if s.status == StatusReconnecting {
			s.setStatusLocked(StatusError)
		}
		s.mu.Unlock()
		s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{
			Err: fmt.Errorf("reconnect failed: %w", err),
		}})
	}
}

// rejoin performs one reconnect attempt: dial, join, swap the new connection
// in.
func (s *Session) rejoin(roomID, userID, displayName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JoinTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	queue := dispatch.New(64, func(err error) {
		s.log.Warn("message handler failed", "err", err)
		s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{Err: err}})
	})

	s.mu.Lock()
	s.conn = conn
	s.queue = queue
	s.joinRoomID = roomID
	s.mu.Unlock()
	go s.readLoop(conn, queue)

	if err := s.requestJoin(ctx, conn, roomID, userID, displayName); err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.teardownLocked()
		}
		s.joinRoomID = ""
		s.mu.Unlock()
		conn.Close()
		return err
	}

	if err := s.connectTransports(ctx); err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.teardownLocked()
		}
		s.joinRoomID = ""
		s.mu.Unlock()
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.joinRoomID = ""
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()

	s.log.Info("reconnected", "room", roomID)
	s.consumeKnownProducers()
	return nil
}

// handleMessage runs on the dispatch queue, one message at a time.
func (s *Session) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeJoined:
		var p protocol.JoinedPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		// Install room state here, before resolving the waiter: any message
		// queued behind this one, like the catch-up producer announcements,
		// must find the transports and the remote map already in place.
		s.mu.Lock()
		if s.joinRoomID == p.RoomID {
			s.roomID = p.RoomID
			s.applyJoinedLocked(&p)
		}
		s.mu.Unlock()
		s.pending.resolve("join:"+p.RoomID, msg)

	case protocol.MessageTypeConnectTransport:
		var p protocol.ConnectTransportPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.pending.resolve("connect:"+p.TransportID, msg)

	case protocol.MessageTypeProduced:
		var p protocol.ProducedPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.pending.resolve("produce:"+p.TransportID, msg)

	case protocol.MessageTypeConsume:
		var p protocol.ConsumePayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.pending.resolve("consume:"+p.ProducerID, msg)

	case protocol.MessageTypeNewProducer:
		s.handleNewProducer(msg)

	case protocol.MessageTypeProducerClosed:
		s.handleProducerClosed(msg)

	case protocol.MessageTypeParticipantJoined:
		var p protocol.ParticipantJoinedPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.mu.Lock()
		s.participants[p.UserID] = protocol.ParticipantInfo{UserID: p.UserID, DisplayName: p.DisplayName}
		s.mu.Unlock()
		s.bus.Publish(events.Event{Type: events.TypeParticipantJoined, Payload: events.ParticipantPayload{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
		}})

	case protocol.MessageTypeParticipantLeft:
		var p protocol.ParticipantLeftPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.mu.Lock()
		delete(s.participants, p.UserID)
		s.mu.Unlock()
		s.bus.Publish(events.Event{Type: events.TypeParticipantLeft, Payload: events.ParticipantPayload{
			UserID: p.UserID,
		}})

	case protocol.MessageTypeResume:
		var p protocol.ResumePayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.setRemotePaused(p.ConsumerID, false)

	case protocol.MessageTypePause:
		var p protocol.PausePayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		s.setRemotePaused(p.ConsumerID, true)

	case protocol.MessageTypeError:
		s.handleError(msg)

	default:
		s.log.Debug("ignoring message", "type", msg.Type)
	}
}

func (s *Session) handleNewProducer(msg *protocol.Message) {
	var p protocol.NewProducerPayload
	if err := msg.DecodePayload(&p); err != nil {
		return
	}

	s.mu.Lock()
	s.remote[p.ProducerID] = p
	s.mu.Unlock()

	s.bus.Publish(events.Event{Type: events.TypeNewProducer, Payload: events.ProducerPayload{
		ProducerID: p.ProducerID,
		UserID:     p.UserID,
		Kind:       p.Kind,
	}})

	s.consumeKnownProducers()
}

// consumeKnownProducers starts auto-consume for every remote producer without
// a consumer. Producers announced before the session reached connected, such
// as the catch-up announcements right after a join, are picked up the next
// time this runs.
func (s *Session) consumeKnownProducers() {
	if !s.cfg.AutoConsume {
		return
	}

	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	var start []string
	for id := range s.remote {
		if s.consumingLocked(id) {
			continue
		}
		if _, ok := s.autoPending[id]; ok {
			continue
		}
		s.autoPending[id] = struct{}{}
		start = append(start, id)
	}
	s.mu.Unlock()

	for _, id := range start {
		// Consume blocks on a reply the dispatch queue must deliver, so it
		// cannot run on the queue itself.
		go s.autoConsume(id)
	}
}

// consumingLocked reports whether a consumer for the producer exists. Callers
// hold s.mu.
func (s *Session) consumingLocked(producerID string) bool {
	for _, c := range s.consumers {
		if c.ProducerID == producerID {
			return true
		}
	}
	return false
}

func (s *Session) autoConsume(producerID string) {
	defer func() {
		s.mu.Lock()
		delete(s.autoPending, producerID)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.RequestTimeout)
	defer cancel()
	consumer, err := s.Consume(ctx, producerID)
	if err != nil {
		s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{
			Err: fmt.Errorf("auto-consume producer %s: %w", producerID, err),
		}})
		return
	}
	if err := s.Resume(consumer.ID); err != nil {
		s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{
			Err: fmt.Errorf("resume consumer %s: %w", consumer.ID, err),
		}})
	}
}

// setRemotePaused applies a server-initiated pause or resume to the local
// consumer record. Unknown consumer ids are ignored; the close notification
// may already have removed the entry.
func (s *Session) setRemotePaused(consumerID string, paused bool) {
	s.mu.Lock()
	if c, ok := s.consumers[consumerID]; ok {
		c.Paused = paused
	}
	s.mu.Unlock()
}

func (s *Session) handleProducerClosed(msg *protocol.Message) {
	var p protocol.ProducerClosedPayload
	if err := msg.DecodePayload(&p); err != nil {
		return
	}

	s.mu.Lock()
	delete(s.remote, p.ProducerID)
	var closed []*Consumer
	for id, c := range s.consumers {
		if c.ProducerID == p.ProducerID {
			closed = append(closed, c)
			delete(s.consumers, id)
		}
	}
	s.mu.Unlock()

	s.bus.Publish(events.Event{Type: events.TypeProducerClosed, Payload: events.ProducerPayload{
		ProducerID: p.ProducerID,
		UserID:     p.UserID,
	}})
	for _, c := range closed {
		s.bus.Publish(events.Event{Type: events.TypeConsumerClosed, Payload: events.ConsumerPayload{
			ConsumerID: c.ID,
			ProducerID: c.ProducerID,
			UserID:     c.ProducerUserID,
			Kind:       c.Kind,
		}})
	}
}

// handleError routes a server error to the in-flight request it correlates
// with; errors with no waiter surface on the event bus.
func (s *Session) handleError(msg *protocol.Message) {
	var p protocol.ErrorPayload
	if err := msg.DecodePayload(&p); err != nil {
		return
	}
	serr := &ServerError{Code: p.Code, Message: p.Message}

	if p.TransportID != "" {
		if s.pending.fail("connect:"+p.TransportID, serr) {
			return
		}
		if s.pending.fail("produce:"+p.TransportID, serr) {
			return
		}
	}
	if p.ProducerID != "" && s.pending.fail("consume:"+p.ProducerID, serr) {
		return
	}

	s.mu.Lock()
	joinRoom := s.joinRoomID
	s.mu.Unlock()
	if joinRoom != "" && s.pending.fail("join:"+joinRoom, serr) {
		return
	}

	s.bus.Publish(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{Err: serr}})
}

// setStatusLocked transitions the status and publishes the change. Callers
// hold s.mu.
func (s *Session) setStatusLocked(to Status) {
	if !canTransition(s.status, to) {
		return
	}
	old := s.status
	s.status = to
	s.bus.Publish(events.Event{Type: events.TypeConnectionStatus, Payload: events.ConnectionStatusPayload{
		Old: string(old),
		New: string(to),
	}})
}
