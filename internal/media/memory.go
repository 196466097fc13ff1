package media

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// MemoryEngine is an in-process Engine implementation. It mints real DTLS
// fingerprints from a pion certificate and tracks the full
// transport/producer/consumer graph, but routes no media. It backs the
// server binary and the test suite; an out-of-process SFU engine would
// implement the same interface.
type MemoryEngine struct {
	caps         []webrtc.RTPCodecCapability
	fingerprints []webrtc.DTLSFingerprint

	mu         sync.Mutex
	transports map[string]*memTransport
	producers  map[string]*memProducer
	consumers  map[string]*memConsumer
	nextPort   uint16
	closed     bool

	cbMu      sync.Mutex
	closedFns []func(ResourceKind, string)
	diedFns   []func(error)
	died      bool
}

type memTransport struct {
	info      TransportInfo
	connected bool
	producers map[string]struct{}
	consumers map[string]struct{}
}

type memProducer struct {
	id          string
	transportID string
	kind        Kind
	codec       webrtc.RTPCodecCapability
	consumers   map[string]struct{}
}

type memConsumer struct {
	id          string
	transportID string
	producerID  string
	kind        Kind
	codec       webrtc.RTPCodecCapability
	paused      bool
}

// NewMemoryEngine creates an engine routing opus audio and VP8 video.
func NewMemoryEngine() (*MemoryEngine, error) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, NewError("generate engine key", err)
	}

	cert, err := webrtc.GenerateCertificate(sk)
	if err != nil {
		return nil, NewError("generate engine certificate", err)
	}

	fingerprints, err := cert.GetFingerprints()
	if err != nil {
		return nil, NewError("fingerprint engine certificate", err)
	}

	return &MemoryEngine{
		caps:         []webrtc.RTPCodecCapability{DefaultAudioCodec(), DefaultVideoCodec()},
		fingerprints: fingerprints,
		transports:   make(map[string]*memTransport),
		producers:    make(map[string]*memProducer),
		consumers:    make(map[string]*memConsumer),
		nextPort:     40000,
	}, nil
}

func (e *MemoryEngine) RouterCapabilities() []webrtc.RTPCodecCapability {
	out := make([]webrtc.RTPCodecCapability, len(e.caps))
	copy(out, e.caps)
	return out
}

func (e *MemoryEngine) CreateTransport(_ context.Context, direction Direction) (*TransportInfo, error) {
	if direction != DirectionSend && direction != DirectionRecv {
		return nil, WrapError("create transport", ErrInvalidDirection, string(direction))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, NewError("create transport", ErrEngineClosed)
	}

	e.nextPort++
	info := TransportInfo{
		ID:        uuid.NewString(),
		Direction: direction,
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: randomToken(8),
			Password:         randomToken(22),
			ICELite:          true,
		},
		ICECandidates: []ICECandidate{{
			Foundation: "udpcandidate",
			Priority:   1076302079,
			Address:    "127.0.0.1",
			Protocol:   "udp",
			Port:       e.nextPort,
			Type:       "host",
		}},
		DTLSParameters: DTLSParameters{
			Role:         DTLSRoleAuto,
			Fingerprints: e.fingerprints,
		},
	}

	e.transports[info.ID] = &memTransport{
		info:      info,
		producers: make(map[string]struct{}),
		consumers: make(map[string]struct{}),
	}
	return &info, nil
}

func (e *MemoryEngine) ConnectTransport(_ context.Context, transportID string, params DTLSParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NewError("connect transport", ErrEngineClosed)
	}

	t, ok := e.transports[transportID]
	if !ok {
		return WrapError("connect transport", ErrTransportNotFound, transportID)
	}
	t.connected = true
	return nil
}

func (e *MemoryEngine) Produce(_ context.Context, transportID string, kind Kind, codec webrtc.RTPCodecCapability) (string, error) {
	if !kind.Valid() {
		return "", WrapError("produce", ErrInvalidKind, string(kind))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", NewError("produce", ErrEngineClosed)
	}

	t, ok := e.transports[transportID]
	if !ok {
		return "", WrapError("produce", ErrTransportNotFound, transportID)
	}
	if t.info.Direction != DirectionSend {
		return "", WrapError("produce", ErrInvalidDirection, "transport is not sending")
	}
	if !CapabilitiesInclude(e.caps, codec) {
		return "", WrapError("produce", ErrIncompatibleCapabilities, codec.MimeType)
	}

	p := &memProducer{
		id:          uuid.NewString(),
		transportID: transportID,
		kind:        kind,
		codec:       codec,
		consumers:   make(map[string]struct{}),
	}
	e.producers[p.id] = p
	t.producers[p.id] = struct{}{}
	return p.id, nil
}

func (e *MemoryEngine) CanConsume(producerID string, caps []webrtc.RTPCodecCapability) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.producers[producerID]
	if !ok {
		return false
	}
	return CapabilitiesInclude(caps, p.codec)
}

func (e *MemoryEngine) Consume(_ context.Context, transportID, producerID string, caps []webrtc.RTPCodecCapability) (*ConsumerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, NewError("consume", ErrEngineClosed)
	}

	t, ok := e.transports[transportID]
	if !ok {
		return nil, WrapError("consume", ErrTransportNotFound, transportID)
	}
	if t.info.Direction != DirectionRecv {
		return nil, WrapError("consume", ErrInvalidDirection, "transport is not receiving")
	}

	p, ok := e.producers[producerID]
	if !ok {
		return nil, WrapError("consume", ErrProducerNotFound, producerID)
	}
	if !CapabilitiesInclude(caps, p.codec) {
		return nil, WrapError("consume", ErrIncompatibleCapabilities, p.codec.MimeType)
	}

	// Consumers start paused; the subscriber resumes once its own side is
	// wired up.
	c := &memConsumer{
		id:          uuid.NewString(),
		transportID: transportID,
		producerID:  producerID,
		kind:        p.kind,
		codec:       p.codec,
		paused:      true,
	}
	e.consumers[c.id] = c
	t.consumers[c.id] = struct{}{}
	p.consumers[c.id] = struct{}{}

	return &ConsumerInfo{ID: c.id, ProducerID: producerID, Kind: c.kind, Codec: c.codec}, nil
}

func (e *MemoryEngine) PauseConsumer(_ context.Context, consumerID string) error {
	return e.setConsumerPaused(consumerID, true)
}

func (e *MemoryEngine) ResumeConsumer(_ context.Context, consumerID string) error {
	return e.setConsumerPaused(consumerID, false)
}

func (e *MemoryEngine) setConsumerPaused(consumerID string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NewError("pause consumer", ErrEngineClosed)
	}

	c, ok := e.consumers[consumerID]
	if !ok {
		return WrapError("pause consumer", ErrConsumerNotFound, consumerID)
	}
	c.paused = paused
	return nil
}

// CloseTransport closes a transport and everything attached to it. Closing an
// unknown id is a no-op so teardown paths stay idempotent.
func (e *MemoryEngine) CloseTransport(transportID string) error {
	e.mu.Lock()
	t, ok := e.transports[transportID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.transports, transportID)

	var notify []closedEvent
	for pid := range t.producers {
		notify = append(notify, e.removeProducerLocked(pid)...)
	}
	for cid := range t.consumers {
		if _, ok := e.consumers[cid]; ok {
			notify = append(notify, e.removeConsumerLocked(cid))
		}
	}
	e.mu.Unlock()

	e.notifyClosed(notify)
	return nil
}

// CloseProducer closes a producer and cascades to every consumer it feeds.
func (e *MemoryEngine) CloseProducer(producerID string) error {
	e.mu.Lock()
	if _, ok := e.producers[producerID]; !ok {
		e.mu.Unlock()
		return nil
	}
	notify := e.removeProducerLocked(producerID)
	e.mu.Unlock()

	e.notifyClosed(notify)
	return nil
}

func (e *MemoryEngine) CloseConsumer(consumerID string) error {
	e.mu.Lock()
	if _, ok := e.consumers[consumerID]; !ok {
		e.mu.Unlock()
		return nil
	}
	ev := e.removeConsumerLocked(consumerID)
	e.mu.Unlock()

	e.notifyClosed([]closedEvent{ev})
	return nil
}

type closedEvent struct {
	kind ResourceKind
	id   string
}

func (e *MemoryEngine) removeProducerLocked(producerID string) []closedEvent {
	p := e.producers[producerID]
	delete(e.producers, producerID)
	if t, ok := e.transports[p.transportID]; ok {
		delete(t.producers, producerID)
	}

	events := []closedEvent{{ResourceProducer, producerID}}
	for cid := range p.consumers {
		if _, ok := e.consumers[cid]; ok {
			events = append(events, e.removeConsumerLocked(cid))
		}
	}
	return events
}

func (e *MemoryEngine) removeConsumerLocked(consumerID string) closedEvent {
	c := e.consumers[consumerID]
	delete(e.consumers, consumerID)
	if t, ok := e.transports[c.transportID]; ok {
		delete(t.consumers, consumerID)
	}
	if p, ok := e.producers[c.producerID]; ok {
		delete(p.consumers, consumerID)
	}
	return closedEvent{ResourceConsumer, consumerID}
}

// notifyClosed fires callbacks outside the engine lock.
func (e *MemoryEngine) notifyClosed(events []closedEvent) {
	if len(events) == 0 {
		return
	}

	e.cbMu.Lock()
	fns := make([]func(ResourceKind, string), len(e.closedFns))
	copy(fns, e.closedFns)
	e.cbMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev.kind, ev.id)
		}
	}
}

func (e *MemoryEngine) OnClosed(fn func(kind ResourceKind, id string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.closedFns = append(e.closedFns, fn)
}

func (e *MemoryEngine) OnDied(fn func(err error)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.diedFns = append(e.diedFns, fn)
}

// Fail marks the engine as dead and fires the died callbacks once. A real
// engine would call this when its worker process exits; tests use it to
// exercise the fatal-shutdown path.
func (e *MemoryEngine) Fail(err error) {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cbMu.Lock()
	if e.died {
		e.cbMu.Unlock()
		return
	}
	e.died = true
	fns := make([]func(error), len(e.diedFns))
	copy(fns, e.diedFns)
	e.cbMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.transports = make(map[string]*memTransport)
	e.producers = make(map[string]*memProducer)
	e.consumers = make(map[string]*memConsumer)
	e.mu.Unlock()
	return nil
}

// CountResources reports live transports, producers and consumers. Metrics
// and tests use it to check registry/engine consistency.
func (e *MemoryEngine) CountResources() (transports, producers, consumers int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transports), len(e.producers), len(e.consumers)
}

func randomToken(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}
