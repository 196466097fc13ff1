package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// ResourceKind names the kind of engine resource a notification refers to.
type ResourceKind string

const (
	ResourceTransport ResourceKind = "transport"
	ResourceProducer  ResourceKind = "producer"
	ResourceConsumer  ResourceKind = "consumer"
)

// Engine is the media-routing engine the session layer drives. Transport,
// producer and consumer creation can be slow, blocking I/O on a real engine,
// so those operations take a context; callers must not hold room locks while
// they are in flight.
//
// The engine reports resource teardown it initiated itself (cascaded closes,
// media-level failures) through the Closed callback, and a fatal engine
// failure through the Died callback. A died engine cannot be restarted in
// place.
type Engine interface {
	// RouterCapabilities returns the codecs the engine can route.
	RouterCapabilities() []webrtc.RTPCodecCapability

	CreateTransport(ctx context.Context, direction Direction) (*TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID string, params DTLSParameters) error

	Produce(ctx context.Context, transportID string, kind Kind, codec webrtc.RTPCodecCapability) (string, error)
	CanConsume(producerID string, caps []webrtc.RTPCodecCapability) bool
	Consume(ctx context.Context, transportID, producerID string, caps []webrtc.RTPCodecCapability) (*ConsumerInfo, error)

	PauseConsumer(ctx context.Context, consumerID string) error
	ResumeConsumer(ctx context.Context, consumerID string) error

	CloseTransport(transportID string) error
	CloseProducer(producerID string) error
	CloseConsumer(consumerID string) error

	// OnClosed registers a callback fired whenever the engine closes a
	// resource on its own initiative, including cascades: closing a producer
	// closes every consumer fed by it.
	OnClosed(fn func(kind ResourceKind, id string))

	// OnDied registers a callback fired once if the engine becomes unusable.
	OnDied(fn func(err error))

	Close() error
}
