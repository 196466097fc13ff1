// Package protocol defines the wire vocabulary exchanged between Huddle
// clients and the signaling server. Every message is a JSON envelope with a
// type discriminator and a kind-specific payload; the transport carries no
// native request/response semantics, so requests and their terminal responses
// are correlated by the transport, producer or consumer id embedded in both.
package protocol

import "encoding/json"

// Message is the envelope for all signaling traffic, in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants. Client-to-server requests first, then
// server-to-client responses and broadcasts.
const (
	MessageTypeJoin             = "join"
	MessageTypeLeave            = "leave"
	MessageTypeTransportConnect = "transport_connect"
	MessageTypeTransportProduce = "transport_produce"
	MessageTypeTransportConsume = "transport_consume"
	MessageTypeResume           = "resume"
	MessageTypePause            = "pause"

	MessageTypeJoined            = "joined"
	MessageTypeConnectTransport  = "connect_transport"
	MessageTypeProduced          = "produced"
	MessageTypeNewProducer       = "new_producer"
	MessageTypeConsume           = "consume"
	MessageTypeProducerClosed    = "producer_closed"
	MessageTypeParticipantJoined = "participant_joined"
	MessageTypeParticipantLeft   = "participant_left"
	MessageTypeError             = "error"
)

// NewMessage creates a Message with the given type and JSON-encoded payload.
func NewMessage(t string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t}, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{Type: t, Payload: b}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
// It panics on error and is meant for internally constructed payloads.
func MustMessage(t string, payload any) *Message {
	m, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// DecodePayload decodes the message payload into the provided struct.
func (m *Message) DecodePayload(v any) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
