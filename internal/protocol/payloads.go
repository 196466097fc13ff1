package protocol

import (
	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/media"
)

// JoinPayload asks the server to add the sender to a room. The room is
// created on first join.
type JoinPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// ParticipantInfo is the client-visible projection of a room member.
type ParticipantInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// JoinedPayload is the terminal response to a join. It carries the handshake
// parameters for both server-side transports and the room's media
// capabilities. Producers already live in the room are announced with
// separate new_producer messages immediately after.
type JoinedPayload struct {
	RoomID             string                      `json:"room_id"`
	SendTransport      media.TransportInfo         `json:"send_transport"`
	RecvTransport      media.TransportInfo         `json:"recv_transport"`
	RouterCapabilities []webrtc.RTPCodecCapability `json:"router_capabilities"`
	Participants       []ParticipantInfo           `json:"participants,omitempty"`
}

// TransportConnectPayload relays the client's locally generated handshake
// parameters for one transport.
type TransportConnectPayload struct {
	TransportID    string               `json:"transport_id"`
	DTLSParameters media.DTLSParameters `json:"dtls_parameters"`
}

// ConnectTransportPayload acknowledges a transport_connect, echoing the same
// transport id for correlation.
type ConnectTransportPayload struct {
	TransportID string `json:"transport_id"`
}

// TransportProducePayload publishes a local media track on a send transport.
type TransportProducePayload struct {
	TransportID string                    `json:"transport_id"`
	Kind        media.Kind                `json:"kind"`
	Codec       webrtc.RTPCodecCapability `json:"codec"`
}

// ProducedPayload is the terminal response to a transport_produce.
type ProducedPayload struct {
	TransportID string `json:"transport_id"`
	ProducerID  string `json:"producer_id"`
}

// NewProducerPayload announces a remote participant's producer to the room.
type NewProducerPayload struct {
	ProducerID string     `json:"producer_id"`
	UserID     string     `json:"user_id"`
	Kind       media.Kind `json:"kind"`
}

// TransportConsumePayload subscribes to a remote producer on a receive
// transport, stating the local receive capabilities.
type TransportConsumePayload struct {
	TransportID  string                      `json:"transport_id"`
	ProducerID   string                      `json:"producer_id"`
	Capabilities []webrtc.RTPCodecCapability `json:"capabilities"`
}

// ConsumePayload is the terminal response to a transport_consume. The
// consumer starts paused; the client follows with a resume.
type ConsumePayload struct {
	ConsumerID     string                    `json:"consumer_id"`
	ProducerID     string                    `json:"producer_id"`
	ProducerUserID string                    `json:"producer_user_id"`
	Kind           media.Kind                `json:"kind"`
	Codec          webrtc.RTPCodecCapability `json:"codec"`
}

// ResumePayload and PausePayload toggle a consumer's pause state. They flow
// in either direction and expect no acknowledgment.
type ResumePayload struct {
	ConsumerID string `json:"consumer_id"`
}

type PausePayload struct {
	ConsumerID string `json:"consumer_id"`
}

// ProducerClosedPayload tells the room a producer is gone.
type ProducerClosedPayload struct {
	ProducerID string `json:"producer_id"`
	UserID     string `json:"user_id"`
}

// ParticipantJoinedPayload announces a new room member to everyone else.
type ParticipantJoinedPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// ParticipantLeftPayload announces a departed room member.
type ParticipantLeftPayload struct {
	UserID string `json:"user_id"`
}

// ErrorPayload is the terminal failure response for any request. The id
// fields carry whichever correlation key the failed request used.
type ErrorPayload struct {
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	TransportID string `json:"transport_id,omitempty"`
	ProducerID  string `json:"producer_id,omitempty"`
	ConsumerID  string `json:"consumer_id,omitempty"`
}
