// Package media defines the boundary to the media-routing engine: the
// parameter vocabulary (handshake, ICE, codec capabilities), the Engine
// interface the signaling layer drives, and an in-memory engine used by the
// server binary and the tests. The actual RTP/ICE/DTLS machinery lives
// behind the Engine interface and is out of scope here.
package media

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known media kind.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Direction tags a transport with its media direction relative to the
// endpoint that owns it.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// DTLSRole is the secure-handshake role an endpoint takes.
type DTLSRole string

const (
	DTLSRoleAuto   DTLSRole = "auto"
	DTLSRoleClient DTLSRole = "client"
	DTLSRoleServer DTLSRole = "server"
)

// DTLSParameters is the secure-handshake negotiation data: a role plus the
// certificate fingerprints of the endpoint.
type DTLSParameters struct {
	Role         DTLSRole                 `json:"role"`
	Fingerprints []webrtc.DTLSFingerprint `json:"fingerprints"`
}

// Validate checks the parameters are structurally complete: a known role and
// at least one non-empty fingerprint. It runs before any engine call so a
// malformed handshake never reaches the engine.
func (p DTLSParameters) Validate() error {
	switch p.Role {
	case DTLSRoleAuto, DTLSRoleClient, DTLSRoleServer:
	case "":
		return WrapError("validate dtls parameters", ErrInvalidHandshake, "missing role")
	default:
		return WrapError("validate dtls parameters", ErrInvalidHandshake, "unknown role "+string(p.Role))
	}

	if len(p.Fingerprints) == 0 {
		return WrapError("validate dtls parameters", ErrInvalidHandshake, "no fingerprints")
	}
	for _, fp := range p.Fingerprints {
		if fp.Algorithm == "" || fp.Value == "" {
			return WrapError("validate dtls parameters", ErrInvalidHandshake, "incomplete fingerprint")
		}
	}
	return nil
}

// ICECandidate is a single candidate address offered by the engine.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// TransportInfo is everything a remote endpoint needs to establish one
// transport: identity, direction and the engine-generated handshake material.
type TransportInfo struct {
	ID             string                `json:"id"`
	Direction      Direction             `json:"direction"`
	ICEParameters  webrtc.ICEParameters  `json:"ice_parameters"`
	ICECandidates  []ICECandidate        `json:"ice_candidates"`
	DTLSParameters DTLSParameters        `json:"dtls_parameters"`
}

// ConsumerInfo is the engine's answer to a consume request.
type ConsumerInfo struct {
	ID         string                    `json:"id"`
	ProducerID string                    `json:"producer_id"`
	Kind       Kind                      `json:"kind"`
	Codec      webrtc.RTPCodecCapability `json:"codec"`
}

// DefaultAudioCodec returns the codec capability used for audio tracks when
// the caller has no preference.
func DefaultAudioCodec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}

// DefaultVideoCodec returns the codec capability used for video tracks when
// the caller has no preference.
func DefaultVideoCodec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
}

// codecMatch reports whether two capabilities describe the same codec.
func codecMatch(a, b webrtc.RTPCodecCapability) bool {
	return strings.EqualFold(a.MimeType, b.MimeType) && a.ClockRate == b.ClockRate
}

// CapabilitiesInclude reports whether caps can receive a track encoded with
// codec.
func CapabilitiesInclude(caps []webrtc.RTPCodecCapability, codec webrtc.RTPCodecCapability) bool {
	for _, c := range caps {
		if codecMatch(c, codec) {
			return true
		}
	}
	return false
}
