package media

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Device is the client-side half of the engine boundary: it owns the local
// certificate whose fingerprints go into transport_connect, and the receive
// capabilities advertised in transport_consume. Load may run again on a
// reconnect while consumes are in flight, so the capabilities are guarded.
type Device struct {
	fingerprints []webrtc.DTLSFingerprint

	mu       sync.Mutex
	recvCaps []webrtc.RTPCodecCapability
}

// NewDevice mints a fresh local certificate.
func NewDevice() (*Device, error) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, NewError("generate device key", err)
	}

	cert, err := webrtc.GenerateCertificate(sk)
	if err != nil {
		return nil, NewError("generate device certificate", err)
	}

	fingerprints, err := cert.GetFingerprints()
	if err != nil {
		return nil, NewError("fingerprint device certificate", err)
	}

	return &Device{fingerprints: fingerprints}, nil
}

// Load intersects the router's capabilities with what this device can
// receive. Until loaded, the device has no receive capabilities.
func (d *Device) Load(routerCaps []webrtc.RTPCodecCapability) {
	supported := []webrtc.RTPCodecCapability{DefaultAudioCodec(), DefaultVideoCodec()}

	caps := make([]webrtc.RTPCodecCapability, 0, len(routerCaps))
	for _, rc := range routerCaps {
		if CapabilitiesInclude(supported, rc) {
			caps = append(caps, rc)
		}
	}

	d.mu.Lock()
	d.recvCaps = caps
	d.mu.Unlock()
}

// RecvCapabilities returns the capabilities advertised when consuming.
func (d *Device) RecvCapabilities() []webrtc.RTPCodecCapability {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]webrtc.RTPCodecCapability, len(d.recvCaps))
	copy(out, d.recvCaps)
	return out
}

// DTLSParameters returns the local handshake parameters with the given role.
// The client side takes the client role once the server transport answered
// with auto.
func (d *Device) DTLSParameters(role DTLSRole) DTLSParameters {
	fps := make([]webrtc.DTLSFingerprint, len(d.fingerprints))
	copy(fps, d.fingerprints)
	return DTLSParameters{Role: role, Fingerprints: fps}
}
