package client

import (
	"context"
	"errors"
	"sync"

	"github.com/huddle-rtc/huddle/internal/media"
)

type transportState int

const (
	transportNew transportState = iota
	transportConnecting
	transportConnected
	transportFailed
	transportClosed
)

var errTransportFailed = errors.New("transport handshake failed")

// Transport is the client-side handle for one server transport. The DTLS
// handshake is deferred until the transport is first used; connect runs at
// most once, and failed and closed are absorbing states.
type Transport struct {
	ID        string
	Direction media.Direction
	Info      media.TransportInfo

	mu        sync.Mutex
	state     transportState
	connectFn func(ctx context.Context, transportID string) error
}

func newTransport(info media.TransportInfo, connectFn func(ctx context.Context, transportID string) error) *Transport {
	return &Transport{
		ID:        info.ID,
		Direction: info.Direction,
		Info:      info,
		connectFn: connectFn,
	}
}

// ensureConnected runs the handshake on first use. Concurrent callers
// serialize on the transport lock; only the first performs the handshake.
func (t *Transport) ensureConnected(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case transportConnected:
		return nil
	case transportFailed:
		return errTransportFailed
	case transportClosed:
		return ErrClosed
	}

	t.state = transportConnecting
	if err := t.connectFn(ctx, t.ID); err != nil {
		t.state = transportFailed
		return err
	}
	t.state = transportConnected
	return nil
}

func (t *Transport) close() {
	t.mu.Lock()
	t.state = transportClosed
	t.mu.Unlock()
}
