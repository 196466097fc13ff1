package server

import (
	"context"
	"log/slog"

	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/protocol"
	"github.com/huddle-rtc/huddle/internal/room"
	"github.com/huddle-rtc/huddle/internal/signaling"
)

// LocalBroker runs the coordinator in process, with no network between
// client sessions and the server side. Each Dial yields an in-memory pipe
// whose far end is pumped into a fresh session, so the full client stack can
// run against real coordinator logic in tests and single-process setups.
type LocalBroker struct {
	log      *slog.Logger
	engine   media.Engine
	registry *room.Registry
}

// NewLocalBroker wires a broker around the engine, with the same
// engine-to-registry pruning a network server has.
func NewLocalBroker(engine media.Engine, log *slog.Logger) *LocalBroker {
	if log == nil {
		log = slog.Default()
	}
	registry := room.NewRegistry(log)

	engine.OnClosed(func(kind media.ResourceKind, id string) {
		if kind == media.ResourceConsumer {
			registry.PruneConsumer(id)
		}
	})

	return &LocalBroker{
		log:      log.With("component", "local-broker"),
		engine:   engine,
		registry: registry,
	}
}

// Registry exposes the broker's room registry.
func (b *LocalBroker) Registry() *room.Registry {
	return b.registry
}

// Dial opens a new in-process connection and returns the client end.
func (b *LocalBroker) Dial(_ context.Context) (signaling.Conn, error) {
	clientEnd, serverEnd := signaling.Pipe()

	sess := NewSession(b.engine, b.registry, pipeSink{conn: serverEnd}, b.log)
	go func() {
		for {
			msg, err := serverEnd.Receive()
			if err != nil {
				sess.Disconnect()
				return
			}
			sess.HandleMessage(msg)
		}
	}()

	return clientEnd, nil
}

type pipeSink struct {
	conn signaling.Conn
}

func (s pipeSink) Send(msg *protocol.Message) {
	_ = s.conn.Send(msg)
}
