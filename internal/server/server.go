package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/room"
)

// Server bundles the media engine, the room registry and the HTTP surface.
type Server struct {
	cfg      *config.ServerConfig
	log      *slog.Logger
	engine   media.Engine
	registry *room.Registry
	upgrader websocket.Upgrader

	died    chan error
	dropped atomic.Int64
}

// New wires a server around the given engine. Engine-initiated consumer
// closes are pruned from the registry so both sides agree on what exists; a
// died engine is surfaced on the Died channel for the process to act on.
func New(cfg *config.ServerConfig, engine media.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "server")

	registry := room.NewRegistry(log)
	registry.MaxParticipants = cfg.MaxRoomPeers

	s := &Server{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		died: make(chan error, 1),
	}

	engine.OnClosed(func(kind media.ResourceKind, id string) {
		if kind == media.ResourceConsumer {
			registry.PruneConsumer(id)
		}
	})
	engine.OnDied(func(err error) {
		s.log.Error("media engine died", "err", err)
		select {
		case s.died <- err:
		default:
		}
	})

	return s
}

// Registry exposes the room registry, mainly for tests and metrics.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Died delivers the engine's fatal error, once, when the engine dies.
func (s *Server) Died() <-chan error {
	return s.died
}

// Handler returns the HTTP mux with the signaling and operational endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	mux.HandleFunc("/healthz", s.serveHealthz)
	mux.HandleFunc("/metrics", s.serveMetrics)
	return mux
}

// serveWs upgrades the connection and starts the pumps. Each connection gets
// its own session coordinator.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}

	client := newClient(conn, s.log, &s.dropped)
	client.session = NewSession(s.engine, s.registry, client, s.log)

	go client.writePump()
	go client.readPump()
}

func (s *Server) serveHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// serveMetrics reports registry counts, plus engine resource counts when the
// engine can report them.
func (s *Server) serveMetrics(w http.ResponseWriter, _ *http.Request) {
	type metrics struct {
		room.Stats
		DroppedMessages int64          `json:"dropped_messages"`
		Engine          map[string]int `json:"engine,omitempty"`
	}

	m := metrics{Stats: s.registry.Snapshot(), DroppedMessages: s.dropped.Load()}
	if counter, ok := s.engine.(interface{ CountResources() (int, int, int) }); ok {
		transports, producers, consumers := counter.CountResources()
		m.Engine = map[string]int{
			"transports": transports,
			"producers":  producers,
			"consumers":  consumers,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}
