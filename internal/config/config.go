// Package config loads configuration for both binaries with the priority
// CLI flags > environment > defaults. A .env file, when present, seeds the
// environment without overriding it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	DefaultBindAddr     = ":8080"
	DefaultServerURL    = "ws://localhost:8080/ws"
	DefaultJoinTimeout  = 15 * time.Second
	DefaultRequestWait  = 5 * time.Second
	DefaultMaxRoomPeers = 16
	DefaultReconnects   = 5
)

// ServerConfig holds the signaling server configuration.
type ServerConfig struct {
	BindAddr     string
	MaxRoomPeers int
}

// LoadServer reads the server configuration from .env and environment.
func LoadServer() (*ServerConfig, error) {
	// godotenv.Load does not overwrite existing env vars.
	_ = godotenv.Load()

	maxPeers := envIntOr("HUDDLE_MAX_ROOM_PEERS", DefaultMaxRoomPeers)
	if maxPeers < 0 {
		return nil, fmt.Errorf("HUDDLE_MAX_ROOM_PEERS must be >= 0, got %d", maxPeers)
	}

	return &ServerConfig{
		BindAddr:     envOr("HUDDLE_BIND_ADDR", DefaultBindAddr),
		MaxRoomPeers: maxPeers,
	}, nil
}

// ClientConfig holds the client session configuration.
type ClientConfig struct {
	ServerURL      string
	JoinTimeout    time.Duration
	RequestTimeout time.Duration
	AutoConsume    bool
	AutoReconnect  bool
	MaxReconnects  uint64
}

// Options carries CLI flag overrides for LoadClient. Zero values mean "not
// set on the command line".
type Options struct {
	ServerURL     string
	JoinTimeout   time.Duration
	AutoReconnect bool
}

// LoadClient reads the client configuration: flags > env > defaults.
func LoadClient(opts Options) (*ClientConfig, error) {
	_ = godotenv.Load()

	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = envOr("HUDDLE_SERVER_URL", DefaultServerURL)
	}

	joinTimeout := opts.JoinTimeout
	if joinTimeout == 0 {
		joinTimeout = envDurationOr("HUDDLE_JOIN_TIMEOUT", DefaultJoinTimeout)
	}
	if joinTimeout <= 0 {
		return nil, fmt.Errorf("join timeout must be positive, got %s", joinTimeout)
	}

	return &ClientConfig{
		ServerURL:      serverURL,
		JoinTimeout:    joinTimeout,
		RequestTimeout: envDurationOr("HUDDLE_REQUEST_TIMEOUT", DefaultRequestWait),
		AutoConsume:    envBoolOr("HUDDLE_AUTO_CONSUME", true),
		AutoReconnect:  opts.AutoReconnect || envBoolOr("HUDDLE_AUTO_RECONNECT", false),
		MaxReconnects:  uint64(envIntOr("HUDDLE_MAX_RECONNECTS", DefaultReconnects)),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoolOr(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
