package client

import (
	"errors"
	"fmt"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

var (
	ErrConnection    = errors.New("connection failed")
	ErrTimeout       = errors.New("request timed out")
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyJoined = errors.New("already joined a room")
	ErrClosed        = errors.New("session closed")
	ErrRequestActive = errors.New("request already in flight")

	// Sentinels for server-reported failures, matched through errors.Is on a
	// ServerError.
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrProducerNotFound = errors.New("producer not found")
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrIncompatible     = errors.New("incompatible capabilities")
	ErrBadHandshake     = errors.New("invalid handshake parameters")
)

// ServerError is a failure the coordinator reported for one of our requests.
// Code carries the wire error code.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Unwrap maps the wire code onto the matching sentinel so callers can use
// errors.Is without parsing codes.
func (e *ServerError) Unwrap() error {
	switch e.Code {
	case protocol.CodeRoomNotFound:
		return ErrRoomNotFound
	case protocol.CodeRoomFull:
		return ErrRoomFull
	case protocol.CodeAlreadyExists:
		return ErrAlreadyJoined
	case protocol.CodeProducerNotFound:
		return ErrProducerNotFound
	case protocol.CodeConsumerNotFound:
		return ErrConsumerNotFound
	case protocol.CodeIncompatibleCapabilities:
		return ErrIncompatible
	case protocol.CodeInvalidHandshake:
		return ErrBadHandshake
	default:
		return nil
	}
}
