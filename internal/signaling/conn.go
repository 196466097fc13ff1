// Package signaling abstracts the message-oriented connection the protocol
// runs over: a real WebSocket in production, an in-memory pipe for tests and
// the local broker.
package signaling

import (
	"errors"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

var ErrConnClosed = errors.New("signaling connection closed")

// Conn is a bidirectional, message-oriented connection. Receive blocks until
// a message arrives or the connection dies; Send is safe for concurrent use.
type Conn interface {
	Send(msg *protocol.Message) error
	Receive() (*protocol.Message, error)
	Close() error
}
