package signaling

import (
	"sync"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

// Pipe returns two connected in-memory endpoints. What one side sends the
// other receives, in order. Closing either side closes both.
func Pipe() (Conn, Conn) {
	shared := &pipeShared{done: make(chan struct{})}
	ab := make(chan *protocol.Message, 64)
	ba := make(chan *protocol.Message, 64)

	a := &pipeEnd{shared: shared, in: ba, out: ab}
	b := &pipeEnd{shared: shared, in: ab, out: ba}
	return a, b
}

type pipeShared struct {
	done chan struct{}
	once sync.Once
}

type pipeEnd struct {
	shared *pipeShared
	in     <-chan *protocol.Message
	out    chan<- *protocol.Message
}

func (p *pipeEnd) Send(msg *protocol.Message) error {
	select {
	case <-p.shared.done:
		return ErrConnClosed
	case p.out <- msg:
		return nil
	}
}

func (p *pipeEnd) Receive() (*protocol.Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.shared.done:
		// Drain anything that raced with the close so teardown-ordered
		// messages are not lost.
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, ErrConnClosed
		}
	}
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}
