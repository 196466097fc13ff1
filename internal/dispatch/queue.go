// Package dispatch provides a strict FIFO queue for inbound-message
// handlers. Signaling messages reference state created by earlier messages,
// so handlers must run one at a time in arrival order even though their
// bodies may block on engine calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrQueueClosed = errors.New("dispatch queue closed")

// Handler is one unit of inbound-message work.
type Handler func(ctx context.Context) error

// Queue executes handlers sequentially on a single worker goroutine. A
// handler that fails or panics is reported through the error callback and
// does not block the handlers behind it.
type Queue struct {
	jobs    chan Handler
	quit    chan struct{}
	done    chan struct{}
	onError func(error)
	once    sync.Once
}

// New starts a queue with the given buffer size. onError may be nil.
func New(size int, onError func(error)) *Queue {
	if size < 1 {
		size = 64
	}
	q := &Queue{
		jobs:    make(chan Handler, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case h := <-q.jobs:
			q.exec(h)
		}
	}
}

func (q *Queue) exec(h Handler) {
	defer func() {
		if r := recover(); r != nil {
			q.report(fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := h(context.Background()); err != nil {
		q.report(err)
	}
}

func (q *Queue) report(err error) {
	if q.onError != nil {
		q.onError(err)
	}
}

// Enqueue appends a handler. It blocks while the buffer is full and fails
// once the queue is closed.
func (q *Queue) Enqueue(h Handler) error {
	select {
	case <-q.quit:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- h:
		return nil
	case <-q.quit:
		return ErrQueueClosed
	}
}

// Close stops the worker after the in-flight handler finishes. Handlers
// still buffered are discarded.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.quit) })
	<-q.done
}
