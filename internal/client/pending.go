package client

import (
	"context"
	"sync"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

type pendingResult struct {
	msg *protocol.Message
	err error
}

// pendingTable correlates requests with their terminal responses. Keys are
// "<kind>:<id>" (join:room, connect:transport, produce:transport,
// consume:producer); one request per key may be in flight at a time.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan pendingResult)}
}

// create registers a waiter for key. The channel has capacity 1 so resolve
// and fail never block.
func (t *pendingTable) create(key string) (chan pendingResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.waiters[key]; ok {
		return nil, ErrRequestActive
	}
	ch := make(chan pendingResult, 1)
	t.waiters[key] = ch
	return ch, nil
}

// resolve completes the waiter for key with a success message. It reports
// whether a waiter existed.
func (t *pendingTable) resolve(key string, msg *protocol.Message) bool {
	return t.complete(key, pendingResult{msg: msg})
}

// fail completes the waiter for key with an error.
func (t *pendingTable) fail(key string, err error) bool {
	return t.complete(key, pendingResult{err: err})
}

func (t *pendingTable) complete(key string, res pendingResult) bool {
	t.mu.Lock()
	ch, ok := t.waiters[key]
	if ok {
		delete(t.waiters, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// failAll aborts every in-flight request, e.g. when the connection drops.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[string]chan pendingResult)
	t.mu.Unlock()
	for _, ch := range waiters {
		ch <- pendingResult{err: err}
	}
}

// forget drops the waiter for key without completing it, for requests that
// failed before they were sent.
func (t *pendingTable) forget(key string) {
	t.mu.Lock()
	delete(t.waiters, key)
	t.mu.Unlock()
}

// await blocks until the waiter completes or ctx expires.
func (t *pendingTable) await(ctx context.Context, key string, ch chan pendingResult) (*protocol.Message, error) {
	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		t.forget(key)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
