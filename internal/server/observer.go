package server

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// observer is one connected streaming client. Outbound frames collect in a
// pending list that a single writer goroutine drains, so producers never
// wait on the network. A stalled client is bounded by writeTimeout.
type observer struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	pending [][]byte
	ready   chan struct{} // signalled when pending goes non-empty
}

func newObserver(id string, conn *websocket.Conn) *observer {
	ctx, cancel := context.WithCancel(context.Background())
	return &observer{
		id:     id,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}, 1),
	}
}

// enqueue appends frame to the pending list without blocking.
func (o *observer) enqueue(frame []byte) {
	o.mu.Lock()
	o.pending = append(o.pending, frame)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// take removes and returns every pending frame, oldest first.
func (o *observer) take() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.pending
	o.pending = nil
	return frames
}

// closeWith performs a close handshake with the given status, then releases
// the observer's goroutines.
func (o *observer) closeWith(code websocket.StatusCode, reason string) {
	o.once.Do(func() {
		_ = o.conn.Close(code, reason)
		o.cancel()
	})
}

// abort tears the connection down without a handshake.
func (o *observer) abort() {
	o.once.Do(func() {
		o.cancel()
		_ = o.conn.CloseNow()
	})
}
