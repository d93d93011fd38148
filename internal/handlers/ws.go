package handlers

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// maxQueuedBytes bounds the output waiting for one slow WebSocket client.
// A client that falls further behind is disconnected.
const maxQueuedBytes = 4 << 20

type wsFrame struct {
	typ  websocket.MessageType
	data []byte
}

// frameQueue decouples session listeners, which must not block, from the
// WebSocket writer.
type frameQueue struct {
	mu       sync.Mutex
	frames   []wsFrame
	bytes    int
	overflow bool
	closed   bool
	notify   chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{notify: make(chan struct{}, 1)}
}

// push queues a frame. It reports false once the queue has overflowed or
// been closed.
func (q *frameQueue) push(typ websocket.MessageType, data []byte) bool {
	q.mu.Lock()
	if q.closed || q.overflow {
		q.mu.Unlock()
		return false
	}
	if q.bytes+len(data) > maxQueuedBytes {
		q.overflow = true
	} else {
		q.frames = append(q.frames, wsFrame{typ: typ, data: data})
		q.bytes += len(data)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// seed runs fn under the queue lock and queues its result ahead of anything
// pushed concurrently. fn may register the listener that feeds the queue.
func (q *frameQueue) seed(typ websocket.MessageType, fn func() []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if data := fn(); len(data) > 0 {
		q.frames = append([]wsFrame{{typ: typ, data: data}}, q.frames...)
		q.bytes += len(data)
	}
}

// close stops the queue; frames already queued are still drained.
func (q *frameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *frameQueue) take() (frames []wsFrame, closed, overflow bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	frames, q.frames, q.bytes = q.frames, nil, 0
	return frames, q.closed, q.overflow
}

// pump writes queued frames to conn until the queue is closed and drained,
// the queue overflows, a write fails or ctx ends.
func (q *frameQueue) pump(ctx context.Context, conn *websocket.Conn) {
	for {
		frames, closed, overflow := q.take()
		for _, f := range frames {
			if err := conn.Write(ctx, f.typ, f.data); err != nil {
				return
			}
		}
		if overflow {
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		}
		if closed {
			return
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return
		}
	}
}
