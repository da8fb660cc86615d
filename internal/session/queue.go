// Package session tracks which devices are online. It owns the
// per-device outbound frame queues, the session tokens that tell
// incarnations of a device slot apart, and the advisory key store.
package session

import "sync"

// queueBuffer is the channel stage of the outbound queue. Frames beyond
// it spill into the overflow slice, so pushes never block or drop.
const queueBuffer = 256

// Queue is the unbounded outbound frame queue of one session. The
// registry is the only producer; the connection's writer is the only
// consumer. A slow consumer grows the overflow slice instead of
// blocking the fan-out path.
type Queue struct {
	mu        sync.Mutex
	overflow  [][]byte
	out       chan []byte
	closed    bool
	outClosed bool
}

func newQueue() *Queue {
	return &Queue{out: make(chan []byte, queueBuffer)}
}

// push enqueues a frame. Returns false once the queue is closed.
func (q *Queue) push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	// Fast path only while the overflow is empty, to keep FIFO order.
	if len(q.overflow) == 0 {
		select {
		case q.out <- frame:
			return true
		default:
		}
	}
	q.overflow = append(q.overflow, frame)
	return true
}

// close marks the queue closed. Staged frames remain readable; Out is
// closed once the overflow has drained.
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if len(q.overflow) == 0 && !q.outClosed {
		close(q.out)
		q.outClosed = true
	}
}

// Out is the consumer side of the queue. It is closed after the queue
// is closed and all frames have been handed over.
func (q *Queue) Out() <-chan []byte {
	return q.out
}

// Refill moves overflowed frames onto the channel. The consumer calls
// it after taking each frame from Out.
func (q *Queue) Refill() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.overflow) > 0 {
		select {
		case q.out <- q.overflow[0]:
			q.overflow[0] = nil
			q.overflow = q.overflow[1:]
		default:
			return
		}
	}
	if q.closed && !q.outClosed {
		close(q.out)
		q.outClosed = true
	}
}

// Len reports how many frames are waiting, staged plus overflowed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.out) + len(q.overflow)
}
