// Package txqueue implements the software staging ring between the
// non-blocking frame submission path and the transmit worker.
package txqueue

import (
	"sync"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
)

// Queue is a fixed-capacity ring of frames. One slot is sacrificed so full
// and empty are distinguishable by index comparison alone: empty iff
// head == tail, full iff head+1 == tail (mod size).
//
// TryEnqueue never blocks beyond the index-update critical section, so it is
// safe to call from the submission path; DrainBatch is the only place tail
// advances and is meant for the transmit worker.
type Queue struct {
	mu   sync.Mutex
	buf  []can.Frame
	head int // producer index
	tail int // consumer index
}

// New creates a queue accepting up to depth frames.
func New(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{buf: make([]can.Frame, depth+1)}
}

// TryEnqueue appends fr unless the queue is full. It reports whether the
// frame was accepted; false means the caller must apply backpressure.
func (q *Queue) TryEnqueue(fr can.Frame) bool {
	q.mu.Lock()
	next := q.head + 1
	if next >= len(q.buf) {
		next = 0
	}
	if next == q.tail {
		q.mu.Unlock()
		return false
	}
	q.buf[q.head] = fr
	q.head = next
	q.mu.Unlock()
	return true
}

// DrainBatch removes up to max frames in FIFO order, appending them to dst
// and returning the extended slice.
func (q *Queue) DrainBatch(dst []can.Frame, max int) []can.Frame {
	q.mu.Lock()
	for max > 0 && q.tail != q.head {
		dst = append(dst, q.buf[q.tail])
		q.tail++
		if q.tail >= len(q.buf) {
			q.tail = 0
		}
		max--
	}
	q.mu.Unlock()
	return dst
}

// Len returns the number of staged frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.head - q.tail
	if n < 0 {
		n += len(q.buf)
	}
	return n
}

// Cap returns the usable depth.
func (q *Queue) Cap() int { return len(q.buf) - 1 }

// Reset discards all staged frames. Called on device restart; entries
// already pushed to hardware are gone with the chip reset anyway.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.head, q.tail = 0, 0
	q.mu.Unlock()
}
