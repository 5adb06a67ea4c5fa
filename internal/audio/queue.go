package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

type node struct {
	next  atomic.Pointer[node]
	chunk Chunk
}

// Queue is an unbounded FIFO of chunks between the capture callback and the
// transcription loop. Send never blocks and is safe from any number of
// goroutines; Receive must only be called from a single consumer.
type Queue struct {
	head   atomic.Pointer[node] // most recently pushed node, swapped by producers
	tail   *node                // consumed sentinel, owned by the consumer
	length atomic.Int64
	closed atomic.Bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue() *Queue {
	stub := &node{}
	q := &Queue{
		tail:   stub,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.head.Store(stub)
	return q
}

// Send appends a chunk. It returns ErrQueueClosed once Close has been called.
func (q *Queue) Send(c Chunk) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	n := &node{chunk: c}
	q.length.Add(1)
	prev := q.head.Swap(n)
	prev.next.Store(n)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until a chunk is available, the queue is closed and drained
// (ErrQueueClosed), or ctx is done.
func (q *Queue) Receive(ctx context.Context) (Chunk, error) {
	for {
		if c, ok := q.pop(); ok {
			return c, nil
		}
		if q.closed.Load() {
			if c, ok := q.pop(); ok {
				return c, nil
			}
			return Chunk{}, ErrQueueClosed
		}
		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

func (q *Queue) pop() (Chunk, bool) {
	next := q.tail.next.Load()
	if next == nil {
		return Chunk{}, false
	}
	q.tail = next
	c := next.chunk
	next.chunk = Chunk{}
	q.length.Add(-1)
	return c, true
}

// Len reports the number of chunks waiting to be received.
func (q *Queue) Len() int {
	return int(q.length.Load())
}

// Close stops further sends. Chunks already queued are still delivered.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}
