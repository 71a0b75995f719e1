package session

import (
	"context"
	"sync"
)

// queue is an unbounded ordered FIFO with single-consumer semantics.
// It exists instead of a channel because barge-in must atomically
// discard everything queued-but-undelivered and enqueue the stop_audio
// control in the same critical section; a channel cannot be drained
// atomically with respect to its consumer.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends v. Returns false when the queue is closed.
func (q *queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop blocks until an item is available, the queue is closed and empty,
// or ctx is cancelled. Remaining items are still delivered after Close.
func (q *queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, false
		}
		select {
		case <-ctx.Done():
			return zero, false
		case <-q.signal:
		}
	}
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainAndPush discards all queued items and enqueues v atomically,
// returning how many items were discarded. This is the barge-in drain:
// the enqueued control event is guaranteed to be the next thing the
// consumer sees.
func (q *queue[T]) DrainAndPush(v T) int {
	q.mu.Lock()
	n := len(q.items)
	q.items = q.items[:0]
	if !q.closed {
		q.items = append(q.items, v)
	}
	q.mu.Unlock()
	q.wake()
	return n
}

// Close stops accepting pushes and wakes the consumer. Idempotent.
func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
