// Package queue provides an unbounded FIFO with a blocking, cancellable Take.
//
// Producers never block, which lets the dispatch loop and handlers hand work to a
// single consumer goroutine regardless of how slow that consumer is.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Take once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Put appends v. It reports false when the queue is closed and v was dropped.
func (q *Queue[T]) Put(v T) bool {
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

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Take removes and returns the oldest item, blocking until one is available.
// After Close the remaining items are still handed out; then ErrClosed is returned.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryTake returns the oldest item without blocking.
func (q *Queue[T]) TryTake() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Close stops accepting items. Consumers drain what is left.
func (q *Queue[T]) Close() {
	q.close(false)
}

// Abort stops accepting items and drops everything still queued.
// It returns the number of dropped items.
func (q *Queue[T]) Abort() int {
	return q.close(true)
}

func (q *Queue[T]) close(drop bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	if drop {
		dropped = len(q.items)
		q.items = nil
	}
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return dropped
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close or Abort was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
