// Package queue implements a generic, fixed-capacity blocking FIFO used to
// hand work between the session worker pool and the file worker pool.
//
// The shape mirrors the original C implementation's ClientQueue/TaskQueue
// (circular buffer, single mutex, a pair of condition variables named
// not_empty/not_full, and a shutdown flag) rather than a channel-of-channel
// design, because the spec calls out "drain on shutdown" and "reject with
// ShuttingDown only once empty" semantics that are awkward to express with
// a bare Go channel's close semantics but fall out naturally from the
// original's condvar pair.
package queue

import "sync"

// Queue is a bounded, thread-safe FIFO of T. The zero value is not usable;
// construct with New.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	capacity int
	shutdown bool
}

// New creates a Queue with the given capacity. A capacity of zero or less
// is treated as 1 (a queue of zero capacity could never hold a push).
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// ErrShuttingDown is returned by Push when the queue has been shut down,
// and by Pop when the queue is both shut down and empty.
type ErrShuttingDown struct{}

func (ErrShuttingDown) Error() string { return "queue: shutting down" }

// Push appends item to the back of the queue, blocking while the queue is
// full and not shut down. It fails with ErrShuttingDown if the queue is (or
// becomes) shut down before room is available.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.shutdown {
		q.notFull.Wait()
	}
	if q.shutdown {
		return ErrShuttingDown{}
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// TryPush attempts to push item without blocking: it reports ok=false if
// the queue is currently full, so a caller on the accept path (spec.md
// §4.7: "if the queue is full... rejected by closing it immediately, no
// retry") can reject instead of waiting. Returns ErrShuttingDown if the
// queue has already been shut down.
func (q *Queue[T]) TryPush(item T) (ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return false, ErrShuttingDown{}
	}
	if len(q.items) >= q.capacity {
		return false, nil
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return true, nil
}

// Pop removes and returns the item at the front of the queue, blocking
// while the queue is empty and not shut down. If the queue is shut down
// with items still resident, those items are still delivered (drain); once
// drained, further Pop calls fail with ErrShuttingDown.
func (q *Queue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.shutdown {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, ErrShuttingDown{}
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, nil
}

// Shutdown marks the queue closed and wakes every blocked pusher and
// popper. Idempotent. Items already resident remain available to Pop until
// drained.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return
	}
	q.shutdown = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the number of items currently resident. Intended for metrics
// and diagnostics; the result is stale the instant it is returned under
// concurrent use.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue's configured capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}
