// Package queue provides the bounded work-queue fabric the pipelines hand
// items through. A Queue tracks its active producers explicitly so consumers
// can distinguish "momentarily empty" from "drained for good", and it tracks
// unacknowledged items so a Join can wait for full completion.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrDone is returned by Get once the queue is empty and every registered
// producer has finished. Each consumer observes it exactly once per drain.
var ErrDone = errors.New("queue done")

// ErrNoProducers is returned by Finish when no producer is registered.
var ErrNoProducers = errors.New("queue has no active producers")

// Option configures a Queue.
type Option func(*options)

type options struct {
	countItems bool
}

// WithCountItems controls whether Put increments the enqueue counter.
// Disable for pass-through queues (e.g. split-by-region fan-out) whose items
// would otherwise be counted twice.
func WithCountItems(count bool) Option {
	return func(o *options) {
		o.countItems = count
	}
}

// Queue is a bounded FIFO with producer tracking and join semantics.
// Ordering is FIFO per producer; ordering across producers is undefined.
type Queue[T any] struct {
	ch        chan T
	producers atomic.Int64
	done      chan struct{}
	doneOnce  sync.Once
	count     atomic.Uint64
	countable bool

	mu      sync.Mutex
	unacked int
	idle    chan struct{}
}

// New creates a queue with the given capacity. Capacity below 1 is clamped
// to 1.
func New[T any](capacity int, opts ...Option) *Queue[T] {
	o := options{countItems: true}
	for _, opt := range opts {
		opt(&o)
	}

	if capacity < 1 {
		capacity = 1
	}

	q := &Queue[T]{
		ch:        make(chan T, capacity),
		done:      make(chan struct{}),
		countable: o.countItems,
		idle:      make(chan struct{}),
	}
	close(q.idle)

	return q
}

// AddProducer registers one producer. Every AddProducer must be paired with
// exactly one Finish.
func (q *Queue[T]) AddProducer() {
	q.producers.Add(1)
}

// Finish releases one producer registration. When the last producer
// finishes, waiting consumers start observing ErrDone once the queue drains.
func (q *Queue[T]) Finish() error {
	left := q.producers.Add(-1)
	if left < 0 {
		q.producers.Add(1)

		return ErrNoProducers
	}

	if left == 0 {
		q.doneOnce.Do(func() {
			close(q.done)
		})
	}

	return nil
}

// Put enqueues an item, blocking under back-pressure until there is room or
// the context is cancelled.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	// Register the item before it becomes visible to consumers, so a fast
	// Get+TaskDone cannot observe a zero unacked count mid-Put.
	q.mu.Lock()
	if q.unacked == 0 {
		q.idle = make(chan struct{})
	}

	q.unacked++
	q.mu.Unlock()

	select {
	case q.ch <- item:
	case <-ctx.Done():
		q.TaskDone()

		return ctx.Err()
	}

	if q.countable {
		q.count.Add(1)
	}

	return nil
}

// Get dequeues the next item. It blocks until an item arrives, the context
// is cancelled, or the queue is drained with zero producers left, in which
// case it returns ErrDone.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T

	// Fast path: item already buffered.
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}

	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.done:
		// Producers finished; take whatever is still buffered.
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, ErrDone
		}
	}
}

// TaskDone acknowledges one previously dequeued item. Every Get'd item must
// be acknowledged exactly once, including on cancellation paths.
func (q *Queue[T]) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unacked == 0 {
		return
	}

	q.unacked--
	if q.unacked == 0 {
		close(q.idle)
	}
}

// Join blocks until every enqueued item has been acknowledged via TaskDone.
func (q *Queue[T]) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unacked == 0 {
			q.mu.Unlock()

			return nil
		}

		wait := q.idle
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Count returns the number of items ever enqueued (zero when counting is
// disabled).
func (q *Queue[T]) Count() uint64 {
	return q.count.Load()
}

// Len returns the number of currently buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Producers returns the number of currently registered producers.
func (q *Queue[T]) Producers() int64 {
	return q.producers.Load()
}
