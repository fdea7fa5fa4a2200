package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the pending-event bound used when config leaves it unset.
const DefaultCapacity = 1000

// Bounded is a fixed-capacity FIFO for many producers and one consumer.
// Params: capacity fixed at construction.
// Returns: queue that drops the newest item instead of blocking when full.
type Bounded[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	size  int

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a bounded queue with pre-allocated ring storage.
// Params: capacity maximum pending items, must be > 0.
// Returns: queue instance or error on invalid capacity.
func New[T any](capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be > 0, got %d", capacity)
	}
	return &Bounded[T]{items: make([]T, capacity)}, nil
}

// TryEnqueue appends item to the tail unless the queue is full.
// Params: item value to store.
// Returns: true if accepted; false when full (item dropped, queue untouched).
func (q *Bounded[T]) TryEnqueue(item T) bool {
	q.mu.Lock()
	if q.size >= len(q.items) {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.mu.Unlock()

	q.accepted.Add(1)
	return true
}

// TryDequeue pops the oldest item without blocking.
// Params: none.
// Returns: item and true, or zero value and false when empty.
func (q *Bounded[T]) TryDequeue() (T, bool) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return zero, false
	}
	item := q.items[q.head]
	// release reference so the dequeued item is owned only by the caller
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Len returns the current number of pending items.
// Params: none.
// Returns: pending count (a snapshot under concurrent producers).
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.items)
}

// Accepted returns the total number of items accepted since construction.
func (q *Bounded[T]) Accepted() uint64 {
	return q.accepted.Load()
}

// Dropped returns the total number of items rejected because the queue was full.
func (q *Bounded[T]) Dropped() uint64 {
	return q.dropped.Load()
}
