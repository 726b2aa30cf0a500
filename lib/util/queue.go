// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// It is used as the send queue of output connection units: the Port Core pushes
// packets from any goroutine while broadcasting, and the unit's own goroutine
// pops and transmits them in order.
//
// Features and Guarantees:
//
//   - Lock-Free Push: atomic operations, producers never block each other or the consumer
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: exactly one goroutine may call Pop / TryPop
//   - Per-Producer FIFO: items pushed by one goroutine are popped in push order
//   - Close Semantics: after Close, Push is rejected, Pop drains what is left and then reports false
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// Queue is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes behind a sentinel, producers
// append with compare-and-swap on the tail.
type Queue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	closed atomic.Bool

	// Condition variable for an idle consumer
	mu   sync.Mutex
	cond *sync.Cond
}

// NewQueue creates a new empty queue
func NewQueue[T any]() *Queue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the item is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already helped, tail is updated either way
				q.tail.CompareAndSwap(tailNode, newNode)
				q.signal()
				return true
			}
		} else {
			// help update the tail pointer if another producer appended but hasn't moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin a little at low contention, yield afterwards
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer. Taking the lock orders the wake-up after the
// consumer's emptiness check so it cannot be lost.
func (q *Queue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// TryPop removes and returns the oldest item without blocking.
//
// Thread-safety: must only be called from the single consumer goroutine.
func (q *Queue[T]) TryPop() (*T, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}

	value := next.value
	// next becomes the new sentinel
	q.head.Store(next)
	next.value = nil
	return value, true
}

// Pop blocks until an item is available or the queue is closed and empty.
// The boolean is false only in the latter case.
//
// Thread-safety: must only be called from the single consumer goroutine.
func (q *Queue[T]) Pop() (*T, bool) {
	for {
		if value, ok := q.TryPop(); ok {
			return value, true
		}

		q.mu.Lock()
		empty := q.head.Load().next.Load() == nil
		if empty && q.closed.Load() {
			q.mu.Unlock()
			return nil, false
		}
		if empty {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Close closes the queue, preventing further pushes, and wakes a waiting consumer.
// Items already in the queue can still be popped.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the number of items in the queue.
// This is O(n) and should only be used for debugging.
func (q *Queue[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
