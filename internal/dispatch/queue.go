package dispatch

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Queue is an unbounded, goroutine-safe FIFO with a timed pop.
type Queue[T any] struct {
	mu     sync.Mutex
	items  *linkedlistqueue.Queue
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		items:  linkedlistqueue.New(),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v to the tail.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.Enqueue(v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes the head without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.items.Dequeue()
	if !ok {
		var zero T
		return zero, false
	}
	if !q.items.Empty() {
		// Pass the wake-up on to another waiting consumer.
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return v.(T), true
}

// Poll removes the head, waiting up to timeout for one to arrive.
func (q *Queue[T]) Poll(timeout time.Duration) (T, bool) {
	if v, ok := q.TryPop(); ok {
		return v, true
	}
	if timeout <= 0 {
		var zero T
		return zero, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.signal:
			if v, ok := q.TryPop(); ok {
				return v, true
			}
		case <-timer.C:
			return q.TryPop()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}
