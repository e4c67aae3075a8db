package util

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrPriorityQueueClosed = errors.New("priority queue closed")
	ErrPriorityQueueEmpty  = errors.New("priority queue empty")
)

// PriorityItem represents an item with priority
type PriorityItem[T any] struct {
	Value    T
	Priority int // Higher number means higher priority
	Index    int // Used by heap interface
}

// PriorityQueue implements a priority queue using heap
type PriorityQueue[T any] struct {
	items  []*PriorityItem[T]
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

// NewPriorityQueue creates a new priority queue
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		items: make([]*PriorityItem[T], 0),
	}
	pq.cond = sync.NewCond(&pq.mu)
	heap.Init(pq)
	return pq
}

// Len implements heap.Interface
func (pq *PriorityQueue[T]) Len() int { return len(pq.items) }

// Less implements heap.Interface (higher priority first)
func (pq *PriorityQueue[T]) Less(i, j int) bool {
	return pq.items[i].Priority > pq.items[j].Priority
}

// Swap implements heap.Interface
func (pq *PriorityQueue[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].Index = i
	pq.items[j].Index = j
}

// Push implements heap.Interface
func (pq *PriorityQueue[T]) Push(x interface{}) {
	n := len(pq.items)
	item := x.(*PriorityItem[T])
	item.Index = n
	pq.items = append(pq.items, item)
}

// Pop implements heap.Interface
func (pq *PriorityQueue[T]) Pop() interface{} {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.items = old[0 : n-1]
	return item
}

// PushItem adds an item to the priority queue
func (pq *PriorityQueue[T]) PushItem(value T, priority int) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.closed {
		return ErrPriorityQueueClosed
	}

	item := &PriorityItem[T]{
		Value:    value,
		Priority: priority,
	}
	heap.Push(pq, item)
	pq.cond.Signal()
	return nil
}

// PopItem removes and returns the highest priority item. With timeout < 0 it
// never blocks; with timeout == 0 it blocks until an item arrives, the queue
// closes, or ctx is cancelled; otherwise it waits at most timeout.
func (pq *PriorityQueue[T]) PopItem(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	// Wake waiters on cancellation and deadline.
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if timeout >= 0 {
		stop := context.AfterFunc(waitCtx, func() {
			pq.mu.Lock()
			pq.cond.Broadcast()
			pq.mu.Unlock()
		})
		defer stop()
	}

	pq.mu.Lock()
	defer pq.mu.Unlock()

	for {
		if pq.closed {
			return zero, ErrPriorityQueueClosed
		}
		if len(pq.items) > 0 {
			item := heap.Pop(pq).(*PriorityItem[T])
			return item.Value, nil
		}

		if timeout < 0 {
			return zero, ErrPriorityQueueEmpty
		}
		if err := waitCtx.Err(); err != nil {
			if timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return zero, ErrPriorityQueueEmpty
			}
			return zero, err
		}
		pq.cond.Wait()
	}
}

// Close closes the priority queue and wakes all waiters
func (pq *PriorityQueue[T]) Close() {
	pq.mu.Lock()
	pq.closed = true
	pq.cond.Broadcast()
	pq.mu.Unlock()
}

// IsEmpty checks if the queue is empty
func (pq *PriorityQueue[T]) IsEmpty() bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items) == 0
}

// Size returns the number of queued items
func (pq *PriorityQueue[T]) Size() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}
