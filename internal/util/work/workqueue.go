package work

import (
	"context"
	"errors"
	"sync"
	"time"

	"biogate-server-go/internal/util"
)

var (
	ErrWorkQueueClosed = errors.New("work queue closed")
	ErrMaxRetries      = errors.New("max retries exceeded")
)

// WorkItem represents a work item with retry information
type WorkItem[T any] struct {
	Data       T
	Priority   int
	Retries    int
	MaxRetries int
	LastError  error
	CreatedAt  time.Time
}

// WorkHandler defines the function signature for handling work items
type WorkHandler[T any] func(item T) error

// WorkQueue is a priority-based work queue with retry support
type WorkQueue[T any] struct {
	queue      *util.PriorityQueue[*WorkItem[T]]
	handler    WorkHandler[T]
	mu         sync.RWMutex
	stopChan   chan struct{}
	stopped    bool
	numWorkers int
	wg         sync.WaitGroup
}

// NewWorkQueue creates a new work queue and starts its workers
func NewWorkQueue[T any](numWorkers int, handler WorkHandler[T]) *WorkQueue[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	wq := &WorkQueue[T]{
		queue:      util.NewPriorityQueue[*WorkItem[T]](),
		handler:    handler,
		stopChan:   make(chan struct{}),
		numWorkers: numWorkers,
	}

	wq.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go wq.runWorker()
	}

	return wq
}

// Submit submits a work item to the queue
func (wq *WorkQueue[T]) Submit(data T, priority int) error {
	return wq.SubmitWithRetries(data, priority, 0)
}

// SubmitWithRetries submits a work item with retry configuration
func (wq *WorkQueue[T]) SubmitWithRetries(data T, priority int, maxRetries int) error {
	wq.mu.RLock()
	if wq.stopped {
		wq.mu.RUnlock()
		return ErrWorkQueueClosed
	}
	wq.mu.RUnlock()

	item := &WorkItem[T]{
		Data:       data,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}

	return wq.queue.PushItem(item, priority)
}

// Stop stops the work queue and waits for all workers to finish
func (wq *WorkQueue[T]) Stop() {
	wq.mu.Lock()
	if wq.stopped {
		wq.mu.Unlock()
		return
	}
	wq.stopped = true
	wq.mu.Unlock()

	close(wq.stopChan)
	wq.queue.Close()
	wq.wg.Wait()
}

// IsStopped checks if the work queue is stopped
func (wq *WorkQueue[T]) IsStopped() bool {
	wq.mu.RLock()
	defer wq.mu.RUnlock()
	return wq.stopped
}

// Pending returns the number of items waiting for a worker
func (wq *WorkQueue[T]) Pending() int {
	return wq.queue.Size()
}

func (wq *WorkQueue[T]) runWorker() {
	defer wq.wg.Done()
	ctx := context.Background()

	for {
		item, err := wq.queue.PopItem(ctx, 0)
		if err != nil {
			// Queue closed, drain is over.
			return
		}
		wq.processItem(item)
	}
}

// processItem runs the handler, retrying with linear backoff up to the
// item's retry budget.
func (wq *WorkQueue[T]) processItem(item *WorkItem[T]) {
	for {
		err := wq.handler(item.Data)
		if err == nil {
			return
		}

		item.LastError = err
		item.Retries++
		if item.Retries > item.MaxRetries {
			return
		}

		backoff := time.Duration(item.Retries) * time.Second
		if backoff > time.Minute {
			backoff = time.Minute
		}

		select {
		case <-time.After(backoff):
		case <-wq.stopChan:
			return
		}
	}
}
