// Package memory provides the in-process work queue feeding crawl workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

// Queue is a bounded in-memory queue with context-aware operations. The
// single producer must call Close after its last Enqueue.
type Queue struct {
	ch      chan genealogy.Task
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan genealogy.Task, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task genealogy.Task) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Tasks queued
// before Close are still delivered; afterwards genealogy.ErrQueueClosed is
// returned.
func (q *Queue) Dequeue(ctx context.Context) (genealogy.Task, error) {
	select {
	case <-ctx.Done():
		return genealogy.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return genealogy.Task{}, genealogy.ErrQueueClosed
		}
		return task, nil
	}
}

// Len reports how many tasks are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
