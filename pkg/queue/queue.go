// Package queue holds the FIFO of execution ids waiting for a scheduler slot.
package queue

import (
	"context"
	"slices"
	"sync"
)

// Queue is the pending-execution queue consumed by the scheduler tick. Implementations
// must be safe for concurrent use and preserve insertion order.
type Queue interface {
	Push(ctx context.Context, executionID string) error
	// PopN removes and returns up to n ids from the head of the queue.
	PopN(ctx context.Context, n int) ([]string, error)
	// Remove drops every occurrence of the id. Removing an absent id is not an error.
	Remove(ctx context.Context, executionID string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is a mutex-guarded slice queue.
type MemoryQueue struct {
	mu    sync.Mutex
	items []string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, executionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, executionID)

	return nil
}

func (q *MemoryQueue) PopN(_ context.Context, n int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil, nil
	}

	n = min(n, len(q.items))
	out := slices.Clone(q.items[:n])
	q.items = slices.Delete(q.items, 0, n)

	return out, nil
}

func (q *MemoryQueue) Remove(_ context.Context, executionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = slices.DeleteFunc(q.items, func(id string) bool { return id == executionID })

	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items), nil
}

func (q *MemoryQueue) Close() error { return nil }
