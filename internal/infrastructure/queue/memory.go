package queue

import (
	"context"
	"sync"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// MemoryQueue is a synchronous in-process queue for tests and the CLI:
// Enqueue dispatches to the registered handler immediately on the caller's
// goroutine, so there is nothing to start or drain.
type MemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool

	// Processed records every task in dispatch order, for assertions.
	Processed []*Task
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task name.
func (q *MemoryQueue) Register(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Enqueue dispatches the task synchronously.
func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	handler, ok := q.handlers[task.Name]
	if !ok {
		q.mu.Unlock()
		return ErrUnknownTask
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.Attempt == 0 {
		task.Attempt = 1
	}
	q.Processed = append(q.Processed, task)
	q.mu.Unlock()

	return handler(shared.WithTenant(ctx, shared.TenantID(task.Tenant)), task)
}

// Start is a no-op for the synchronous queue.
func (q *MemoryQueue) Start(ctx context.Context) error { return nil }

// Stop marks the queue closed.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
