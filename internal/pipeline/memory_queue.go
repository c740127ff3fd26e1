package pipeline

import (
	"context"
	"errors"
)

// MemoryQueue is the single-process queue used in development and tests.
type MemoryQueue struct {
	ch chan Job
}

// NewMemoryQueue creates a buffered in-process queue.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Job, size)}
}

// Enqueue implements Queue. A full queue rejects rather than blocks the
// webhook handler.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	select {
	case q.ch <- job:
		return nil
	default:
		return errors.New("pipeline: memory queue full")
	}
}

// Dequeue implements Queue. The ack function is a no-op; an in-process job
// that crashes is lost, which matches the durability of the process itself.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, func(), error) {
	select {
	case <-ctx.Done():
		return Job{}, nil, ctx.Err()
	case job := <-q.ch:
		return job, func() {}, nil
	}
}
