// Package queue decouples upload intake from the pipeline workers. The
// HTTP handler publishes accepted jobs and returns immediately; workers
// consume them in the background. Two backends are provided: an in-memory
// buffered channel (the default) and Redis Streams for deployments that
// want queued jobs to survive a restart.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/cliptune/cliptune-server/internal/pipeline"
)

var (
	// ErrFull is returned by Publish when the queue cannot accept more
	// jobs; the API layer maps it to 503.
	ErrFull = errors.New("queue is full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("queue is closed")
)

// Queue is the hand-off between the upload endpoint and the workers.
type Queue interface {
	// Publish enqueues a job without blocking.
	Publish(ctx context.Context, job pipeline.Job) error
	// Jobs returns the channel workers receive from. The channel is
	// closed when the queue shuts down.
	Jobs() <-chan pipeline.Job
	// Close stops the queue. Pending in-memory jobs already in the buffer
	// are still delivered to workers draining the channel.
	Close() error
}

// InMemoryQueue is a bounded channel-backed queue. Jobs enqueued here do
// not survive a process restart.
type InMemoryQueue struct {
	ch     chan pipeline.Job
	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue holding at most size pending jobs.
func NewInMemoryQueue(size int) *InMemoryQueue {
	return &InMemoryQueue{ch: make(chan pipeline.Job, size)}
}

// Publish enqueues the job, returning ErrFull when the buffer is at
// capacity rather than blocking the HTTP handler.
func (q *InMemoryQueue) Publish(ctx context.Context, job pipeline.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (q *InMemoryQueue) Jobs() <-chan pipeline.Job {
	return q.ch
}

// Close closes the job channel. Workers finish whatever is already
// buffered and then see the channel close.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}
