// Package queue defines the contract for enqueuing and consuming
// candidate detections on their way to the matching workers.
package queue

import (
	"context"
	"sync"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 100000
	defaultBufferSize    = 100000
)

// Detection is the payload type flowing through the queue.
type Detection = model.Candidate

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a detection to the queue.
	// Returns false if the queue is full and the detection was dropped.
	Enqueue(ctx context.Context, d Detection) bool

	// Dequeue returns a channel that receives detections as they become
	// available. The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Detection

	// Len returns the current number of queued detections.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	detections chan Detection
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.detections = make(chan Detection, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a detection to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, d Detection) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if len(q.detections) >= q.capacity {
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	select {
	case q.detections <- d:
		q.observe()
		return true
	case <-ctx.Done():
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives detections as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Detection {
	out := make(chan Detection)
	go func() {
		defer close(out)
		for d := range q.detections {
			select {
			case out <- d:
				q.observe()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// observe refreshes the queue gauges.
func (q *InMemoryQueue) observe() {
	size := len(q.detections)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Len returns the current number of queued detections.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	return len(q.detections)
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.detections)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
