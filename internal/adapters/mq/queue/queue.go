// Package queue carries collection requests from producers (scheduler, manual
// triggers) to the worker pool.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultBufferSize    = 1024
)

// Request is the payload flowing through the queue.
type Request = model.CollectionRequest

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a request to the queue.
	// Returns false if the queue is full or closed and the request was not enqueued.
	Enqueue(ctx context.Context, r Request) bool

	// Dequeue returns a channel that receives requests as they become available.
	// The channel is closed when the queue is closed and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan Request

	// Len returns the current number of queued requests.
	Len(ctx context.Context) int

	// Close stops accepting requests. Requests already queued are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	requests   chan Request
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool

	// slots counts accepted requests not yet handed to a consumer, including one
	// a forwarder has taken off the channel and is still holding.
	slots atomic.Int64
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
	// capacity can never exceed what the channel holds
	if q.capacity > q.bufferSize {
		q.bufferSize = q.capacity
	}
	q.requests = make(chan Request, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a request to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r Request) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}
	if !q.reserve() {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	select {
	case q.requests <- r:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(q.pending())
		return true
	default:
		q.slots.Add(-1)
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives requests as they become available.
// Each call starts its own forwarder, so several consumers can share the queue. A
// request a forwarder holds still counts against the capacity.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Request {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-q.requests:
				if !ok {
					return
				}
				select {
				case out <- r:
					q.slots.Add(-1)
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(q.pending())
				case <-ctx.Done():
					q.slots.Add(-1)
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued requests.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := q.pending()
	metrics.UpdateQueueSize(size)
	return size
}

func (q *InMemoryQueue) reserve() bool {
	for {
		n := q.slots.Load()
		if n >= int64(q.capacity) {
			return false
		}
		if q.slots.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (q *InMemoryQueue) pending() int {
	return int(q.slots.Load())
}

// Close stops accepting requests.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
