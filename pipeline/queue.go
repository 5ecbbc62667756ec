package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is the engine's bounded frame intake. When capacity is exceeded the
// oldest not-yet-started frame is dropped so the producer is never blocked
// indefinitely; drops are counted, not raised.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []string // frame ids, arrival order
	ready    chan struct{}
	dropped  atomic.Int64
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues a frame id. When the queue is full it evicts and returns the
// oldest queued id so the caller can finalize that frame.
func (q *Queue) Push(frameID string) (string, bool) {
	q.mu.Lock()

	var droppedID string
	var didDrop bool
	if len(q.items) >= q.capacity {
		droppedID = q.items[0]
		q.items = q.items[1:]
		q.dropped.Add(1)
		didDrop = true
	}
	q.items = append(q.items, frameID)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return droppedID, didDrop
}

// Pop blocks for the next frame id in arrival order.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			// Keep the signal live for other waiters.
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports how many queued frames were evicted by overflow.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
