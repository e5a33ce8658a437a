package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event is the unit passed through the in-memory bus.
type Event struct {
	Header  schema.EventHeader
	Payload []byte
}

// Policy selects what happens on publish when the queue is full.
type Policy uint8

const (
	// DropNewest rejects the incoming event. Used where the newest
	// value is derivable again next cycle (telemetry).
	DropNewest Policy = iota
	// DropOldest evicts the stalest event to make room. Used on the
	// tick path where the latest price always wins.
	DropOldest
)

// Queue is a bounded, non-blocking event queue.
type Queue struct {
	ch      chan Event
	policy  Policy
	closed  uint32
	drops   uint64
	evicted uint64
}

// NewQueue allocates a queue with the given capacity and full policy.
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity), policy: policy}
}

// TryPublish enqueues an event without blocking. Under DropOldest a
// full queue evicts one stale event and retries once.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
	}
	if q.policy == DropOldest {
		select {
		case <-q.ch:
			atomic.AddUint64(&q.evicted, 1)
		default:
		}
		select {
		case q.ch <- e:
			return nil
		default:
		}
	}
	atomic.AddUint64(&q.drops, 1)
	return ErrQueueFull
}

// Drops returns the count of rejected publishes.
func (q *Queue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// Evicted returns the count of stale events displaced by newer ones.
func (q *Queue) Evicted() uint64 {
	return atomic.LoadUint64(&q.evicted)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new events.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
