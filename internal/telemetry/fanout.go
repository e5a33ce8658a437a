package telemetry

import (
	"sync"
	"sync/atomic"

	"main/internal/schema"
)

// Broadcaster fans frames out to subscribers over bounded queues. A
// slow subscriber drops frames at its own boundary; it never slows the
// producer or its peers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	depth  int

	published uint64
	dropped   uint64
}

type subscriber struct {
	ch     chan schema.Frame
	closed uint32
}

// NewBroadcaster allocates a broadcaster whose subscribers buffer up
// to depth frames.
func NewBroadcaster(depth int) *Broadcaster {
	if depth <= 0 {
		depth = 256
	}
	return &Broadcaster{subs: make(map[uint64]*subscriber), depth: depth}
}

// Subscribe registers a consumer. The cancel function detaches it and
// closes the channel.
func (b *Broadcaster) Subscribe() (<-chan schema.Frame, func()) {
	sub := &subscriber{ch: make(chan schema.Frame, b.depth)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			if atomic.CompareAndSwapUint32(&sub.closed, 0, 1) {
				close(sub.ch)
			}
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish offers the frame to every subscriber without blocking.
func (b *Broadcaster) Publish(f schema.Frame) {
	atomic.AddUint64(&b.published, 1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if atomic.LoadUint32(&sub.closed) != 0 {
			continue
		}
		select {
		case sub.ch <- f:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// Subscribers returns the live consumer count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the total frames offered.
func (b *Broadcaster) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Dropped returns frames lost to slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
