package historian

import (
	"sync"
	"sync/atomic"

	"main/internal/schema"
	"main/pkg/exception"
)

// Ring is the hot in-memory frame log. The writer never blocks on
// readers: a slow reader finds its cursor overwritten and must resync
// instead of stalling the loop.
type Ring struct {
	mu    sync.RWMutex
	slots []schema.Frame

	// cursor counts total appends; slot index is cursor % capacity and
	// generation is cursor / capacity.
	cursor uint64

	overwrites uint64
}

// NewRing allocates a ring holding the given number of frames.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{slots: make([]schema.Frame, capacity)}
}

// Append stores a frame, overwriting the oldest slot once full.
func (r *Ring) Append(f schema.Frame) {
	r.mu.Lock()
	r.slots[r.cursor%uint64(len(r.slots))] = f
	atomic.AddUint64(&r.cursor, 1)
	r.mu.Unlock()
}

// Cursor returns the total number of frames ever appended. A consumer
// starts reading from this value to skip history.
func (r *Ring) Cursor() uint64 {
	return atomic.LoadUint64(&r.cursor)
}

// Generation returns how many times the ring has wrapped.
func (r *Ring) Generation() uint64 {
	return atomic.LoadUint64(&r.cursor) / uint64(len(r.slots))
}

// Overwrites returns how many reads found their cursor overtaken.
func (r *Ring) Overwrites() uint64 {
	return atomic.LoadUint64(&r.overwrites)
}

// ReadFrom copies frames starting at the consumer cursor, up to max.
// It returns the frames, the next cursor, and ErrLogOverwritten when
// the writer has lapped the consumer; the caller then resumes from the
// returned cursor (the oldest retained frame).
func (r *Ring) ReadFrom(cursor uint64, max int) ([]schema.Frame, uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	head := r.cursor
	capacity := uint64(len(r.slots))
	oldest := uint64(0)
	if head > capacity {
		oldest = head - capacity
	}

	if cursor < oldest {
		atomic.AddUint64(&r.overwrites, 1)
		return nil, oldest, exception.ErrLogOverwritten
	}
	if cursor >= head {
		return nil, cursor, nil
	}

	n := head - cursor
	if max > 0 && n > uint64(max) {
		n = uint64(max)
	}
	out := make([]schema.Frame, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, r.slots[(cursor+i)%capacity])
	}
	return out, cursor + n, nil
}

// Window returns retained frames with gsid in [from, to], in gsid
// order. Frames already overwritten are silently absent.
func (r *Ring) Window(from, to uint64) []schema.Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	head := r.cursor
	capacity := uint64(len(r.slots))
	oldest := uint64(0)
	if head > capacity {
		oldest = head - capacity
	}

	out := make([]schema.Frame, 0, 64)
	for c := oldest; c < head; c++ {
		f := r.slots[c%capacity]
		if f.GSID >= from && f.GSID <= to {
			out = append(out, f)
		}
	}
	return out
}
