package governor

import (
	"sync/atomic"

	"main/internal/schema"
	"main/pkg/exception"
)

// Ratchet is the monotone operational severity latch. Levels only
// rise on their own; only an authenticated sovereign unfreeze can step
// Freeze back down, and Kill never comes back.
type Ratchet struct {
	level uint32
}

// NewRatchet starts at Idle.
func NewRatchet() *Ratchet {
	return &Ratchet{}
}

// Level returns the current severity.
func (r *Ratchet) Level() schema.RatchetLevel {
	return schema.RatchetLevel(atomic.LoadUint32(&r.level))
}

// Raise escalates to the given level. Lower or equal requests are
// no-ops; the first transition to each level is reported to the
// caller.
func (r *Ratchet) Raise(to schema.RatchetLevel) bool {
	for {
		cur := atomic.LoadUint32(&r.level)
		if uint32(to) <= cur {
			return false
		}
		if atomic.CompareAndSwapUint32(&r.level, cur, uint32(to)) {
			return true
		}
	}
}

// Unfreeze lowers Freeze back to Idle. Only the sovereign path calls
// this; Kill is absorbing and any attempt to leave it fails.
func (r *Ratchet) Unfreeze() error {
	for {
		cur := schema.RatchetLevel(atomic.LoadUint32(&r.level))
		switch cur {
		case schema.RatchetKill:
			return exception.ErrKillTerminal
		case schema.RatchetIdle:
			return nil
		}
		if atomic.CompareAndSwapUint32(&r.level, uint32(cur), uint32(schema.RatchetIdle)) {
			return nil
		}
	}
}

// Killed reports whether the terminal state has been reached.
func (r *Ratchet) Killed() bool {
	return r.Level() == schema.RatchetKill
}
