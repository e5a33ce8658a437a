package obs

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// TraceIDGen issues process-unique trace ids for event headers: a
// random epoch in the high bits, a counter in the low bits.
type TraceIDGen struct {
	epoch uint64
	seq   uint64
}

// NewTraceIDGen seeds a generator.
func NewTraceIDGen() *TraceIDGen {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &TraceIDGen{epoch: uint64(r.Uint32()) << 32}
}

// Next returns the next trace id.
func (g *TraceIDGen) Next() uint64 {
	return g.epoch | (atomic.AddUint64(&g.seq, 1) & 0xFFFFFFFF)
}
