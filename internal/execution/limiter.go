package execution

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter is the order-rate token bucket. Normal orders draw from the
// bucket; nuclear exits bypass it entirely so a flatten can never be
// throttled behind routine flow.
type Limiter struct {
	bucket    *rate.Limiter
	exhausted uint64
	bypassed  uint64
}

// NewLimiter builds a bucket with the given capacity and refill rate
// per second.
func NewLimiter(capacity int, refillPerSec float64) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(refillPerSec), capacity)}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	if l.bucket.Allow() {
		return true
	}
	atomic.AddUint64(&l.exhausted, 1)
	return false
}

// AllowNuclear always permits and counts the bypass.
func (l *Limiter) AllowNuclear() bool {
	atomic.AddUint64(&l.bypassed, 1)
	return true
}

// Exhausted returns the number of throttled orders.
func (l *Limiter) Exhausted() uint64 {
	return atomic.LoadUint64(&l.exhausted)
}

// Bypassed returns the number of nuclear bypasses.
func (l *Limiter) Bypassed() uint64 {
	return atomic.LoadUint64(&l.bypassed)
}
