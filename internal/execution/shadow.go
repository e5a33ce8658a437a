package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// ShadowVenue fills orders locally against the last observed price.
// It is the venue for sim and shadow modes: same adapter, same book,
// no network.
type ShadowVenue struct {
	mu   sync.RWMutex
	mark float64

	placed uint64

	// RejectNext forces the next n placements to fail, for drills.
	rejectNext uint32
}

// NewShadowVenue starts with no mark price; orders placed before the
// first mark fill at their own limit.
func NewShadowVenue() *ShadowVenue {
	return &ShadowVenue{}
}

// SetMark updates the local fill price.
func (v *ShadowVenue) SetMark(price float64) {
	v.mu.Lock()
	v.mark = price
	v.mu.Unlock()
}

// RejectNext makes the following n placements fail.
func (v *ShadowVenue) RejectNext(n uint32) {
	atomic.StoreUint32(&v.rejectNext, n)
}

// Place fills immediately: makers at their limit, market orders at the
// mark.
func (v *ShadowVenue) Place(_ context.Context, o schema.Order) (schema.OrderStatus, float64, error) {
	for {
		n := atomic.LoadUint32(&v.rejectNext)
		if n == 0 {
			break
		}
		if atomic.CompareAndSwapUint32(&v.rejectNext, n, n-1) {
			return schema.OrderStatusRejected, 0, errShadowReject
		}
	}
	atomic.AddUint64(&v.placed, 1)

	v.mu.RLock()
	mark := v.mark
	v.mu.RUnlock()

	price := o.LimitPrice
	if o.Kind == schema.OrderKindMarketIOC || price <= 0 {
		price = mark
	}
	if price <= 0 {
		price = o.LimitPrice
	}
	return schema.OrderStatusFilled, price, nil
}

// Cancel always succeeds locally.
func (v *ShadowVenue) Cancel(context.Context, uint64) error {
	return nil
}

// Placed returns the number of accepted orders.
func (v *ShadowVenue) Placed() uint64 {
	return atomic.LoadUint64(&v.placed)
}

var errShadowReject = errors.New("forced shadow rejection")
