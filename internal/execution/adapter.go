package execution

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/exception"
)

// rejectStreakLimit is how many consecutive venue rejections trip the
// tighten escalation.
const rejectStreakLimit = 3

// Venue routes orders to a market. Live mode talks to the exchange;
// shadow and sim modes fill locally.
type Venue interface {
	// Place submits the order and reports its resulting status and
	// fill price when filled.
	Place(ctx context.Context, o schema.Order) (schema.OrderStatus, float64, error)
	// Cancel withdraws a live order.
	Cancel(ctx context.Context, id uint64) error
}

// Config carries the adapter tunables.
type Config struct {
	Symbol        string
	TickSize      float64
	FatFingerPct  float64
	MaxLeverage   float64
	RejectedLimit int
}

// Adapter shapes governor decisions into venue orders and owns the
// fill path back into the ledger.
type Adapter struct {
	cfg     Config
	venue   Venue
	book    *Book
	ledger  *Ledger
	limiter *Limiter

	// onFill reports executed fills upstream (drift audit).
	onFill func(predicted, filled float64, buy bool)
	// onTighten asks the governor to raise the ratchet.
	onTighten func(why string)

	rejectStreak uint32
	fatFingers   uint64
	leverageHits uint64
	throttled    uint64
}

// NewAdapter wires the adapter. onFill and onTighten may be nil.
func NewAdapter(cfg Config, venue Venue, book *Book, ledger *Ledger, limiter *Limiter,
	onFill func(predicted, filled float64, buy bool), onTighten func(why string)) *Adapter {
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.01
	}
	if cfg.RejectedLimit <= 0 {
		cfg.RejectedLimit = rejectStreakLimit
	}
	return &Adapter{
		cfg:       cfg,
		venue:     venue,
		book:      book,
		ledger:    ledger,
		limiter:   limiter,
		onFill:    onFill,
		onTighten: onTighten,
	}
}

// Execute acts on one decision. Hold is a no-op; Halt flattens
// everything with nuclear priority; Buy and Sell become maker orders
// unless legislation demands otherwise.
func (a *Adapter) Execute(ctx context.Context, d schema.Decision, leg schema.LegislativeState) error {
	switch d.Action {
	case schema.ActionHold:
		return nil
	case schema.ActionHalt:
		return a.Flatten(ctx, d.Physics.Price, d.TimestampUs)
	}

	side := schema.SideBuy
	if d.Action == schema.ActionSell {
		side = schema.SideSell
	}

	price := d.Physics.Price
	if price <= 0 || d.Size <= 0 {
		return nil
	}

	// Fat finger cap: a single order can never be a meaningful slice
	// of the book.
	if a.cfg.FatFingerPct > 0 {
		if nav := a.ledger.Account().NAV; nav > 0 && d.Size*price > nav*a.cfg.FatFingerPct {
			atomic.AddUint64(&a.fatFingers, 1)
			return exception.ErrFatFinger
		}
	}

	// Leverage cap applies to the projected gross exposure, so a
	// closing order can always pass.
	if a.cfg.MaxLeverage > 0 {
		if nav := a.ledger.Account().NAV; nav > 0 {
			pos := a.ledger.Position(a.cfg.Symbol)
			projected := pos.NetSize
			if side == schema.SideBuy {
				projected += d.Size
			} else {
				projected -= d.Size
			}
			if abs(projected)*price > nav*a.cfg.MaxLeverage && abs(projected) > abs(pos.NetSize) {
				atomic.AddUint64(&a.leverageHits, 1)
				return exception.ErrLeverageCap
			}
		}
	}

	if !a.limiter.Allow() {
		atomic.AddUint64(&a.throttled, 1)
		return exception.ErrRateExhausted
	}

	kind := schema.OrderKindMaker
	limit := a.makerPrice(side, price)
	if !leg.MakerOnly && a.closesPosition(side, d.Size) {
		kind = schema.OrderKindMarketIOC
		limit = 0
	}

	o := a.book.Open(a.cfg.Symbol, side, d.Size, limit, kind, d.TimestampUs)
	return a.place(ctx, o, price, d.TimestampUs)
}

// Flatten closes every open position with market-IOC orders, bypassing
// the rate bucket.
func (a *Adapter) Flatten(ctx context.Context, markPrice float64, nowUs int64) error {
	var firstErr error
	for _, pos := range a.ledger.Positions() {
		side := schema.SideSell
		if pos.NetSize < 0 {
			side = schema.SideBuy
		}
		// Callers without a market view pass zero; settle against the
		// ledger's view of the position instead.
		mark := markPrice
		if mark <= 0 {
			mark = pos.CurrentPrice
		}
		if mark <= 0 {
			mark = pos.AvgEntryPrice
		}
		a.limiter.AllowNuclear()
		o := a.book.Open(pos.Symbol, side, abs(pos.NetSize), 0, schema.OrderKindMarketIOC, nowUs)
		if err := a.place(ctx, o, mark, nowUs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SnapToBreakeven exits a winning position at entry with a market-IOC
// once price touches break-even from the profitable side.
func (a *Adapter) SnapToBreakeven(ctx context.Context, markPrice float64, nowUs int64) error {
	pos := a.ledger.Position(a.cfg.Symbol)
	if pos.NetSize == 0 {
		return nil
	}
	retreating := (pos.NetSize > 0 && markPrice <= pos.AvgEntryPrice) ||
		(pos.NetSize < 0 && markPrice >= pos.AvgEntryPrice)
	if !retreating {
		return nil
	}
	side := schema.SideSell
	if pos.NetSize < 0 {
		side = schema.SideBuy
	}
	if !a.limiter.Allow() {
		atomic.AddUint64(&a.throttled, 1)
		return exception.ErrRateExhausted
	}
	o := a.book.Open(pos.Symbol, side, abs(pos.NetSize), 0, schema.OrderKindMarketIOC, nowUs)
	return a.place(ctx, o, markPrice, nowUs)
}

// Chase moves resting maker orders one tick toward the market so a
// drifting book does not strand them. Orders resting on the venue are
// cancel-replaced; orders the venue never saw are repriced locally.
func (a *Adapter) Chase(ctx context.Context, markPrice float64, nowUs int64) {
	for _, o := range a.book.Live() {
		if o.Kind != schema.OrderKindMaker {
			continue
		}
		want := a.makerPrice(o.Side, markPrice)
		if want == o.LimitPrice {
			continue
		}
		step := a.cfg.TickSize
		if want < o.LimitPrice {
			step = -step
		}
		next := o.LimitPrice + step

		switch err := a.venue.Cancel(ctx, o.OrderID); err {
		case nil:
			a.book.Transition(o.OrderID, schema.OrderStatusCancelled)
			replacement := a.book.Open(o.Symbol, o.Side, o.Quantity, next, schema.OrderKindMaker, nowUs)
			if perr := a.place(ctx, replacement, markPrice, nowUs); perr != nil {
				logs.Warn(fmt.Sprintf("chase replace for order %d: %v", o.OrderID, perr))
			}
		case exception.ErrOrderUnknown:
			// Never reached the venue; the book copy is authoritative.
			a.book.Reprice(o.OrderID, next)
		default:
			// Venue unreachable; leave the order and retry next cycle.
		}
	}
}

// OrderStatusSource reports the venue-side state of a resting order.
// Venues that fill synchronously do not implement it.
type OrderStatusSource interface {
	FetchOrder(ctx context.Context, id uint64) (schema.OrderStatus, float64, error)
}

// SyncOpenOrders polls the venue for resting orders and folds fills
// into the ledger, so a maker filled between cycles does not drift the
// account until reconciliation freezes the kernel. No-op when the
// venue cannot report order status.
func (a *Adapter) SyncOpenOrders(ctx context.Context, nowUs int64) {
	src, ok := a.venue.(OrderStatusSource)
	if !ok {
		return
	}
	for _, o := range a.book.Live() {
		if o.Status != schema.OrderStatusOpen {
			continue
		}
		status, price, err := src.FetchOrder(ctx, o.OrderID)
		if err != nil {
			continue
		}
		switch status {
		case schema.OrderStatusFilled:
			a.book.Transition(o.OrderID, status)
			if price <= 0 {
				price = o.LimitPrice
			}
			a.ledger.ApplyFill(o.Symbol, o.Side, o.Quantity, price, nowUs)
			if a.onFill != nil && o.LimitPrice > 0 {
				a.onFill(o.LimitPrice, price, o.Side == schema.SideBuy)
			}
		case schema.OrderStatusCancelled:
			a.book.Transition(o.OrderID, status)
		}
	}
}

// CancelOrder withdraws one live order.
func (a *Adapter) CancelOrder(ctx context.Context, id uint64) error {
	if _, ok := a.book.Order(id); !ok {
		return exception.ErrOrderUnknown
	}
	if err := a.venue.Cancel(ctx, id); err != nil {
		return err
	}
	_, err := a.book.Transition(id, schema.OrderStatusCancelled)
	return err
}

// Book exposes the order view.
func (a *Adapter) Book() *Book { return a.book }

// Ledger exposes account truth.
func (a *Adapter) Ledger() *Ledger { return a.ledger }

// FatFingers returns the count of orders rejected by the notional cap.
func (a *Adapter) FatFingers() uint64 { return atomic.LoadUint64(&a.fatFingers) }

// LeverageHits returns the count of orders rejected by the leverage cap.
func (a *Adapter) LeverageHits() uint64 { return atomic.LoadUint64(&a.leverageHits) }

// Throttled returns the count of rate-limited orders.
func (a *Adapter) Throttled() uint64 { return atomic.LoadUint64(&a.throttled) }

func (a *Adapter) place(ctx context.Context, o schema.Order, predicted float64, nowUs int64) error {
	status, fillPrice, err := a.venue.Place(ctx, o)
	if err != nil {
		a.book.Transition(o.OrderID, schema.OrderStatusRejected)
		streak := atomic.AddUint32(&a.rejectStreak, 1)
		if int(streak) >= a.cfg.RejectedLimit && a.onTighten != nil {
			a.onTighten(fmt.Sprintf("%d consecutive venue rejections", streak))
		}
		logs.Warn(fmt.Sprintf("venue rejected order %d: %v", o.OrderID, err))
		return exception.ErrVenueRejected
	}
	atomic.StoreUint32(&a.rejectStreak, 0)

	a.book.Transition(o.OrderID, status)
	if status == schema.OrderStatusFilled {
		// Venues that ack fills without a price settle at the mark
		// until the private fill feed corrects the ledger.
		if fillPrice <= 0 {
			fillPrice = predicted
		}
		if fillPrice <= 0 {
			// A zero-price settlement would book phantom PnL. Leave
			// the ledger alone and let reconciliation surface it.
			logs.Error(fmt.Sprintf("no usable fill price for order %d, ledger not settled", o.OrderID))
			return nil
		}
		a.ledger.ApplyFill(o.Symbol, o.Side, o.Quantity, fillPrice, nowUs)
		if a.onFill != nil && predicted > 0 {
			a.onFill(predicted, fillPrice, o.Side == schema.SideBuy)
		}
	}
	return nil
}

// makerPrice rests one tick inside the touch.
func (a *Adapter) makerPrice(side schema.Side, mark float64) float64 {
	if side == schema.SideBuy {
		return mark - a.cfg.TickSize
	}
	return mark + a.cfg.TickSize
}

func (a *Adapter) closesPosition(side schema.Side, qty float64) bool {
	pos := a.ledger.Position(a.cfg.Symbol)
	if side == schema.SideBuy {
		return pos.NetSize < 0 && qty <= abs(pos.NetSize)
	}
	return pos.NetSize > 0 && qty <= pos.NetSize
}
