package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/pkg/exception"
)

func testAdapter(t *testing.T, cfg Config) (*Adapter, *ShadowVenue, *[]string) {
	t.Helper()
	if cfg.Symbol == "" {
		cfg.Symbol = "XBT/USD"
	}
	venue := NewShadowVenue()
	venue.SetMark(100)
	tightens := &[]string{}
	a := NewAdapter(cfg, venue, NewBook(), NewLedger(10_000), NewLimiter(20, 10),
		nil, func(why string) { *tightens = append(*tightens, why) })
	return a, venue, tightens
}

func decision(action schema.Action, size, price float64) schema.Decision {
	d := schema.Decision{Action: action, Size: size, TimestampUs: 1_000}
	d.Physics.Price = price
	return d
}

func TestBuyFillUpdatesLedger(t *testing.T) {
	a, _, _ := testAdapter(t, Config{TickSize: 0.5})

	err := a.Execute(context.Background(), decision(schema.ActionBuy, 0.5, 100), schema.LegislativeState{})
	require.NoError(t, err)

	pos := a.Ledger().Position("XBT/USD")
	require.InDelta(t, 0.5, pos.NetSize, 1e-12)
	// Maker rests one tick inside the touch and fills there.
	require.InDelta(t, 99.5, pos.AvgEntryPrice, 1e-12)
}

func TestVWAPAcrossAdds(t *testing.T) {
	a, venue, _ := testAdapter(t, Config{TickSize: 0})

	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 1, 100), schema.LegislativeState{}))
	venue.SetMark(110)
	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 1, 110), schema.LegislativeState{}))

	pos := a.Ledger().Position("XBT/USD")
	require.InDelta(t, 2, pos.NetSize, 1e-12)
	// Ticks default to 0.01; entries at 99.99 and 109.99 average out.
	require.InDelta(t, 104.99, pos.AvgEntryPrice, 1e-9)
}

func TestFatFingerCapRejects(t *testing.T) {
	a, _, _ := testAdapter(t, Config{FatFingerPct: 0.01})

	// 10 lots at 100 is 1000 notional against a 10k NAV, over the 1% cap.
	err := a.Execute(context.Background(), decision(schema.ActionBuy, 10, 100), schema.LegislativeState{})
	require.ErrorIs(t, err, exception.ErrFatFinger)
	require.EqualValues(t, 1, a.FatFingers())
	require.Zero(t, a.Ledger().Position("XBT/USD").NetSize)
}

func TestLeverageCapBlocksOpensNotCloses(t *testing.T) {
	a, venue, _ := testAdapter(t, Config{MaxLeverage: 1})

	// 90 lots at 100 is 9000 notional against a 10k NAV: fine.
	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 90, 100), schema.LegislativeState{}))

	// Another 30 lots would push gross exposure past 1x.
	err := a.Execute(context.Background(), decision(schema.ActionBuy, 30, 100), schema.LegislativeState{})
	require.ErrorIs(t, err, exception.ErrLeverageCap)
	require.EqualValues(t, 1, a.LeverageHits())

	// Reducing exposure always passes, even at the cap.
	venue.SetMark(100)
	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionSell, 90, 100), schema.LegislativeState{}))
	require.Zero(t, a.Ledger().Position("XBT/USD").NetSize)
}

func TestRateLimiterBurstThenSteady(t *testing.T) {
	a, _, _ := testAdapter(t, Config{})

	var throttled int
	for i := 0; i < 25; i++ {
		err := a.Execute(context.Background(), decision(schema.ActionBuy, 0.01, 100), schema.LegislativeState{})
		if err == exception.ErrRateExhausted {
			throttled++
		}
	}
	// Bucket holds 20; the burst tail gets throttled.
	require.GreaterOrEqual(t, throttled, 4)
	require.EqualValues(t, throttled, a.Throttled())
}

func TestFlattenBypassesRateLimit(t *testing.T) {
	venue := NewShadowVenue()
	venue.SetMark(100)
	// Empty bucket: capacity 1, refill glacial.
	a := NewAdapter(Config{Symbol: "XBT/USD"}, venue, NewBook(), NewLedger(10_000), NewLimiter(1, 0.001), nil, nil)
	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 0.5, 100), schema.LegislativeState{}))
	require.Error(t, a.Execute(context.Background(), decision(schema.ActionBuy, 0.5, 100), schema.LegislativeState{}))

	venue.SetMark(90)
	require.NoError(t, a.Flatten(context.Background(), 90, 2_000))
	require.Zero(t, a.Ledger().Position("XBT/USD").NetSize)
}

func TestRejectionStreakTriggersTighten(t *testing.T) {
	a, venue, tightens := testAdapter(t, Config{RejectedLimit: 3})
	venue.RejectNext(3)

	for i := 0; i < 3; i++ {
		err := a.Execute(context.Background(), decision(schema.ActionBuy, 0.1, 100), schema.LegislativeState{})
		require.ErrorIs(t, err, exception.ErrVenueRejected)
	}
	require.Len(t, *tightens, 1)

	// A successful placement resets the streak.
	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 0.1, 100), schema.LegislativeState{}))
	venue.RejectNext(2)
	a.Execute(context.Background(), decision(schema.ActionBuy, 0.1, 100), schema.LegislativeState{})
	a.Execute(context.Background(), decision(schema.ActionBuy, 0.1, 100), schema.LegislativeState{})
	require.Len(t, *tightens, 1, "streak below limit must not re-trigger")
}

func TestSnapToBreakeven(t *testing.T) {
	a, venue, _ := testAdapter(t, Config{TickSize: 0})

	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 1, 100), schema.LegislativeState{}))
	entry := a.Ledger().Position("XBT/USD").AvgEntryPrice

	// Price above entry: no snap.
	venue.SetMark(entry + 5)
	require.NoError(t, a.SnapToBreakeven(context.Background(), entry+5, 2_000))
	require.NotZero(t, a.Ledger().Position("XBT/USD").NetSize)

	// Price retreats to entry: flat at break-even.
	venue.SetMark(entry)
	require.NoError(t, a.SnapToBreakeven(context.Background(), entry, 3_000))
	require.Zero(t, a.Ledger().Position("XBT/USD").NetSize)
}

func TestChaseMovesMakerOneTick(t *testing.T) {
	venue := NewShadowVenue()
	venue.SetMark(100)
	book := NewBook()
	ledger := NewLedger(10_000)
	a := NewAdapter(Config{Symbol: "XBT/USD", TickSize: 1}, venue, book, ledger, NewLimiter(20, 10), nil, nil)

	o := book.Open("XBT/USD", schema.SideBuy, 1, 95, schema.OrderKindMaker, 1_000)
	a.Chase(context.Background(), 100, 2_000)

	// The stranded order is cancel-replaced one tick up, not repriced
	// to the touch; the replacement fills at its own limit.
	got, ok := book.Order(o.OrderID)
	require.True(t, ok)
	require.Equal(t, schema.OrderStatusCancelled, got.Status)
	require.InDelta(t, 96, ledger.Position("XBT/USD").AvgEntryPrice, 1e-12)
}

// pricelessVenue acks fills without reporting a price, the way a live
// venue can when the ack races the private fill feed.
type pricelessVenue struct{}

func (pricelessVenue) Place(context.Context, schema.Order) (schema.OrderStatus, float64, error) {
	return schema.OrderStatusFilled, 0, nil
}

func (pricelessVenue) Cancel(context.Context, uint64) error { return nil }

func TestFlattenWithoutMarkSettlesAtLedgerPrice(t *testing.T) {
	ledger := NewLedger(100_000)
	ledger.ApplyFill("XBT/USD", schema.SideBuy, 1, 50_000, 1_000)
	a := NewAdapter(Config{Symbol: "XBT/USD"}, pricelessVenue{}, NewBook(), ledger, NewLimiter(20, 10), nil, nil)

	// No caller mark, no venue price: the close must settle at the
	// position's last known price, not at zero.
	require.NoError(t, a.Flatten(context.Background(), 0, 2_000))
	require.Zero(t, ledger.Position("XBT/USD").NetSize)
	require.InDelta(t, 100_000, ledger.Account().Cash, 1e-9, "flat close realizes zero")
}

// restingVenue parks makers as open orders and reports their status on
// demand, like a real exchange.
type restingVenue struct {
	status schema.OrderStatus
	price  float64
}

func (v *restingVenue) Place(context.Context, schema.Order) (schema.OrderStatus, float64, error) {
	return schema.OrderStatusOpen, 0, nil
}

func (v *restingVenue) Cancel(context.Context, uint64) error { return nil }

func (v *restingVenue) FetchOrder(context.Context, uint64) (schema.OrderStatus, float64, error) {
	return v.status, v.price, nil
}

func TestSyncOpenOrdersFoldsVenueFills(t *testing.T) {
	venue := &restingVenue{status: schema.OrderStatusOpen}
	ledger := NewLedger(10_000)
	a := NewAdapter(Config{Symbol: "XBT/USD", TickSize: 0.5}, venue, NewBook(), ledger, NewLimiter(20, 10), nil, nil)

	require.NoError(t, a.Execute(context.Background(), decision(schema.ActionBuy, 0.5, 100), schema.LegislativeState{}))
	require.Zero(t, ledger.Position("XBT/USD").NetSize, "resting maker has not filled yet")

	// Still resting: nothing to fold.
	a.SyncOpenOrders(context.Background(), 2_000)
	require.Zero(t, ledger.Position("XBT/USD").NetSize)

	venue.status = schema.OrderStatusFilled
	venue.price = 99.5
	a.SyncOpenOrders(context.Background(), 3_000)

	pos := ledger.Position("XBT/USD")
	require.InDelta(t, 0.5, pos.NetSize, 1e-12)
	require.InDelta(t, 99.5, pos.AvgEntryPrice, 1e-12)
	require.Empty(t, a.Book().Live())
}

func TestBookPrunesOldTerminalOrders(t *testing.T) {
	book := NewBook()
	first := book.Open("XBT/USD", schema.SideBuy, 1, 100, schema.OrderKindMaker, 1)
	_, err := book.Transition(first.OrderID, schema.OrderStatusFilled)
	require.NoError(t, err)

	var last schema.Order
	for i := 0; i < terminalRetention; i++ {
		last = book.Open("XBT/USD", schema.SideBuy, 1, 100, schema.OrderKindMaker, 1)
		_, err = book.Transition(last.OrderID, schema.OrderStatusFilled)
		require.NoError(t, err)
	}

	_, ok := book.Order(first.OrderID)
	require.False(t, ok, "oldest finished order is pruned past the retention window")
	_, ok = book.Order(last.OrderID)
	require.True(t, ok)
}

func TestOrderLifecycleTerminalIsFinal(t *testing.T) {
	book := NewBook()
	o := book.Open("XBT/USD", schema.SideBuy, 1, 100, schema.OrderKindMaker, 1)
	_, err := book.Transition(o.OrderID, schema.OrderStatusFilled)
	require.NoError(t, err)
	_, err = book.Transition(o.OrderID, schema.OrderStatusCancelled)
	require.ErrorIs(t, err, exception.ErrOrderTerminal)
	_, err = book.Transition(999, schema.OrderStatusFilled)
	require.ErrorIs(t, err, exception.ErrOrderUnknown)
}

func TestFlipThroughZeroRealizesPnl(t *testing.T) {
	l := NewLedger(1_000)
	l.ApplyFill("XBT/USD", schema.SideBuy, 1, 100, 1)
	l.ApplyFill("XBT/USD", schema.SideSell, 2, 110, 2)

	pos := l.Position("XBT/USD")
	require.InDelta(t, -1, pos.NetSize, 1e-12)
	require.InDelta(t, 110, pos.AvgEntryPrice, 1e-12)
	require.InDelta(t, 1_010, l.Account().Cash, 1e-9, "closed long realizes +10")
}

func TestDrawdownTracksHighWaterMark(t *testing.T) {
	l := NewLedger(1_000)
	l.ApplyFill("XBT/USD", schema.SideBuy, 1, 100, 1)
	l.MarkPrice("XBT/USD", 200)
	require.InDelta(t, 0, l.Account().DrawdownPct, 1e-9)

	l.MarkPrice("XBT/USD", 100)
	acct := l.Account()
	require.Greater(t, acct.DrawdownPct, 0.05)
	require.InDelta(t, 1_100, acct.HighWaterMark, 1e-9)
}
