package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/execution"
	"main/internal/schema"
)

func envelope(t *testing.T, body string) krakenEnvelope {
	t.Helper()
	var env krakenEnvelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	return env
}

func testFeed(handler func(schema.Tick)) *Feed {
	return &Feed{
		cfg:     FeedConfig{Pair: "XBT/USD"}.withDefaults(),
		handler: handler,
	}
}

func TestTickFromTrade(t *testing.T) {
	env := envelope(t, `{
		"channel": "trade",
		"type": "update",
		"data": [{
			"symbol": "XBT/USD",
			"price": "51230.5",
			"qty": "0.015",
			"side": "buy",
			"timestamp": "2024-03-01T12:00:00.123456Z"
		}]
	}`)
	require.Len(t, env.Data, 1)

	tk, err := tickFromTrade(env.Data[0])
	require.NoError(t, err)
	require.Equal(t, 51230.5, tk.Price)
	require.Equal(t, 0.015, tk.Size)
	require.Equal(t, schema.SideBuy, tk.Side)
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC).UnixMicro(), tk.TimestampUs)
}

func TestTickFromTradeRejectsGarbage(t *testing.T) {
	base := krakenTrade{Symbol: "XBT/USD", Side: "sell", Timestamp: "2024-03-01T12:00:00Z"}

	bad := base
	bad.Timestamp = "yesterday"
	_, err := tickFromTrade(bad)
	require.Error(t, err)

	// Zero-value decimals parse to zero price, which is also rejected.
	_, err = tickFromTrade(base)
	require.Error(t, err)
}

func TestHandleEnvelopeDropsOutOfOrder(t *testing.T) {
	var got []schema.Tick
	f := testFeed(func(tk schema.Tick) { got = append(got, tk) })

	f.handleEnvelope(envelope(t, `{"channel":"trade","data":[
		{"symbol":"XBT/USD","price":"100","qty":"1","side":"buy","timestamp":"2024-03-01T12:00:02Z"},
		{"symbol":"XBT/USD","price":"101","qty":"1","side":"buy","timestamp":"2024-03-01T12:00:01Z"},
		{"symbol":"XBT/USD","price":"102","qty":"1","side":"buy","timestamp":"2024-03-01T12:00:02Z"},
		{"symbol":"XBT/USD","price":"103","qty":"1","side":"buy","timestamp":"2024-03-01T12:00:03Z"}
	]}`))

	require.Len(t, got, 3)
	require.Equal(t, []float64{100, 102, 103}, []float64{got[0].Price, got[1].Price, got[2].Price})
	require.EqualValues(t, 1, f.Stats().OutOfOrder)
	require.EqualValues(t, 3, f.Stats().Ticks)
}

func TestHandleEnvelopeCountsParseFailures(t *testing.T) {
	var got int
	f := testFeed(func(schema.Tick) { got++ })

	f.handleEnvelope(envelope(t, `{"channel":"trade","data":[
		{"symbol":"XBT/USD","price":"100","qty":"1","side":"buy","timestamp":"not-a-time"}
	]}`))

	require.Zero(t, got)
	require.EqualValues(t, 1, f.Stats().ParseFails)
}

func TestHandleEnvelopeIgnoresOtherSymbols(t *testing.T) {
	var got int
	f := testFeed(func(schema.Tick) { got++ })

	f.handleEnvelope(envelope(t, `{"channel":"trade","data":[
		{"symbol":"ETH/USD","price":"100","qty":"1","side":"buy","timestamp":"2024-03-01T12:00:00Z"}
	]}`))
	require.Zero(t, got)
}

func TestHeartbeatResetsStaleLatch(t *testing.T) {
	f := testFeed(nil)
	f.staleFired = 1

	f.handleEnvelope(envelope(t, `{"channel":"heartbeat"}`))
	require.Zero(t, f.staleFired)
	require.NotZero(t, f.lastRecvUs)
}

type stubAccountSource struct {
	acct schema.AccountState
	pos  []schema.Position
	err  error
}

func (s *stubAccountSource) FetchAccount(context.Context) (schema.AccountState, []schema.Position, error) {
	return s.acct, s.pos, s.err
}

func TestReconcilerMatchingAccountIsQuiet(t *testing.T) {
	ledger := execution.NewLedger(10_000)
	ledger.ApplyFill("XBT/USD", schema.SideBuy, 1, 100, 1)

	src := &stubAccountSource{
		acct: ledger.Account(),
		pos:  ledger.Positions(),
	}
	fired := 0
	r := NewReconciler(ReconcilerConfig{}, src, ledger, func() { fired++ })

	r.checkOnce(context.Background())
	require.Zero(t, fired)
	require.Zero(t, r.Drifts())
}

func TestReconcilerDetectsNAVDrift(t *testing.T) {
	ledger := execution.NewLedger(10_000)
	src := &stubAccountSource{acct: schema.AccountState{NAV: 9_000}}

	fired := 0
	r := NewReconciler(ReconcilerConfig{}, src, ledger, func() { fired++ })
	r.checkOnce(context.Background())

	require.Equal(t, 1, fired)
	require.EqualValues(t, 1, r.Drifts())
}

func TestReconcilerDetectsPhantomPosition(t *testing.T) {
	ledger := execution.NewLedger(10_000)
	ledger.ApplyFill("XBT/USD", schema.SideBuy, 1, 100, 1)

	// Venue agrees on NAV but reports a flat book.
	src := &stubAccountSource{acct: ledger.Account()}
	fired := 0
	r := NewReconciler(ReconcilerConfig{}, src, ledger, func() { fired++ })
	r.checkOnce(context.Background())

	require.Equal(t, 1, fired)
}

func TestReconcilerPollFailureIsNotDrift(t *testing.T) {
	ledger := execution.NewLedger(10_000)
	src := &stubAccountSource{err: context.DeadlineExceeded}

	fired := 0
	r := NewReconciler(ReconcilerConfig{}, src, ledger, func() { fired++ })
	r.checkOnce(context.Background())

	require.Zero(t, fired)
	require.EqualValues(t, 1, r.Failures())
}
