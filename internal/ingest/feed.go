package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/obs"
	"main/internal/schema"
)

// FeedConfig tunes one venue feed session.
type FeedConfig struct {
	URL         string
	Pair        string
	StaleAfter  time.Duration // silence before the feed is declared dead
	Resubscribe time.Duration // fixed backoff between subscribe attempts
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 60 * time.Second
	}
	if c.Resubscribe <= 0 {
		c.Resubscribe = 5 * time.Second
	}
	return c
}

// Feed is a persistent trade stream session. Ticks flow out through
// the handler in arrival order; anything out of order or unparseable
// is dropped with a counter bump, never blocking the session.
type Feed struct {
	cfg     FeedConfig
	wss     *ws.WebSocket
	metrics *obs.Metrics
	handler func(schema.Tick)
	onStale func()

	lastTickUs int64
	lastRecvUs int64
	staleFired uint32

	ticks      uint64
	outOfOrder uint64
	parseFails uint64
	staleHits  uint64
}

// FeedStats is a point-in-time view of feed counters.
type FeedStats struct {
	Ticks      uint64
	OutOfOrder uint64
	ParseFails uint64
	StaleHits  uint64
}

// NewFeed builds a session against the venue trade stream. handler is
// called for every accepted tick; onStale fires when the feed goes
// silent past the configured threshold.
func NewFeed(ctx context.Context, cfg FeedConfig, metrics *obs.Metrics, handler func(schema.Tick), onStale func()) *Feed {
	cfg = cfg.withDefaults()
	return &Feed{
		cfg:     cfg,
		wss:     ws.New(ctx, cfg.URL),
		metrics: metrics,
		handler: handler,
		onStale: onStale,
	}
}

// Run starts the session, subscribes and spawns the observe and
// staleness loops. It returns once the session is live.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start feed session")
	}

	if err := f.subscribe(ctx); err != nil {
		return errors.Wrap(err, "initial subscribe")
	}

	go f.observe(ctx)
	go f.watchStale(ctx)

	return nil
}

// Close tears down the session.
func (f *Feed) Close() {
	f.wss.Close()
}

// Stats returns the current feed counters.
func (f *Feed) Stats() FeedStats {
	return FeedStats{
		Ticks:      atomic.LoadUint64(&f.ticks),
		OutOfOrder: atomic.LoadUint64(&f.outOfOrder),
		ParseFails: atomic.LoadUint64(&f.parseFails),
		StaleHits:  atomic.LoadUint64(&f.staleHits),
	}
}

func (f *Feed) subscribe(ctx context.Context) error {
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{
				"method": "subscribe",
				"req_id": krakenTradeReqID,
				"params": map[string]any{
					"channel":  "trade",
					"symbol":   []string{f.cfg.Pair},
					"snapshot": false,
				},
			}); err != nil {
				return errors.Wrap(err, "write trade subscribe payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			ack, ok := ws.ReadMessage[krakenSubscribeAck](m)
			if !ok || ack.Method != "subscribe" || ack.ReqID != krakenTradeReqID {
				return false, nil
			}
			if !ack.Success {
				logs.Errorf("trade subscribe refused: %s", ack.Error)
				return false, nil
			}

			return true, nil
		},
	}); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

func (f *Feed) resubscribeLoop(ctx context.Context) {
	for {
		if err := f.subscribe(ctx); err == nil {
			return
		} else {
			logs.Errorf("resubscribe trade stream, err: %+v", err)
		}

		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.Resubscribe):
		}
	}
}

func (f *Feed) observe(ctx context.Context) {
	ch, cancel := f.wss.Subscribe()
	defer cancel()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			env, ok := ws.ReadMessage[krakenEnvelope](m)
			if !ok {
				continue
			}

			f.handleEnvelope(env)
		}
	}
}

func (f *Feed) handleEnvelope(env krakenEnvelope) {
	switch env.Channel {
	case "heartbeat":
		f.touch()
		return
	case "trade":
	default:
		return
	}

	f.touch()
	for _, tr := range env.Data {
		if tr.Symbol != "" && tr.Symbol != f.cfg.Pair {
			continue
		}

		tk, err := tickFromTrade(tr)
		if err != nil {
			atomic.AddUint64(&f.parseFails, 1)
			f.metrics.IncTickDrop()
			logs.Warnf("drop unparseable trade, err: %+v", err)
			continue
		}

		if !f.accept(tk) {
			continue
		}

		atomic.AddUint64(&f.ticks, 1)
		f.handler(tk)
	}
}

// accept enforces arrival-order timestamps. Equal timestamps pass so
// trades batched in one exchange message all survive.
func (f *Feed) accept(tk schema.Tick) bool {
	for {
		last := atomic.LoadInt64(&f.lastTickUs)
		if tk.TimestampUs < last {
			atomic.AddUint64(&f.outOfOrder, 1)
			f.metrics.IncTickDrop()
			f.metrics.IncFeedGap()
			return false
		}
		if atomic.CompareAndSwapInt64(&f.lastTickUs, last, tk.TimestampUs) {
			return true
		}
	}
}

func (f *Feed) touch() {
	atomic.StoreInt64(&f.lastRecvUs, time.Now().UnixMicro())
	atomic.StoreUint32(&f.staleFired, 0)
}

func (f *Feed) watchStale(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := atomic.LoadInt64(&f.lastRecvUs)
			if last == 0 {
				continue
			}
			silent := time.Now().UnixMicro() - last
			if silent < f.cfg.StaleAfter.Microseconds() {
				continue
			}
			if !atomic.CompareAndSwapUint32(&f.staleFired, 0, 1) {
				continue
			}

			atomic.AddUint64(&f.staleHits, 1)
			logs.Errorf("feed silent for %s, declaring stale", time.Duration(silent)*time.Microsecond)
			if f.onStale != nil {
				f.onStale()
			}
			go f.resubscribeLoop(ctx)
		}
	}
}
