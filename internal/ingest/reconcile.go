package ingest

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/execution"
	"main/internal/schema"
)

// AccountSource reports the venue's view of the account.
type AccountSource interface {
	FetchAccount(ctx context.Context) (schema.AccountState, []schema.Position, error)
}

// ReconcilerConfig tunes the account reconciliation poll.
type ReconcilerConfig struct {
	Interval     time.Duration // poll period, at least 1 Hz
	NAVTolerance float64       // relative NAV mismatch before drift fires
	SizeEpsilon  float64       // absolute per-position size mismatch
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Interval <= 0 || c.Interval > time.Second {
		c.Interval = time.Second
	}
	if c.NAVTolerance <= 0 {
		c.NAVTolerance = 0.005
	}
	if c.SizeEpsilon <= 0 {
		c.SizeEpsilon = 1e-9
	}
	return c
}

// Reconciler polls the venue account and compares it against the local
// ledger. A mismatch means local state has diverged from reality, which
// is grounds for freezing until an operator looks.
type Reconciler struct {
	cfg     ReconcilerConfig
	src     AccountSource
	ledger  *execution.Ledger
	onDrift func()

	drifts   uint64
	failures uint64
	polls    uint64
}

// NewReconciler wires a reconciliation poll. onDrift fires on every
// detected divergence.
func NewReconciler(cfg ReconcilerConfig, src AccountSource, ledger *execution.Ledger, onDrift func()) *Reconciler {
	return &Reconciler{
		cfg:     cfg.withDefaults(),
		src:     src,
		ledger:  ledger,
		onDrift: onDrift,
	}
}

// Run polls until the context ends.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkOnce(ctx)
		}
	}
}

// Drifts reports how many divergences have been detected.
func (r *Reconciler) Drifts() uint64 {
	return atomic.LoadUint64(&r.drifts)
}

// Failures reports how many polls errored out.
func (r *Reconciler) Failures() uint64 {
	return atomic.LoadUint64(&r.failures)
}

func (r *Reconciler) checkOnce(ctx context.Context) {
	atomic.AddUint64(&r.polls, 1)

	venueAcct, venuePos, err := r.src.FetchAccount(ctx)
	if err != nil {
		atomic.AddUint64(&r.failures, 1)
		logs.Warnf("account poll failed, err: %+v", err)
		return
	}

	if r.diverged(venueAcct, venuePos) {
		atomic.AddUint64(&r.drifts, 1)
		if r.onDrift != nil {
			r.onDrift()
		}
	}
}

func (r *Reconciler) diverged(venueAcct schema.AccountState, venuePos []schema.Position) bool {
	local := r.ledger.Account()
	if relDiff(local.NAV, venueAcct.NAV) > r.cfg.NAVTolerance {
		logs.Errorf("account drift: local nav %.8f, venue nav %.8f", local.NAV, venueAcct.NAV)
		return true
	}

	seen := make(map[string]struct{}, len(venuePos))
	for _, vp := range venuePos {
		seen[vp.Symbol] = struct{}{}
		lp := r.ledger.Position(vp.Symbol)
		if math.Abs(lp.NetSize-vp.NetSize) > r.cfg.SizeEpsilon {
			logs.Errorf("position drift on %s: local %.8f, venue %.8f", vp.Symbol, lp.NetSize, vp.NetSize)
			return true
		}
	}
	for _, lp := range r.ledger.Positions() {
		if lp.NetSize == 0 {
			continue
		}
		if _, ok := seen[lp.Symbol]; !ok {
			logs.Errorf("position drift on %s: local %.8f, venue flat", lp.Symbol, lp.NetSize)
			return true
		}
	}

	return false
}

func relDiff(a, b float64) float64 {
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}
