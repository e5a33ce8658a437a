package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/brain"
	"main/internal/bus"
	"main/internal/codec"
	"main/internal/execution"
	"main/internal/gateway"
	"main/internal/governor"
	"main/internal/historian"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/physics"
	"main/internal/schema"
	"main/internal/sovereign"
	"main/internal/telemetry"
	"main/pkg/conn"
	"main/pkg/exception"
)

const (
	// cycleBudget is the tick-to-trade budget a cycle should fit in.
	cycleBudget = 19 * time.Millisecond

	// physicsWindow is the return window the engine derives over.
	physicsWindow = 100

	// ringCapacity retains comfortably over a minute of frames at the
	// stream ceiling.
	ringCapacity = 8192

	// startingCash seeds the ledger when no snapshot exists.
	startingCash = 100_000.0
)

// kernel owns every long-lived component and the decision loop.
type kernel struct {
	cfg ops.Loaded
	env ops.Env

	metrics *obs.Metrics
	prom    *obs.Prom
	traces  *obs.TraceIDGen

	physics *physics.Engine
	gov     *governor.Governor
	exec    *execution.Adapter
	venue   execution.Venue

	queue    *bus.Queue
	wal      *historian.Writer
	ring     *historian.Ring
	archiver *historian.Archiver
	cast     *telemetry.Broadcaster
	plane    *sovereign.Plane
	audit    *sovereign.AuditLog
	pg       *conn.Client

	lastFrame  atomic.Value // schema.Frame
	lastDrops  uint64
	venueRTTMs func() float64
}

// buildKernel wires the whole machine from config and environment.
func buildKernel(ctx context.Context, cfg ops.Loaded, env ops.Env) (*kernel, error) {
	nowUs := time.Now().UnixMicro()

	k := &kernel{
		cfg:     cfg,
		env:     env,
		metrics: obs.NewMetrics(),
		prom:    obs.NewProm(),
		traces:  obs.NewTraceIDGen(),
		ring:    historian.NewRing(ringCapacity),
		cast:    telemetry.NewBroadcaster(256),
		queue:   bus.NewQueue(4096, bus.DropOldest),
	}

	var brainClient *brain.Client
	if env.BrainEndpoint != "" {
		brainClient = brain.New(env.BrainEndpoint, brain.DefaultDeadline)
	}

	k.gov = governor.New(
		governor.Config{
			Symbol:           cfg.LiveSymbol,
			CycleStalenessUs: cfg.CycleStaleness.Microseconds(),
			VolCeiling:       cfg.VolCeiling,
			DrawdownFloor:    cfg.DrawdownFloorPct / 100,
		},
		brainClient,
		governor.NewRatchet(),
		governor.NewStaircase(nowUs+cfg.WarmupLockout.Microseconds()),
		governor.NewDeadman(cfg.Watchdog.Microseconds(), nowUs),
	)

	ledger, lastGSID, err := recoverLedger(cfg.SnapshotPath)
	if err != nil {
		return nil, err
	}
	if lastGSID > 0 {
		logs.Infof("recovered snapshot at gsid %d", lastGSID)
	}

	venue, rtt, err := buildVenue(cfg, env)
	if err != nil {
		return nil, err
	}
	k.venue = venue
	k.venueRTTMs = rtt

	k.exec = execution.NewAdapter(
		execution.Config{
			Symbol:       cfg.LiveSymbol,
			FatFingerPct: cfg.FatFingerCapPct / 100,
			MaxLeverage:  cfg.MaxLeverage,
		},
		venue,
		execution.NewBook(),
		ledger,
		execution.NewLimiter(cfg.RateBucketCapacity, cfg.RateRefillPerSec),
		k.gov.Auditor().RegisterFill,
		func(why string) {
			if k.gov.Ratchet().Raise(schema.RatchetTighten) {
				logs.Warnf("ratchet tighten: %s", why)
			}
		},
	)

	k.physics = physics.NewEngine(physicsWindow)

	k.wal, err = historian.NewWriter(historian.WriterConfig{Dir: cfg.WALDir})
	if err != nil {
		return nil, errors.Wrap(err, "decision log")
	}
	if err := k.wal.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start decision log")
	}

	if env.ArchiveEnabled() {
		k.pg, err = conn.New(conn.Option{
			Host:     env.PGHost,
			Port:     atoiDefault(env.PGPort, 5432),
			User:     env.PGUser,
			Password: env.PGPassword,
			Database: env.PGDatabase,
		})
		if err != nil {
			return nil, errors.Wrap(err, "cold store")
		}
		k.archiver, err = historian.NewArchiver(ctx, k.pg.DB(), 0)
		if err != nil {
			return nil, errors.Wrap(err, "archiver")
		}
	}

	k.audit, err = sovereign.OpenAuditLog(cfg.AuditDB)
	if err != nil {
		return nil, errors.Wrap(err, "sovereign audit")
	}
	k.plane = sovereign.NewPlane(
		sovereign.NewAuthenticator(env.SovereignPSK, env.SovereignSigningKey),
		k.audit, k.gov, k.exec, nil,
	)

	return k, nil
}

// buildVenue selects the order route for the mode. Only live mode
// touches the exchange.
func buildVenue(cfg ops.Loaded, env ops.Env) (execution.Venue, func() float64, error) {
	if cfg.Mode == ops.ModeLive {
		v, err := execution.NewKrakenVenue(cfg.LiveSymbol, env.VenueKey, env.VenueSecret)
		if err != nil {
			return nil, nil, errors.Wrap(err, "live venue")
		}
		return v, v.RTTMs, nil
	}
	v := execution.NewShadowVenue()
	return v, func() float64 { return 0 }, nil
}

// offerTick is the single entry point for market data, from the feed
// or the simulator. It never blocks.
func (k *kernel) offerTick(t schema.Tick) {
	header := schema.NewHeader(schema.EventTick, 1, 0, t.TimestampUs, time.Now().UnixMicro())
	header.TraceID = k.traces.Next()
	if err := k.queue.TryPublish(bus.Event{Header: header, Payload: codec.EncodeTick(nil, t)}); err != nil {
		k.metrics.IncTickDrop()
		k.prom.TickDrops.Inc()
	}
}

// consume drains the tick queue into decision cycles.
func (k *kernel) consume(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.queue.Run(ctx, func(e bus.Event) {
			tick, ok := codec.DecodeTick(e.Payload)
			if !ok {
				k.metrics.IncTickDrop()
				return
			}
			k.cycle(ctx, tick, e.Header.TraceID)
		})
	}()
}

// cycle runs one full observe-orient-decide-act pass.
func (k *kernel) cycle(ctx context.Context, tick schema.Tick, traceID uint64) {
	start := time.Now()
	nowUs := start.UnixMicro()

	k.metrics.ObserveEvent(schema.EventTick)

	state := k.physics.Update(tick)
	k.exec.Ledger().MarkPrice(k.cfg.LiveSymbol, tick.Price)
	if k.venue != nil {
		if sv, ok := k.venue.(*execution.ShadowVenue); ok {
			sv.SetMark(tick.Price)
		}
	}

	acct := k.exec.Ledger().Account()
	pos := k.exec.Ledger().Position(k.cfg.LiveSymbol)

	decision := k.gov.Decide(ctx, state, acct, pos, nowUs)
	k.metrics.ObserveEvent(schema.EventDecision)
	k.metrics.ObserveReasons(decision.Reasons)

	leg := k.gov.Legislator().State()
	actStart := time.Now()
	if err := k.exec.Execute(ctx, decision, leg); err != nil {
		// The adapter reports lattice rejections as bare sentinels.
		switch err {
		case exception.ErrRateExhausted:
		case exception.ErrFatFinger:
			logs.Warnf("order blocked by notional cap: gsid %d", decision.GSID)
		case exception.ErrLeverageCap:
			logs.Warnf("order blocked by leverage cap: gsid %d", decision.GSID)
		default:
			logs.Warnf("execute gsid %d, err: %+v", decision.GSID, err)
		}
	}
	if leg.SnapToBreakeven {
		if err := k.exec.SnapToBreakeven(ctx, tick.Price, nowUs); err != nil && err != exception.ErrRateExhausted {
			logs.Warnf("snap to breakeven, err: %+v", err)
		}
	}
	k.exec.Chase(ctx, tick.Price, nowUs)
	k.metrics.ObserveAct(time.Since(actStart))

	k.appendLog(tick, decision, nowUs, traceID)
	frame := k.publishFrame(decision, state, nowUs)
	k.lastFrame.Store(frame)

	elapsed := time.Since(start)
	k.metrics.ObserveCycle(elapsed, cycleBudget)
	k.bridgeProm(frame, elapsed)
}

func (k *kernel) appendLog(tick schema.Tick, d schema.Decision, nowUs int64, traceID uint64) {
	th := schema.NewHeader(schema.EventTick, 1, d.GSID, tick.TimestampUs, nowUs)
	th.TraceID = traceID
	if err := k.wal.TryAppend(th, codec.EncodeTick(nil, tick)); err != nil {
		k.metrics.IncFrameDrop()
	}

	dh := schema.NewHeader(schema.EventDecision, 1, d.GSID, d.TimestampUs, nowUs)
	dh.TraceID = traceID
	if err := k.wal.TryAppend(dh, codec.EncodeDecision(nil, d)); err != nil {
		k.metrics.IncFrameDrop()
	}
}

func (k *kernel) publishFrame(d schema.Decision, state schema.PhysicsState, nowUs int64) schema.Frame {
	trace := make([]string, 0, len(d.Reasons))
	blind, stale, kinematic := false, false, false
	for _, r := range d.Reasons {
		trace = append(trace, r.String())
		switch r {
		case schema.ReasonBlindMode:
			blind = true
		case schema.ReasonStaleCycle:
			stale = true
		case schema.ReasonKinematicVeto, schema.ReasonNuclearVeto:
			kinematic = true
		}
	}

	drops := k.queue.Drops() + k.queue.Evicted()
	queueDropped := drops > k.lastDrops
	k.lastDrops = drops

	rttMs := k.venueRTTMs()
	frame := schema.Frame{
		Version:        schema.FrameVersion,
		GSID:           d.GSID,
		TimestampUs:    nowUs,
		Physics:        state,
		Account:        k.exec.Ledger().Account(),
		Positions:      k.exec.Ledger().Positions(),
		Orders:         k.exec.Book().Live(),
		Decision:       d,
		ReasoningTrace: trace,
		Legislative:    k.gov.Legislator().State(),
		Staircase:      k.gov.Staircase().State(),
		Ratchet:        k.gov.Ratchet().Level(),
		DriftScore:     k.gov.Auditor().Score(),
		VenueRTTMs:     rttMs,
		SanityScore: telemetry.SanityScore(telemetry.Degradations{
			Blind:         blind,
			StaleCycle:    stale,
			KinematicVeto: kinematic,
			QueueDrops:    queueDropped,
			VenueLagging:  rttMs > float64(k.cfg.JitterThreshold.Milliseconds()),
			DriftScore:    k.gov.Auditor().Score(),
		}),
	}

	k.ring.Append(frame)
	k.cast.Publish(frame)
	k.archiver.Offer(frame)
	return frame
}

func (k *kernel) bridgeProm(f schema.Frame, elapsed time.Duration) {
	k.prom.CycleSeconds.Observe(elapsed.Seconds())
	if elapsed > cycleBudget {
		k.prom.BudgetOverruns.Inc()
	}
	k.prom.SanityScore.Set(f.SanityScore)
	k.prom.DriftScore.Set(f.DriftScore)
	k.prom.RatchetLevel.Set(float64(f.Ratchet))
	k.prom.StaircaseTier.Set(float64(f.Staircase.Tier))
}

// snapshot returns the latest frame for the gateway.
func (k *kernel) snapshot() (schema.Frame, bool) {
	v := k.lastFrame.Load()
	if v == nil {
		return schema.Frame{}, false
	}
	return v.(schema.Frame), true
}

func (k *kernel) gatewayDeps() gateway.Deps {
	return gateway.Deps{
		Auth:      sovereign.NewAuthenticator(k.env.SovereignPSK, k.env.SovereignSigningKey),
		Plane:     k.plane,
		Gov:       k.gov,
		Exec:      k.exec,
		Ring:      k.ring,
		Broadcast: k.cast,
		Metrics:   k.metrics,
		Registry:  k.prom.Registry,
		Conf:      k.cfg,
		Snapshot:  k.snapshot,
	}
}

// shutdown flushes and persists state. Returns the first error seen.
func (k *kernel) shutdown() error {
	k.queue.Close()
	var firstErr error

	if err := k.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := k.wal.Err(); err != nil && firstErr == nil {
		firstErr = err
	}
	k.archiver.Close()
	if k.pg != nil {
		_ = k.pg.Close()
	}

	snap := historian.Snapshot{
		TakenAtUs: time.Now().UnixMicro(),
		GSID:      k.gov.LastGSID(),
		Account:   k.exec.Ledger().Account(),
		Positions: k.exec.Ledger().Positions(),
	}
	if err := historian.WriteSnapshot(k.cfg.SnapshotPath, snap); err != nil && firstErr == nil {
		firstErr = err
	}

	if k.audit != nil {
		_ = k.audit.Close()
	}
	return firstErr
}

// recoverLedger restores account state from the last snapshot.
func recoverLedger(snapshotDir string) (*execution.Ledger, uint64, error) {
	snap, ok, err := historian.ReadSnapshot(snapshotDir)
	if err != nil {
		return nil, 0, errors.Wrap(err, "read snapshot")
	}
	if !ok {
		return execution.NewLedger(startingCash), 0, nil
	}

	ledger := execution.NewLedger(snap.Account.Cash)
	ledger.Restore(snap.Positions)
	return ledger, snap.GSID, nil
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		v = v*10 + int(c-'0')
	}
	return v
}
