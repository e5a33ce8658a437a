package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"main/internal/execution"
	"main/internal/governor"
	"main/internal/historian"
	"main/internal/ops"
	"main/internal/physics"
	"main/internal/schema"
)

const replayPhysicsWindow = 100

func main() {
	dir := flag.String("dir", "data/wal", "Decision log directory")
	prefix := flag.String("prefix", "reflex", "Decision log file prefix")
	configPath := flag.String("config", "reflex.json", "Path to JSON config")
	verbose := flag.Bool("v", false, "Print every divergent gsid")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	recorded, err := historian.BuildDecisionMap(*dir, *prefix)
	if err != nil {
		log.Fatalf("read recorded decisions failed: %v", err)
	}

	recomputed, ticks, err := recompute(cfg, *dir, *prefix)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	fmt.Printf("replayed %d ticks: %d recorded decisions, %d recomputed\n",
		ticks, len(recorded), len(recomputed))

	diff := recorded.Diff(recomputed)
	if len(diff) == 0 {
		fmt.Println("decision streams identical")
		return
	}

	fmt.Printf("%d divergent gsids (first %d, last %d)\n", len(diff), diff[0], diff[len(diff)-1])
	if *verbose {
		for _, gsid := range diff {
			fmt.Printf("  gsid %d: recorded=%016x recomputed=%016x\n", gsid, recorded[gsid], recomputed[gsid])
		}
	}
	os.Exit(1)
}

// recompute drives the recorded tick stream through a fresh decision
// stack and digests every decision it produces. The clock is the tick
// timestamp, the watchdog is disabled, and orders run unthrottled, so
// two replays of the same log always agree. A log written with live
// cognition or live fills can legitimately diverge here; the diff
// shows where.
func recompute(cfg ops.Loaded, dir, prefix string) (historian.DecisionMap, int, error) {
	var (
		engine *physics.Engine
		gov    *governor.Governor
		exec   *execution.Adapter
		shadow *execution.ShadowVenue
	)

	out := make(historian.DecisionMap)
	ticks := 0
	ctx := context.Background()

	err := historian.ReplayTicks(dir, prefix, func(gsid uint64, t schema.Tick) error {
		if gov == nil {
			engine = physics.NewEngine(replayPhysicsWindow)
			gov, exec, shadow = buildStack(cfg, t.TimestampUs)
		}
		ticks++

		engineState := engine.Update(t)
		exec.Ledger().MarkPrice(cfg.LiveSymbol, t.Price)
		shadow.SetMark(t.Price)

		d := gov.Decide(ctx, engineState,
			exec.Ledger().Account(), exec.Ledger().Position(cfg.LiveSymbol), t.TimestampUs)
		out[d.GSID] = historian.DecisionDigest(d)

		leg := gov.Legislator().State()
		_ = exec.Execute(ctx, d, leg)
		if leg.SnapToBreakeven {
			_ = exec.SnapToBreakeven(ctx, t.Price, t.TimestampUs)
		}
		exec.Chase(ctx, t.Price, t.TimestampUs)
		return nil
	})
	if err != nil {
		return nil, ticks, err
	}
	return out, ticks, nil
}

// buildStack mirrors the kernel wiring minus everything wall-clock or
// network bound. Warmup is anchored to the first recorded tick.
func buildStack(cfg ops.Loaded, firstTickUs int64) (*governor.Governor, *execution.Adapter, *execution.ShadowVenue) {
	gov := governor.New(
		governor.Config{
			Symbol:           cfg.LiveSymbol,
			CycleStalenessUs: cfg.CycleStaleness.Microseconds(),
			VolCeiling:       cfg.VolCeiling,
			DrawdownFloor:    cfg.DrawdownFloorPct / 100,
		},
		nil,
		governor.NewRatchet(),
		governor.NewStaircase(firstTickUs+cfg.WarmupLockout.Microseconds()),
		governor.NewDeadman(0, firstTickUs),
	)

	shadow := execution.NewShadowVenue()
	exec := execution.NewAdapter(
		execution.Config{
			Symbol:       cfg.LiveSymbol,
			FatFingerPct: cfg.FatFingerCapPct / 100,
			MaxLeverage:  cfg.MaxLeverage,
		},
		shadow,
		execution.NewBook(),
		execution.NewLedger(100_000),
		execution.NewLimiter(1<<20, 1<<20),
		gov.Auditor().RegisterFill,
		func(string) {},
	)
	return gov, exec, shadow
}
