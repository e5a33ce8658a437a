package main

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"main/internal/codec"
	"main/internal/historian"
	"main/internal/ops"
	"main/internal/physics"
	"main/internal/schema"
)

const (
	testLogPrefix = "replaytest"
	testTickCount = 4000
	testBaseUs    = int64(1_700_000_000_000_000)
)

// writeLog records a deterministic session: a synthetic tick stream
// driven through the same stack the replayer rebuilds, with every tick
// and decision appended to a fresh decision log.
func writeLog(t *testing.T, dir string, cfg ops.Loaded) {
	t.Helper()
	w, err := historian.NewWriter(historian.WriterConfig{
		Dir:        dir,
		FilePrefix: testLogPrefix,
		QueueSize:  4 * testTickCount,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))

	engine := physics.NewEngine(replayPhysicsWindow)
	gov, exec, shadow := buildStack(cfg, testBaseUs)

	for i := 0; i < testTickCount; i++ {
		ts := testBaseUs + int64(i)*100_000
		price := 30_000 + 50*math.Sin(float64(i)/40) + 10*math.Sin(float64(i)/7)
		tick := schema.Tick{TimestampUs: ts, Price: price, Size: 1, Side: schema.SideBuy}

		state := engine.Update(tick)
		exec.Ledger().MarkPrice(cfg.LiveSymbol, tick.Price)
		shadow.SetMark(tick.Price)

		d := gov.Decide(ctx, state, exec.Ledger().Account(), exec.Ledger().Position(cfg.LiveSymbol), ts)

		th := schema.NewHeader(schema.EventTick, 1, d.GSID, tick.TimestampUs, ts)
		require.NoError(t, w.TryAppend(th, codec.EncodeTick(nil, tick)))
		dh := schema.NewHeader(schema.EventDecision, 1, d.GSID, d.TimestampUs, ts)
		require.NoError(t, w.TryAppend(dh, codec.EncodeDecision(nil, d)))

		leg := gov.Legislator().State()
		_ = exec.Execute(ctx, d, leg)
		if leg.SnapToBreakeven {
			_ = exec.SnapToBreakeven(ctx, tick.Price, ts)
		}
		exec.Chase(ctx, tick.Price, ts)
	}
	require.NoError(t, w.Close())
}

func TestReplayReproducesRecordedDecisions(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ops.Resolve(ops.FileConfig{Mode: "sim", LiveSymbol: "XBT/USD"})
	require.NoError(t, err)

	writeLog(t, dir, cfg)

	recorded, err := historian.BuildDecisionMap(dir, testLogPrefix)
	require.NoError(t, err)
	require.Len(t, recorded, testTickCount)

	first, ticks, err := recompute(cfg, dir, testLogPrefix)
	require.NoError(t, err)
	require.Equal(t, testTickCount, ticks)
	require.Empty(t, recorded.Diff(first), "recorded and recomputed decision streams must match")

	second, _, err := recompute(cfg, dir, testLogPrefix)
	require.NoError(t, err)
	require.Empty(t, first.Diff(second), "two replays of the same log must agree")
}
