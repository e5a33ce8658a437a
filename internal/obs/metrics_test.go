package obs

import (
	"sync"
	"testing"
	"time"

	"main/internal/schema"
)

func TestLatencyStatsAggregation(t *testing.T) {
	var l LatencyStats
	for _, d := range []time.Duration{5 * time.Millisecond, time.Millisecond, 9 * time.Millisecond} {
		l.Observe(d)
	}
	snap := l.Snapshot()
	if snap.Count != 3 {
		t.Fatalf("count = %d, want 3", snap.Count)
	}
	if snap.Min != time.Millisecond || snap.Max != 9*time.Millisecond {
		t.Fatalf("min/max = %v/%v", snap.Min, snap.Max)
	}
	if snap.Avg != 5*time.Millisecond {
		t.Fatalf("avg = %v, want 5ms", snap.Avg)
	}
}

func TestBudgetOverrunCounted(t *testing.T) {
	m := NewMetrics()
	m.ObserveCycle(10*time.Millisecond, 19*time.Millisecond)
	m.ObserveCycle(25*time.Millisecond, 19*time.Millisecond)
	if got := m.Snapshot().BudgetOverruns; got != 1 {
		t.Fatalf("overruns = %d, want 1", got)
	}
}

func TestConcurrentCounters(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.ObserveEvent(schema.EventTick)
				m.ObserveReasons([]schema.Reason{schema.ReasonSignal})
				m.IncTickDrop()
			}
		}()
	}
	wg.Wait()
	snap := m.Snapshot()
	if snap.EventCounts[schema.EventTick] != 8000 {
		t.Fatalf("event count = %d, want 8000", snap.EventCounts[schema.EventTick])
	}
	if snap.ReasonCounts[schema.ReasonSignal] != 8000 {
		t.Fatalf("reason count = %d, want 8000", snap.ReasonCounts[schema.ReasonSignal])
	}
	if snap.TickDrops != 8000 {
		t.Fatalf("tick drops = %d, want 8000", snap.TickDrops)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(schema.EventTick)
	m.IncTickDrop()
	m.ObserveCycle(time.Millisecond, time.Millisecond)
	if snap := m.Snapshot(); snap.TickDrops != 0 {
		t.Fatal("nil metrics should be inert")
	}
}

func TestTraceIDsUnique(t *testing.T) {
	g := NewTraceIDGen()
	seen := make(map[uint64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate trace id %d", id)
		}
		seen[id] = struct{}{}
	}
}
