package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	maxEventType = int(schema.EventSovereign)
	maxReason    = int(schema.ReasonDriftDemotion)
)

// Metrics collects lightweight counters and latency stats on the hot
// path. Everything is atomic; Snapshot is the only allocation point.
type Metrics struct {
	eventCounts  [maxEventType + 1]uint64
	reasonCounts [maxReason + 1]uint64

	tickDrops  uint64
	frameDrops uint64
	feedGaps   uint64

	cycleLatency   LatencyStats
	orientLatency  LatencyStats
	actLatency     LatencyStats
	budgetOverruns uint64
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures current metric values.
type Snapshot struct {
	EventCounts    map[schema.EventType]uint64
	ReasonCounts   map[schema.Reason]uint64
	TickDrops      uint64
	FrameDrops     uint64
	FeedGaps       uint64
	BudgetOverruns uint64
	CycleLatency   LatencySnapshot
	OrientLatency  LatencySnapshot
	ActLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts one event by type.
func (m *Metrics) ObserveEvent(t schema.EventType) {
	if m == nil {
		return
	}
	if idx := int(t); idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// ObserveReasons counts every reason attached to a decision.
func (m *Metrics) ObserveReasons(reasons []schema.Reason) {
	if m == nil {
		return
	}
	for _, r := range reasons {
		if idx := int(r); idx >= 0 && idx < len(m.reasonCounts) {
			atomic.AddUint64(&m.reasonCounts[idx], 1)
		}
	}
}

// IncTickDrop records a dropped tick.
func (m *Metrics) IncTickDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tickDrops, 1)
}

// IncFrameDrop records a dropped telemetry frame.
func (m *Metrics) IncFrameDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.frameDrops, 1)
}

// IncFeedGap records a detected feed sequence gap.
func (m *Metrics) IncFeedGap() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.feedGaps, 1)
}

// ObserveCycle records one full tick-to-act duration and flags budget
// overruns.
func (m *Metrics) ObserveCycle(d, budget time.Duration) {
	if m == nil {
		return
	}
	m.cycleLatency.Observe(d)
	if budget > 0 && d > budget {
		atomic.AddUint64(&m.budgetOverruns, 1)
	}
}

// ObserveOrient records the cognition fetch duration.
func (m *Metrics) ObserveOrient(d time.Duration) {
	if m == nil {
		return
	}
	m.orientLatency.Observe(d)
}

// ObserveAct records the order placement duration.
func (m *Metrics) ObserveAct(d time.Duration) {
	if m == nil {
		return
	}
	m.actLatency.Observe(d)
}

// Snapshot returns a copy of the current metric values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	events := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			events[schema.EventType(i)] = v
		}
	}
	reasons := make(map[schema.Reason]uint64)
	for i := range m.reasonCounts {
		if v := atomic.LoadUint64(&m.reasonCounts[i]); v > 0 {
			reasons[schema.Reason(i)] = v
		}
	}
	return Snapshot{
		EventCounts:    events,
		ReasonCounts:   reasons,
		TickDrops:      atomic.LoadUint64(&m.tickDrops),
		FrameDrops:     atomic.LoadUint64(&m.frameDrops),
		FeedGaps:       atomic.LoadUint64(&m.feedGaps),
		BudgetOverruns: atomic.LoadUint64(&m.budgetOverruns),
		CycleLatency:   m.cycleLatency.Snapshot(),
		OrientLatency:  m.orientLatency.Snapshot(),
		ActLatency:     m.actLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}
	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
