package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prom is the Prometheus face of the kernel: drop classes, sanity,
// and cycle latency exported for scraping. Hot-path code updates the
// atomic Metrics; a slow bridge loop mirrors them here.
type Prom struct {
	TickDrops      prometheus.Counter
	FrameDrops     prometheus.Counter
	FeedGaps       prometheus.Counter
	BudgetOverruns prometheus.Counter
	SanityScore    prometheus.Gauge
	DriftScore     prometheus.Gauge
	RatchetLevel   prometheus.Gauge
	StaircaseTier  prometheus.Gauge
	CycleSeconds   prometheus.Histogram

	Registry *prometheus.Registry
}

// NewProm registers the kernel metrics on a fresh registry.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prom{
		TickDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reflex", Name: "tick_drops_total",
			Help: "Ticks dropped before reaching the decision loop.",
		}),
		FrameDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reflex", Name: "frame_drops_total",
			Help: "Telemetry frames dropped at consumer boundaries.",
		}),
		FeedGaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reflex", Name: "feed_gaps_total",
			Help: "Detected gaps in the venue feed sequence.",
		}),
		BudgetOverruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reflex", Name: "cycle_budget_overruns_total",
			Help: "Cycles that exceeded the tick-to-trade budget.",
		}),
		SanityScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reflex", Name: "sanity_score",
			Help: "Aggregate health of the last cycle, 1 is healthy.",
		}),
		DriftScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reflex", Name: "drift_score",
			Help: "Model drift from fill slippage, 0 is calibrated.",
		}),
		RatchetLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reflex", Name: "ratchet_level",
			Help: "Operational severity: 0 idle, 1 tighten, 2 freeze, 3 kill.",
		}),
		StaircaseTier: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reflex", Name: "staircase_tier",
			Help: "Current risk staircase tier index.",
		}),
		CycleSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reflex", Name: "cycle_seconds",
			Help:    "Tick-to-act cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Registry: reg,
	}
}
