package physics

import (
	"math"

	"main/internal/schema"
)

const (
	// DefaultWindow is the return buffer length feeding entropy and
	// efficiency.
	DefaultWindow = 100
	// entropyBins is the histogram resolution for the Shannon estimate.
	entropyBins = 16
	// minDtSec guards the finite-difference denominators against
	// same-microsecond ticks.
	minDtSec = 1e-6
)

// Engine maintains per-symbol market kinematics. All buffers are
// allocated once at construction; Update never allocates.
type Engine struct {
	window int

	returns    []float64
	absDeltas  []float64
	prices     []float64
	head       int
	pricesHead int
	count      int

	histo [entropyBins]float64

	lastPrice float64
	lastTsUs  int64
	velocity  float64
	accel     float64
	jerk      float64

	entropy    float64
	efficiency float64

	// Welford accumulator over log returns.
	welfordN    uint64
	welfordMean float64
	welfordM2   float64

	state schema.PhysicsState
}

// NewEngine allocates an engine with the given return window.
func NewEngine(window int) *Engine {
	if window <= 1 {
		window = DefaultWindow
	}
	return &Engine{
		window:    window,
		returns:   make([]float64, window),
		absDeltas: make([]float64, window),
		prices:    make([]float64, window+1),
	}
}

// Update folds one tick into the kinematic state and returns the new
// snapshot. Ticks with non-positive price are ignored.
func (e *Engine) Update(t schema.Tick) schema.PhysicsState {
	if t.Price <= 0 {
		return e.state
	}
	if e.lastPrice == 0 {
		e.lastPrice = t.Price
		e.lastTsUs = t.TimestampUs
		e.prices[0] = t.Price
		e.state = schema.PhysicsState{Price: t.Price, LastUpdateUs: t.TimestampUs}
		return e.state
	}

	dt := float64(t.TimestampUs-e.lastTsUs) / 1e6
	if dt < minDtSec {
		dt = minDtSec
	}

	r := math.Log(t.Price / e.lastPrice)
	e.pushReturn(r, math.Abs(t.Price-e.lastPrice), t.Price)
	e.observeWelford(r)

	v := r / dt
	a := (v - e.velocity) / dt
	j := (a - e.accel) / dt
	e.velocity, e.accel, e.jerk = v, a, j

	// Entropy feeds a hard veto, so it must reflect the tick that is
	// about to be acted on, not a snapshot from earlier in the window.
	e.entropy = e.shannonEntropy()
	e.efficiency = e.kaufmanEfficiency()

	e.lastPrice = t.Price
	e.lastTsUs = t.TimestampUs

	e.state = schema.PhysicsState{
		Price:        t.Price,
		Velocity:     e.velocity,
		Acceleration: e.accel,
		Jerk:         e.jerk,
		Entropy:      e.entropy,
		Efficiency:   e.efficiency,
		RealizedVol:  e.realizedVol(),
		LastUpdateUs: t.TimestampUs,
		WindowCount:  uint32(e.count),
	}
	return e.state
}

// State returns the latest snapshot without consuming a tick.
func (e *Engine) State() schema.PhysicsState {
	return e.state
}

// Warm reports whether a full return window has been observed.
func (e *Engine) Warm() bool {
	return e.count >= e.window
}

func (e *Engine) pushReturn(r, absDelta, price float64) {
	e.returns[e.head] = r
	e.absDeltas[e.head] = absDelta
	e.head = (e.head + 1) % e.window
	e.pricesHead = (e.pricesHead + 1) % len(e.prices)
	e.prices[e.pricesHead] = price
	if e.count < e.window {
		e.count++
	}
}

func (e *Engine) observeWelford(r float64) {
	e.welfordN++
	delta := r - e.welfordMean
	e.welfordMean += delta / float64(e.welfordN)
	e.welfordM2 += delta * (r - e.welfordMean)
}

func (e *Engine) realizedVol() float64 {
	if e.welfordN < 2 {
		return 0
	}
	return math.Sqrt(e.welfordM2 / float64(e.welfordN-1))
}

// shannonEntropy bins the return buffer and normalizes by ln(bins), so
// the result lands in [0,1]: 0 for a degenerate distribution, 1 for a
// uniform one.
func (e *Engine) shannonEntropy() float64 {
	if e.count < 2 {
		return 0
	}
	lo, hi := e.returns[0], e.returns[0]
	for i := 1; i < e.count; i++ {
		r := e.returns[i]
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	span := hi - lo
	if span <= 0 {
		return 0
	}
	for i := range e.histo {
		e.histo[i] = 0
	}
	for i := 0; i < e.count; i++ {
		bin := int((e.returns[i] - lo) / span * float64(entropyBins))
		if bin >= entropyBins {
			bin = entropyBins - 1
		}
		e.histo[bin]++
	}
	var h float64
	n := float64(e.count)
	for _, c := range e.histo {
		if c == 0 {
			continue
		}
		p := c / n
		h -= p * math.Log(p)
	}
	return h / math.Log(float64(entropyBins))
}

// kaufmanEfficiency is net displacement over path length across the
// window: near 1 for a clean trend, near 0 for churn.
func (e *Engine) kaufmanEfficiency() float64 {
	if e.count < 2 {
		return 0
	}
	var path float64
	for i := 0; i < e.count; i++ {
		path += e.absDeltas[i]
	}
	if path <= 0 {
		return 0
	}
	ring := len(e.prices)
	oldestIdx := ((e.pricesHead-e.count)%ring + ring) % ring
	displacement := math.Abs(e.prices[e.pricesHead] - e.prices[oldestIdx])
	eff := displacement / path
	if eff > 1 {
		eff = 1
	}
	return eff
}
