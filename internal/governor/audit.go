package governor

const (
	// driftAlpha is the exponential weight: each fill contributes a
	// tenth of its drift sample and the rest decays.
	driftAlpha = 0.1

	driftDemoteThreshold = 0.10
	driftTightenLevel    = 0.30

	// driftBandFloor is the minimum forecast half band, as a fraction
	// of price, used to normalize slippage. Guards against a degenerate
	// (p10, p90) interval blowing the sample up.
	driftBandFloor = 1e-4
)

// Auditor tracks model drift as an exponentially weighted score of
// realized fills against the forecast quantile band. A fill landing on
// the predicted price contributes 0; adverse slippage as wide as the
// forecast band contributes 1. Score runs from 0 (fills match
// forecasts) to 1 (model broken). Crossing the demote threshold drops
// the staircase; crossing the tighten level raises the ratchet.
type Auditor struct {
	band  float64
	score float64
}

// NewAuditor allocates an auditor with no drift observed.
func NewAuditor() *Auditor {
	return &Auditor{}
}

// ObserveForecast records the cognition quantiles the next fills will
// be judged against. Quantiles must be ordered and price positive;
// anything else keeps the previous band.
func (a *Auditor) ObserveForecast(p10, p50, p90, price float64) {
	if price <= 0 || p10 > p50 || p50 > p90 || p90 <= p10 {
		return
	}
	a.band = (p90 - p10) / 2 / price
}

// RegisterFill folds one fill into the drift score. Favorable or exact
// fills decay the score; adverse slippage feeds it in proportion to
// the forecast band.
func (a *Auditor) RegisterFill(predicted, filled float64, buy bool) {
	if predicted <= 0 {
		return
	}
	adverse := (filled - predicted) / predicted
	if !buy {
		adverse = -adverse
	}
	var sample float64
	if adverse > 0 {
		band := a.band
		if band < driftBandFloor {
			band = driftBandFloor
		}
		sample = adverse / band
		if sample > 1 {
			sample = 1
		}
	}
	a.score = (1-driftAlpha)*a.score + driftAlpha*sample
}

// Score returns the current drift score.
func (a *Auditor) Score() float64 {
	return a.score
}

// ShouldDemote reports whether drift warrants dropping the staircase.
func (a *Auditor) ShouldDemote() bool {
	return a.score > driftDemoteThreshold
}

// ShouldTighten reports whether drift warrants raising the ratchet.
func (a *Auditor) ShouldTighten() bool {
	return a.score > driftTightenLevel
}
