package telemetry

// Degradations are the flags folded into the sanity score each cycle.
type Degradations struct {
	Blind         bool
	StaleCycle    bool
	KinematicVeto bool
	FeedGap       bool
	QueueDrops    bool
	VenueLagging  bool
	DriftScore    float64
}

// SanityScore condenses the degradation flags into one [0,1] health
// number for the frame: 1 is a fully healthy cycle. A blind cycle that
// also trips a kinematic veto lands below 0.5, the operator alert line.
func SanityScore(d Degradations) float64 {
	score := 1.0
	if d.Blind {
		score -= 0.30
	}
	if d.StaleCycle {
		score -= 0.25
	}
	if d.KinematicVeto {
		score -= 0.25
	}
	if d.FeedGap {
		score -= 0.15
	}
	if d.QueueDrops {
		score -= 0.10
	}
	if d.VenueLagging {
		score -= 0.10
	}
	if d.DriftScore > 0 {
		score -= 0.15 * d.DriftScore
	}
	if score < 0 {
		return 0
	}
	return score
}
