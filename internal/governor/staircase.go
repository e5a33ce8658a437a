package governor

import (
	"math"

	"main/internal/schema"
)

const (
	// stableCyclesToPromote is the consecutive stable streak required
	// to climb one tier.
	stableCyclesToPromote = 50

	stableEntropyMax    = 0.3
	stableEfficiencyMin = 0.85
	stableJerkMax       = 10.0

	// demoteCooldownUs holds the staircase at the floor after a
	// demotion.
	demoteCooldownUs = int64(600 * 1e6)
)

// Staircase earns position size tier by tier and surrenders it all at
// once. Promotion is slow and consecutive; demotion is instant and
// total.
type Staircase struct {
	tier     schema.RiskTier
	streak   uint32
	cooldown int64

	// warmupUntilUs locks the staircase at the floor after process
	// start.
	warmupUntilUs int64
}

// NewStaircase starts at the floor tier with a warm-up lockout ending
// at the given time.
func NewStaircase(warmupUntilUs int64) *Staircase {
	return &Staircase{tier: schema.TierQ0, warmupUntilUs: warmupUntilUs}
}

// Observe folds one completed cycle into the streak. A stable cycle is
// low entropy, high efficiency, calm jerk, and veto-free; anything else
// resets the streak without demoting.
func (s *Staircase) Observe(p schema.PhysicsState, vetoed bool, nowUs int64) {
	if nowUs < s.warmupUntilUs || nowUs < s.cooldown {
		s.streak = 0
		return
	}
	stable := !vetoed &&
		p.Entropy < stableEntropyMax &&
		p.Efficiency > stableEfficiencyMin &&
		math.Abs(p.Jerk) < stableJerkMax
	if !stable {
		s.streak = 0
		return
	}
	s.streak++
	if s.streak >= stableCyclesToPromote && s.tier < schema.TierMax {
		s.tier++
		s.streak = 0
	}
}

// Demote drops to the floor tier and starts the cooldown. Idempotent
// while already cooling down.
func (s *Staircase) Demote(nowUs int64) {
	s.tier = schema.TierQ0
	s.streak = 0
	if until := nowUs + demoteCooldownUs; until > s.cooldown {
		s.cooldown = until
	}
}

// Tier returns the current tier.
func (s *Staircase) Tier() schema.RiskTier {
	return s.tier
}

// InWarmup reports whether the start-of-process lockout is active.
func (s *Staircase) InWarmup(nowUs int64) bool {
	return nowUs < s.warmupUntilUs
}

// State returns the published staircase snapshot.
func (s *Staircase) State() schema.StaircaseState {
	return schema.StaircaseState{
		Tier:            s.tier,
		Progress:        s.streak,
		CooldownUntilUs: s.cooldown,
	}
}
