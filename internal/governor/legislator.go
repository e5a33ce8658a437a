package governor

import (
	"sync"

	"main/internal/schema"
)

const (
	aggressionMin = 0.1
	aggressionMax = 2.0
)

// Legislator holds the operator policy. Writes arrive only from the
// sovereign control plane; the decision loop reads a copy per cycle.
type Legislator struct {
	mu    sync.RWMutex
	state schema.LegislativeState
}

// NewLegislator starts with neutral policy at unit aggression.
func NewLegislator() *Legislator {
	return &Legislator{state: schema.DefaultLegislativeState()}
}

// State returns a copy of the current policy.
func (l *Legislator) State() schema.LegislativeState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Set replaces the policy, clamping aggression into its legal band.
func (l *Legislator) Set(s schema.LegislativeState) schema.LegislativeState {
	if s.Aggression < aggressionMin {
		s.Aggression = aggressionMin
	}
	if s.Aggression > aggressionMax {
		s.Aggression = aggressionMax
	}
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	return s
}

// permitsOpen reports whether the bias allows opening a position in
// the given direction. Bias never blocks closing trades.
func permitsOpen(bias schema.Bias, side schema.Action) bool {
	switch bias {
	case schema.BiasLongOnly:
		return side != schema.ActionSell
	case schema.BiasShortOnly:
		return side != schema.ActionBuy
	default:
		return true
	}
}
