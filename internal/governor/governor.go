package governor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/brain"
	"main/internal/schema"
)

const (
	// cycleStalenessUsDefault is the observe-to-act cutoff. A cycle
	// older than this acts on a dead market and must not trade.
	cycleStalenessUsDefault = 150_000

	// Kinematic hard limits.
	jerkVetoLimit    = 50.0
	entropyVetoLimit = 0.90

	// Nuclear double key.
	nuclearSentiment = -0.90
	nuclearOmegaMax  = 1.0

	// softSentimentVeto halves conviction without blocking the trade.
	softSentimentVeto = -0.5

	// blindSizeMultiplier applies while cognition is absent or stale.
	blindSizeMultiplier = 0.5

	// blindMomentumFloor holds a blind cycle flat unless the trend is
	// clearly continuing.
	blindMomentumFloor = 0.4

	// laminarMomentumShift moves the signal blend toward pure momentum
	// when cognition reports a laminar regime.
	laminarMomentumShift = 0.5
)

// Regime labels as cognition reports them.
const (
	regimeLaminar    = "laminar"
	regimeDecoherent = "decoherent"
)

// Config carries the tunables the loop needs each cycle.
type Config struct {
	Symbol            string
	CycleStalenessUs  int64
	VolCeiling        float64
	ContextHorizonSec int

	// DrawdownFloor is the equity drawdown fraction past which opens
	// are blocked and the staircase surrenders. Zero disables.
	DrawdownFloor float64
}

// Governor runs the decide phase: one tick in, one decision out, with
// the veto lattice applied in fixed order. It owns the gsid counter,
// the ratchet, the staircase, and operator policy.
type Governor struct {
	cfg   Config
	brain *brain.Client

	gsid uint64

	ratchet    *Ratchet
	staircase  *Staircase
	legislator *Legislator
	auditor    *Auditor
	deadman    *Deadman

	paused uint32

	// sentimentOverride holds an operator-forced sentiment. NaN bits
	// mean no override.
	sentimentOverride uint64

	lastContext    *schema.ContextResponse
	blindLogged    bool
	staleLogged    bool
	drawdownLogged bool
}

// New wires a governor from its collaborators.
func New(cfg Config, brainClient *brain.Client, ratchet *Ratchet, staircase *Staircase, deadman *Deadman) *Governor {
	if cfg.CycleStalenessUs <= 0 {
		cfg.CycleStalenessUs = cycleStalenessUsDefault
	}
	if cfg.ContextHorizonSec <= 0 {
		cfg.ContextHorizonSec = 60
	}
	g := &Governor{
		cfg:        cfg,
		brain:      brainClient,
		ratchet:    ratchet,
		staircase:  staircase,
		legislator: NewLegislator(),
		auditor:    NewAuditor(),
		deadman:    deadman,
	}
	atomic.StoreUint64(&g.sentimentOverride, math.Float64bits(math.NaN()))
	return g
}

// NextGSID issues the next global sequence id. Strictly monotone and
// gap-free for the process lifetime.
func (g *Governor) NextGSID() uint64 {
	return atomic.AddUint64(&g.gsid, 1)
}

// LastGSID returns the most recently issued id.
func (g *Governor) LastGSID() uint64 {
	return atomic.LoadUint64(&g.gsid)
}

// Ratchet exposes the severity latch.
func (g *Governor) Ratchet() *Ratchet { return g.ratchet }

// Legislator exposes the operator policy holder.
func (g *Governor) Legislator() *Legislator { return g.legislator }

// Auditor exposes the drift tracker.
func (g *Governor) Auditor() *Auditor { return g.auditor }

// Staircase exposes the size ladder.
func (g *Governor) Staircase() *Staircase { return g.staircase }

// Pause suspends trading until Resume. Decisions continue flowing as
// holds so telemetry and the historian stay live.
func (g *Governor) Pause() { atomic.StoreUint32(&g.paused, 1) }

// Resume lifts a pause.
func (g *Governor) Resume() { atomic.StoreUint32(&g.paused, 0) }

// Paused reports the pause flag.
func (g *Governor) Paused() bool { return atomic.LoadUint32(&g.paused) != 0 }

// SetSentimentOverride forces sentiment to v until cleared.
func (g *Governor) SetSentimentOverride(v float64) {
	atomic.StoreUint64(&g.sentimentOverride, math.Float64bits(v))
}

// ClearSentimentOverride restores brain-supplied sentiment.
func (g *Governor) ClearSentimentOverride() {
	atomic.StoreUint64(&g.sentimentOverride, math.Float64bits(math.NaN()))
}

func (g *Governor) overriddenSentiment() (float64, bool) {
	v := math.Float64frombits(atomic.LoadUint64(&g.sentimentOverride))
	return v, !math.IsNaN(v)
}

// Pulse forwards operator liveness to the watchdog.
func (g *Governor) Pulse(nowUs int64) {
	if g.deadman != nil {
		g.deadman.Pulse(nowUs)
	}
}

// Decide runs one cycle: orient against cognition, walk the veto
// lattice, size the intent, and update the staircase. nowUs is the
// act-phase wall clock; p is the freshest kinematic state.
func (g *Governor) Decide(ctx context.Context, p schema.PhysicsState, acct schema.AccountState, pos schema.Position, nowUs int64) schema.Decision {
	d := schema.Decision{
		GSID:        g.NextGSID(),
		TimestampUs: nowUs,
		Action:      schema.ActionHold,
		Physics:     p,
	}

	// Watchdog first: operator silence freezes the kernel.
	if g.deadman.Expired(nowUs) {
		if g.ratchet.Raise(schema.RatchetFreeze) {
			logs.Warn("deadman watchdog expired, freezing")
		}
		d.Reasons = append(d.Reasons, schema.ReasonDeadman)
	}

	// Orient: cognition with a hard deadline, operator override wins.
	cctx := g.orient(ctx, p, nowUs)
	d.Context = cctx
	blind := cctx == nil || cctx.Stale(nowUs)
	if blind {
		d.Reasons = append(d.Reasons, schema.ReasonBlindMode)
		if !g.blindLogged {
			g.blindLogged = true
			logs.Warn("cognition absent, entering blind mode")
		}
	} else if g.blindLogged {
		g.blindLogged = false
		logs.Info("cognition restored, leaving blind mode")
	}
	if !blind {
		g.auditor.ObserveForecast(cctx.P10, cctx.P50, cctx.P90, p.Price)
	}

	// Stale cycle: the observation is too old to act on.
	if p.LastUpdateUs == 0 || nowUs-p.LastUpdateUs > g.cfg.CycleStalenessUs {
		d.Reasons = append(d.Reasons, schema.ReasonStaleCycle)
		if !g.staleLogged {
			g.staleLogged = true
			logs.Warn(fmt.Sprintf("stale cycle: observation %dus old", nowUs-p.LastUpdateUs))
		}
		g.staircase.Observe(p, true, nowUs)
		return d
	}
	g.staleLogged = false

	// Drawdown floor: past it the staircase surrenders its size, and
	// opening trades are blocked further down the lattice.
	ddBreached := g.cfg.DrawdownFloor > 0 && acct.DrawdownPct > g.cfg.DrawdownFloor
	if ddBreached {
		g.staircase.Demote(nowUs)
		if !g.drawdownLogged {
			g.drawdownLogged = true
			logs.Error(fmt.Sprintf("drawdown %.2f%% past floor, opens blocked", acct.DrawdownPct*100))
		}
	} else if g.drawdownLogged {
		g.drawdownLogged = false
		logs.Info("drawdown recovered above floor")
	}

	// 1. Sovereign halt: ratchet at Freeze or above, or paused.
	if g.ratchet.Level() >= schema.RatchetFreeze || g.Paused() {
		d.Reasons = append(d.Reasons, schema.ReasonSovereignHalt)
		g.staircase.Observe(p, true, nowUs)
		return d
	}

	// 2. Nuclear double key: panic sentiment plus violent kinematics
	// plus adverse odds. Checked before the plain kinematic hold, which
	// shares the jerk condition and would otherwise mask the
	// escalation. Flatten and freeze.
	if !blind && g.nuclearVeto(cctx, p) {
		d.Action = schema.ActionHalt
		d.Reasons = append(d.Reasons, schema.ReasonNuclearVeto)
		if g.ratchet.Raise(schema.RatchetFreeze) {
			logs.Error("nuclear veto tripped, flattening and freezing")
		}
		g.staircase.Demote(nowUs)
		return d
	}

	// 3. Kinematic vetoes: unconditional physics limits.
	if vetoed := g.kinematicVeto(p, &d); vetoed {
		g.staircase.Observe(p, true, nowUs)
		return d
	}

	leg := g.legislator.State()
	if leg.Hibernation {
		d.Reasons = append(d.Reasons, schema.ReasonHibernation)
		g.staircase.Observe(p, true, nowUs)
		return d
	}

	// Raw signal.
	action, conviction := g.signal(p, cctx, blind)
	d.Conviction = conviction
	if action == schema.ActionHold {
		d.Reasons = append(d.Reasons, schema.ReasonNone)
		g.staircase.Observe(p, false, nowUs)
		return d
	}

	// 4. Legislative bias: blocks opening trades only.
	opening := isOpening(action, pos)
	if opening && !permitsOpen(leg.Bias, action) {
		d.Reasons = append(d.Reasons, schema.ReasonLegislativeVeto)
		g.staircase.Observe(p, true, nowUs)
		return d
	}

	// 5. Provisional cap: tier lots scaled by aggression, halved blind.
	scalar := leg.Aggression
	if blind {
		scalar *= blindSizeMultiplier
	}
	size := g.staircase.Tier().MaxLots() * scalar * math.Abs(conviction)
	if limit := g.staircase.Tier().MaxLots(); size > limit {
		size = limit
		d.Reasons = append(d.Reasons, schema.ReasonProvisionalCap)
	}
	d.RiskScalar = scalar

	// 6. Insolvency: never size beyond free equity, never open into a
	// breached drawdown floor.
	if opening && acct.NAV > 0 && size*p.Price > acct.NAV {
		d.Reasons = append(d.Reasons, schema.ReasonInsolvency)
		g.staircase.Observe(p, true, nowUs)
		return d
	}
	if opening && ddBreached {
		d.Reasons = append(d.Reasons, schema.ReasonDrawdownFloor)
		g.staircase.Observe(p, true, nowUs)
		return d
	}

	d.Action = action
	d.Size = size
	d.Reasons = append(d.Reasons, schema.ReasonSignal)

	// Drift reactions after the decision so the fill that tripped them
	// is already in history.
	if g.auditor.ShouldTighten() {
		if g.ratchet.Raise(schema.RatchetTighten) {
			logs.Warn("model drift above tighten level")
		}
	} else if g.auditor.ShouldDemote() {
		g.staircase.Demote(nowUs)
		d.Reasons = append(d.Reasons, schema.ReasonDriftDemotion)
	}

	g.staircase.Observe(p, false, nowUs)
	return d
}

// orient fetches cognition and overlays any operator sentiment
// override. The override replaces sentiment on a real, fresh context
// only: it never conjures a context, so an override-only cycle is
// still blind.
func (g *Governor) orient(ctx context.Context, p schema.PhysicsState, nowUs int64) *schema.ContextResponse {
	if g.brain != nil {
		fetched, err := g.brain.Fetch(ctx, schema.ContextRequest{
			Symbol:     g.cfg.Symbol,
			Price:      p.Price,
			Velocity:   p.Velocity,
			Jerk:       p.Jerk,
			Entropy:    p.Entropy,
			Efficiency: p.Efficiency,
			HorizonSec: g.cfg.ContextHorizonSec,
		})
		if err == nil {
			g.lastContext = fetched
		}
	}
	if g.lastContext == nil || g.lastContext.Stale(nowUs) {
		return nil
	}
	if v, ok := g.overriddenSentiment(); ok {
		clone := *g.lastContext
		clone.Sentiment = v
		return &clone
	}
	return g.lastContext
}

func (g *Governor) kinematicVeto(p schema.PhysicsState, d *schema.Decision) bool {
	warm := g.staircase == nil || !g.staircase.InWarmup(p.LastUpdateUs)
	switch {
	case !warm:
		d.Reasons = append(d.Reasons, schema.ReasonWarmup)
	case p.WindowCount < physicsWarmWindow:
		d.Reasons = append(d.Reasons, schema.ReasonWarmup)
	case math.Abs(p.Jerk) > jerkVetoLimit:
		d.Reasons = append(d.Reasons, schema.ReasonKinematicVeto)
	case p.Entropy > entropyVetoLimit:
		d.Reasons = append(d.Reasons, schema.ReasonKinematicVeto)
	case g.cfg.VolCeiling > 0 && p.RealizedVol > g.cfg.VolCeiling:
		d.Reasons = append(d.Reasons, schema.ReasonKinematicVeto)
	default:
		return false
	}
	return true
}

func (g *Governor) nuclearVeto(cctx *schema.ContextResponse, p schema.PhysicsState) bool {
	if cctx.Sentiment >= nuclearSentiment {
		return false
	}
	if math.Abs(p.Jerk) <= jerkVetoLimit {
		return false
	}
	omega := OmegaRatio(cctx.P10, cctx.P50, cctx.P90, p.Price)
	return omega < nuclearOmegaMax
}

// signal blends momentum with mean reversion, weighted by trend
// efficiency and shaded by the cognition regime: a clean trend follows
// velocity, churn fades acceleration, and a decoherent market is not
// traded at all.
func (g *Governor) signal(p schema.PhysicsState, cctx *schema.ContextResponse, blind bool) (schema.Action, float64) {
	// Without cognition, only a clearly continuing trend is tradable.
	if blind && momentumProbability(p) < blindMomentumFloor {
		return schema.ActionHold, 0
	}

	wMomentum := p.Efficiency
	if !blind {
		switch normalizeRegime(cctx.NearestRegime) {
		case regimeDecoherent:
			// High-entropy regime: collapse to cash.
			return schema.ActionHold, 0
		case regimeLaminar:
			wMomentum += (1 - wMomentum) * laminarMomentumShift
		}
	}

	momentum := math.Tanh(p.Velocity * 50)
	meanRev := -math.Tanh(p.Acceleration * 10)
	conviction := wMomentum*momentum + (1-wMomentum)*meanRev

	if !blind && cctx.Sentiment < softSentimentVeto {
		conviction *= 0.5
	}

	switch {
	case conviction > 0.1:
		return schema.ActionBuy, conviction
	case conviction < -0.1:
		return schema.ActionSell, conviction
	default:
		return schema.ActionHold, conviction
	}
}

// momentumProbability is the chance the current move continues: trend
// efficiency signed by velocity, clipped to [0,1]. A downtrend or
// churn both read as low continuation odds.
func momentumProbability(p schema.PhysicsState) float64 {
	v := p.Efficiency
	if p.Velocity < 0 {
		v = -v
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func normalizeRegime(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// physicsWarmWindow mirrors the physics engine default window.
const physicsWarmWindow = 100

// isOpening reports whether the action grows exposure rather than
// reducing it.
func isOpening(action schema.Action, pos schema.Position) bool {
	switch action {
	case schema.ActionBuy:
		return pos.NetSize >= 0
	case schema.ActionSell:
		return pos.NetSize <= 0
	default:
		return false
	}
}
