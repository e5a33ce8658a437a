package schema

// Side describes the aggressor side of a tick or order.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// Tick is a single normalized trade from the venue feed.
// Created by Ingest; never mutated downstream.
type Tick struct {
	TimestampUs int64
	Price       float64
	Size        float64
	Side        Side
}

// PhysicsState is the per-symbol market kinematics vector.
// All derivatives are finite; LastUpdateUs is monotonically non-decreasing.
type PhysicsState struct {
	Price        float64
	Velocity     float64
	Acceleration float64
	Jerk         float64
	Entropy      float64
	Efficiency   float64
	RealizedVol  float64
	LastUpdateUs int64
	WindowCount  uint32
}

// Warm reports whether the engine has seen a full window of returns.
func (p PhysicsState) Warm(window uint32) bool {
	return p.WindowCount >= window
}

// ContextResponse is the semantic context returned by the cognitive service.
// Absent or stale context puts the governor into Blind Mode.
type ContextResponse struct {
	Sentiment    float64 `json:"sentiment"`
	NearestRegime string `json:"nearest_regime"`
	P10          float64 `json:"p10"`
	P50          float64 `json:"p50"`
	P90          float64 `json:"p90"`
	ValidUntilUs int64   `json:"valid_until_us"`
}

// Stale reports whether the context has expired at the given wall clock.
func (c ContextResponse) Stale(nowUs int64) bool {
	return c.ValidUntilUs > 0 && nowUs > c.ValidUntilUs
}

// ContextRequest is the payload sent to the cognitive service.
type ContextRequest struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Velocity   float64 `json:"velocity"`
	Jerk       float64 `json:"jerk"`
	Entropy    float64 `json:"entropy"`
	Efficiency float64 `json:"efficiency"`
	HorizonSec int     `json:"horizon_sec"`
}

// AccountState is the execution-owned account snapshot.
type AccountState struct {
	Cash          float64 `json:"cash"`
	Equity        float64 `json:"equity"`
	NAV           float64 `json:"nav"`
	HighWaterMark float64 `json:"high_water_mark"`
	DrawdownPct   float64 `json:"drawdown_pct"`
}

// Position is the execution-owned per-symbol position.
type Position struct {
	Symbol        string  `json:"symbol"`
	NetSize       float64 `json:"net_size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	EntryTsUs     int64   `json:"entry_ts_us"`
	CurrentPrice  float64 `json:"current_price"`
}

// OrderKind selects the execution mode of an order.
type OrderKind uint16

const (
	OrderKindUnknown OrderKind = iota
	OrderKindMaker
	OrderKindMarketIOC
)

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusOpen
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

// Order is a shaped order tracked by the execution adapter.
// Order IDs are globally unique and monotonic per process.
type Order struct {
	OrderID    uint64      `json:"order_id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Quantity   float64     `json:"quantity"`
	LimitPrice float64     `json:"limit_price"`
	Kind       OrderKind   `json:"kind"`
	Status     OrderStatus `json:"status"`
	CreatedTs  int64       `json:"created_ts"`
}

// Action is the governor's decision verb.
type Action uint16

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
	ActionHalt
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	case ActionHalt:
		return "HALT"
	default:
		return "HOLD"
	}
}

// Reason is a coarse machine-readable decision reason code.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonSignal
	ReasonWarmup
	ReasonBlindMode
	ReasonStaleCycle
	ReasonKinematicVeto
	ReasonNuclearVeto
	ReasonLegislativeVeto
	ReasonProvisionalCap
	ReasonInsolvency
	ReasonFatFinger
	ReasonSovereignHalt
	ReasonHibernation
	ReasonRateExhausted
	ReasonAccountDrift
	ReasonDeadman
	ReasonDriftDemotion
	ReasonDrawdownFloor
)

func (r Reason) String() string {
	switch r {
	case ReasonSignal:
		return "SIGNAL"
	case ReasonWarmup:
		return "WARMUP"
	case ReasonBlindMode:
		return "BLIND_MODE"
	case ReasonStaleCycle:
		return "STALE_CYCLE"
	case ReasonKinematicVeto:
		return "KINEMATIC_VETO"
	case ReasonNuclearVeto:
		return "NUCLEAR_VETO"
	case ReasonLegislativeVeto:
		return "LEGISLATIVE_VETO"
	case ReasonProvisionalCap:
		return "PROVISIONAL_CAP"
	case ReasonInsolvency:
		return "INSOLVENCY"
	case ReasonFatFinger:
		return "FAT_FINGER"
	case ReasonSovereignHalt:
		return "SOVEREIGN_HALT"
	case ReasonHibernation:
		return "HIBERNATION"
	case ReasonRateExhausted:
		return "RATE_EXHAUSTED"
	case ReasonAccountDrift:
		return "ACCOUNT_DRIFT"
	case ReasonDeadman:
		return "DEADMAN"
	case ReasonDriftDemotion:
		return "DRIFT_DEMOTION"
	case ReasonDrawdownFloor:
		return "DRAWDOWN_FLOOR"
	default:
		return "NONE"
	}
}

// Decision is the unit output of one OODA cycle. GSID is strictly
// increasing and gap-free for the process lifetime.
type Decision struct {
	GSID        uint64           `json:"gsid"`
	TimestampUs int64            `json:"timestamp_us"`
	Action      Action           `json:"action"`
	Size        float64          `json:"size"`
	Conviction  float64          `json:"conviction"`
	RiskScalar  float64          `json:"risk_scalar"`
	Reasons     []Reason         `json:"reasons"`
	Physics     PhysicsState     `json:"physics"`
	Context     *ContextResponse `json:"context,omitempty"`
}

// Bias constrains which opening trades legislation permits.
type Bias uint16

const (
	BiasNeutral Bias = iota
	BiasLongOnly
	BiasShortOnly
)

func (b Bias) String() string {
	switch b {
	case BiasLongOnly:
		return "LONG_ONLY"
	case BiasShortOnly:
		return "SHORT_ONLY"
	default:
		return "NEUTRAL"
	}
}

// ParseBias maps the wire string to a Bias, defaulting to neutral.
func ParseBias(s string) Bias {
	switch s {
	case "LONG_ONLY":
		return BiasLongOnly
	case "SHORT_ONLY":
		return BiasShortOnly
	default:
		return BiasNeutral
	}
}

// LegislativeState is the operator policy. Mutated only through the
// authenticated sovereign control plane.
type LegislativeState struct {
	Bias            Bias    `json:"bias"`
	Aggression      float64 `json:"aggression"`
	MakerOnly       bool    `json:"maker_only"`
	Hibernation     bool    `json:"hibernation"`
	SnapToBreakeven bool    `json:"snap_to_breakeven"`
}

// DefaultLegislativeState returns neutral legislation at unit aggression.
func DefaultLegislativeState() LegislativeState {
	return LegislativeState{Bias: BiasNeutral, Aggression: 1.0}
}

// RiskTier indexes the staircase position-size ladder.
type RiskTier uint16

const (
	TierQ0 RiskTier = iota
	TierQ1
	TierQ2
	TierQ3
	TierQ4
	TierMax
)

// MaxLots returns the allowed lot size for the tier.
func (t RiskTier) MaxLots() float64 {
	switch t {
	case TierQ1:
		return 0.05
	case TierQ2:
		return 0.10
	case TierQ3:
		return 0.25
	case TierQ4:
		return 0.50
	case TierMax:
		return 1.00
	default:
		return 0.01
	}
}

func (t RiskTier) String() string {
	switch t {
	case TierQ1:
		return "Q1"
	case TierQ2:
		return "Q2"
	case TierQ3:
		return "Q3"
	case TierQ4:
		return "Q4"
	case TierMax:
		return "MAX"
	default:
		return "Q0"
	}
}

// StaircaseState is the published staircase snapshot.
type StaircaseState struct {
	Tier            RiskTier `json:"tier"`
	Progress        uint32   `json:"progress"`
	CooldownUntilUs int64    `json:"cooldown_until_us"`
}

// RatchetLevel is the monotone operational severity level.
// It can only increase without an explicit operator unfreeze; Kill is
// terminal.
type RatchetLevel uint16

const (
	RatchetIdle RatchetLevel = iota
	RatchetTighten
	RatchetFreeze
	RatchetKill
)

func (r RatchetLevel) String() string {
	switch r {
	case RatchetTighten:
		return "TIGHTEN"
	case RatchetFreeze:
		return "FREEZE"
	case RatchetKill:
		return "KILL"
	default:
		return "IDLE"
	}
}

// ParseRatchetLevel maps the wire string to a level.
func ParseRatchetLevel(s string) (RatchetLevel, bool) {
	switch s {
	case "IDLE":
		return RatchetIdle, true
	case "TIGHTEN":
		return RatchetTighten, true
	case "FREEZE":
		return RatchetFreeze, true
	case "KILL":
		return RatchetKill, true
	default:
		return RatchetIdle, false
	}
}

// Frame is the unit of telemetry fan-out, keyed by GSID.
type Frame struct {
	Version        uint16           `json:"version"`
	GSID           uint64           `json:"gsid"`
	TimestampUs    int64            `json:"timestamp_us"`
	Physics        PhysicsState     `json:"physics"`
	Account        AccountState     `json:"account"`
	Positions      []Position       `json:"positions"`
	Orders         []Order          `json:"orders"`
	Decision       Decision         `json:"decision"`
	ReasoningTrace []string         `json:"reasoning_trace"`
	Legislative    LegislativeState `json:"legislative_state"`
	Staircase      StaircaseState   `json:"staircase_state"`
	Ratchet        RatchetLevel     `json:"ratchet_level"`
	SanityScore    float64          `json:"sanity_score"`
	DriftScore     float64          `json:"drift_score"`
	VenueRTTMs     float64          `json:"venue_rtt_ms"`
}
