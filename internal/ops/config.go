package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Mode selects how the kernel touches the outside world.
type Mode uint8

const (
	ModeUnknown Mode = iota
	// ModeSimulation replays or generates ticks locally, fills locally.
	ModeSimulation
	// ModeShadow consumes the live feed but fills locally.
	ModeShadow
	// ModeLive submits real orders. Gated on venue credentials.
	ModeLive
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) Mode {
	switch s {
	case "sim", "simulation":
		return ModeSimulation
	case "shadow":
		return ModeShadow
	case "live":
		return ModeLive
	default:
		return ModeUnknown
	}
}

func (m Mode) String() string {
	switch m {
	case ModeSimulation:
		return "simulation"
	case ModeShadow:
		return "shadow"
	case ModeLive:
		return "live"
	default:
		return "unknown"
	}
}

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Mode               string  `json:"mode"`
	LiveSymbol         string  `json:"live_symbol"`
	JitterThresholdMs  int     `json:"jitter_threshold_ms"`
	CycleStalenessMs   int     `json:"cycle_staleness_ms"`
	WarmupLockoutSec   int     `json:"warmup_lockout_sec"`
	RateBucketCapacity int     `json:"rate_bucket_capacity"`
	RateRefillPerSec   float64 `json:"rate_refill_per_sec"`
	MaxLeverage        float64 `json:"max_leverage"`
	FatFingerCapPct    float64 `json:"fat_finger_cap_pct"`
	DrawdownFloorPct   float64 `json:"drawdown_floor_pct"`
	WatchdogSec        int     `json:"watchdog_sec"`
	VolCeiling         float64 `json:"vol_ceiling"`
	HTTPListen         string  `json:"http_listen"`
	AdminSocket        string  `json:"admin_socket"`
	WALDir             string  `json:"wal_dir"`
	AuditDB            string  `json:"audit_db"`
	SnapshotPath       string  `json:"snapshot_path"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Mode               Mode
	LiveSymbol         string
	JitterThreshold    time.Duration
	CycleStaleness     time.Duration
	WarmupLockout      time.Duration
	RateBucketCapacity int
	RateRefillPerSec   float64
	MaxLeverage        float64
	FatFingerCapPct    float64
	DrawdownFloorPct   float64
	Watchdog           time.Duration
	VolCeiling         float64
	HTTPListen         string
	AdminSocket        string
	WALDir             string
	AuditDB            string
	SnapshotPath       string
}

// Load reads a JSON config file, applies defaults and validates.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve applies defaults to a FileConfig and validates the result.
func Resolve(cfg FileConfig) (Loaded, error) {
	if cfg.JitterThresholdMs == 0 {
		cfg.JitterThresholdMs = 20
	}
	if cfg.CycleStalenessMs == 0 {
		cfg.CycleStalenessMs = 150
	}
	if cfg.WarmupLockoutSec == 0 {
		cfg.WarmupLockoutSec = 300
	}
	if cfg.RateBucketCapacity == 0 {
		cfg.RateBucketCapacity = 20
	}
	if cfg.RateRefillPerSec == 0 {
		cfg.RateRefillPerSec = 10
	}
	if cfg.MaxLeverage == 0 {
		cfg.MaxLeverage = 1.0
	}
	if cfg.FatFingerCapPct == 0 {
		cfg.FatFingerCapPct = 20
	}
	if cfg.DrawdownFloorPct == 0 {
		cfg.DrawdownFloorPct = 2
	}
	if cfg.WatchdogSec == 0 {
		cfg.WatchdogSec = 600
	}
	if cfg.VolCeiling == 0 {
		cfg.VolCeiling = 5.0
	}
	if cfg.HTTPListen == "" {
		cfg.HTTPListen = ":8424"
	}
	if cfg.WALDir == "" {
		cfg.WALDir = "data/wal"
	}
	if cfg.AuditDB == "" {
		cfg.AuditDB = "data/sovereign_audit.db"
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "data/snapshot.json"
	}

	mode := ParseMode(cfg.Mode)
	if mode == ModeUnknown {
		return Loaded{}, fmt.Errorf("unknown mode: %q", cfg.Mode)
	}
	if cfg.LiveSymbol == "" {
		return Loaded{}, fmt.Errorf("live_symbol is empty")
	}
	if cfg.JitterThresholdMs < 0 || cfg.CycleStalenessMs <= 0 || cfg.WarmupLockoutSec < 0 {
		return Loaded{}, fmt.Errorf("timing fields must be positive")
	}
	if cfg.RateBucketCapacity <= 0 || cfg.RateRefillPerSec <= 0 {
		return Loaded{}, fmt.Errorf("rate limiter fields must be > 0")
	}
	if cfg.MaxLeverage <= 0 {
		return Loaded{}, fmt.Errorf("max_leverage must be > 0")
	}
	if cfg.FatFingerCapPct <= 0 || cfg.FatFingerCapPct > 100 {
		return Loaded{}, fmt.Errorf("fat_finger_cap_pct must be in (0, 100]")
	}
	if cfg.DrawdownFloorPct <= 0 || cfg.DrawdownFloorPct > 100 {
		return Loaded{}, fmt.Errorf("drawdown_floor_pct must be in (0, 100]")
	}
	if cfg.WatchdogSec < 0 {
		return Loaded{}, fmt.Errorf("watchdog_sec must be >= 0")
	}

	return Loaded{
		Mode:               mode,
		LiveSymbol:         cfg.LiveSymbol,
		JitterThreshold:    time.Duration(cfg.JitterThresholdMs) * time.Millisecond,
		CycleStaleness:     time.Duration(cfg.CycleStalenessMs) * time.Millisecond,
		WarmupLockout:      time.Duration(cfg.WarmupLockoutSec) * time.Second,
		RateBucketCapacity: cfg.RateBucketCapacity,
		RateRefillPerSec:   cfg.RateRefillPerSec,
		MaxLeverage:        cfg.MaxLeverage,
		FatFingerCapPct:    cfg.FatFingerCapPct,
		DrawdownFloorPct:   cfg.DrawdownFloorPct,
		Watchdog:           time.Duration(cfg.WatchdogSec) * time.Second,
		VolCeiling:         cfg.VolCeiling,
		HTTPListen:         cfg.HTTPListen,
		AdminSocket:        cfg.AdminSocket,
		WALDir:             cfg.WALDir,
		AuditDB:            cfg.AuditDB,
		SnapshotPath:       cfg.SnapshotPath,
	}, nil
}
