package engine

import (
	"fmt"
	"time"
)

// Config carries the orchestrator's policy knobs. Every numeric policy
// constant is configurable; the defaults below are applied by Normalize.
type Config struct {
	Underlying string // e.g. "NIFTY"
	LotSize    int    // contracts per lot, used to report open lot usage

	TickInterval     time.Duration // fast tick driving the full sequence
	AnalysisInterval time.Duration // slow tick refreshing observability signals

	ScanLimit      int // max PENDING proposals fetched per tick (clamped to >= 1)
	MaxExecPerTick int // max successful executions per tick

	// Exit-plan trailing policy. The stop-loss hint is authored at
	// SLEntryRatio below entry; trailing to breakeven arms once price
	// reaches entry * TrailTriggerRatio.
	SLEntryRatio      float64
	TrailTriggerRatio float64

	// Re-strike policy.
	RestrikeCheckInterval  time.Duration
	RestrikeCutoffHour     int // exchange-local hour at/after which re-strikes stop
	RestrikeMaxPerHour     int
	StrikeStep             float64
	ATMShiftSteps          int
	DirectionFlipThreshold int

	// Volatility band edges (ATR%).
	VolQuietMaxPct    float64
	VolVolatileMinPct float64

	// Exchange-local timezone for the re-strike cutoff and hour buckets.
	Location *time.Location
}

// Normalize fills zero-valued fields with defaults and validates the rest.
func (c *Config) Normalize() error {
	if c.Underlying == "" {
		return fmt.Errorf("engine config: Underlying must be set")
	}
	if c.LotSize < 1 {
		c.LotSize = 1
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = 15 * time.Second
	}
	if c.ScanLimit < 1 {
		c.ScanLimit = 10
	}
	if c.MaxExecPerTick < 1 {
		c.MaxExecPerTick = 2
	}
	if c.SLEntryRatio <= 0 || c.SLEntryRatio >= 1 {
		c.SLEntryRatio = 0.75
	}
	if c.TrailTriggerRatio <= 1 {
		c.TrailTriggerRatio = 1.20
	}
	if c.RestrikeCheckInterval <= 0 {
		c.RestrikeCheckInterval = 5 * time.Minute
	}
	if c.RestrikeCutoffHour <= 0 {
		c.RestrikeCutoffHour = 15
	}
	if c.RestrikeMaxPerHour <= 0 {
		c.RestrikeMaxPerHour = 2
	}
	if c.StrikeStep <= 0 {
		return fmt.Errorf("engine config: StrikeStep must be positive")
	}
	if c.ATMShiftSteps <= 0 {
		c.ATMShiftSteps = 1
	}
	if c.DirectionFlipThreshold <= 0 {
		c.DirectionFlipThreshold = 10
	}
	if c.VolQuietMaxPct <= 0 {
		c.VolQuietMaxPct = 0.30
	}
	if c.VolVolatileMinPct <= 0 {
		c.VolVolatileMinPct = 1.00
	}
	if c.VolQuietMaxPct >= c.VolVolatileMinPct {
		return fmt.Errorf("engine config: VolQuietMaxPct must be below VolVolatileMinPct")
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return nil
}
