package domain

// RiskSnapshot is the risk collaborator's view of the account, refreshed
// once per tick. The engine treats it as a read-only value object; derived
// loss figures are fed back through a separate update call.
type RiskSnapshot struct {
	RiskBudgetLeft     float64
	DailyLossPct       float64
	LotsUsed           *int     // nil when the venue does not report lot usage
	LotsCap            *int     // nil when no cap is configured
	OrdersPerMinPct    *float64 // nil when order-rate tracking is unavailable
	MinutesSinceLastSL int
	RestrikesToday     int
}

// Headroom reports whether remaining budget, lot capacity and order-rate
// capacity all permit new entries. A nil optional field counts as headroom.
func (s RiskSnapshot) Headroom() bool {
	if s.RiskBudgetLeft <= 0 {
		return false
	}
	if s.LotsUsed != nil && s.LotsCap != nil && *s.LotsUsed >= *s.LotsCap {
		return false
	}
	if s.OrdersPerMinPct != nil && *s.OrdersPerMinPct >= 100 {
		return false
	}
	return true
}

// VolatilityBand classifies the current market regime by ATR%.
type VolatilityBand string

const (
	BandQuiet    VolatilityBand = "QUIET"
	BandNormal   VolatilityBand = "NORMAL"
	BandVolatile VolatilityBand = "VOLATILE"
)

// ClassifyVolatility maps an ATR percentage onto a band using the
// configured edges (quietMax default 0.30, volatileMin default 1.00).
func ClassifyVolatility(atrPct, quietMax, volatileMin float64) VolatilityBand {
	switch {
	case atrPct <= quietMax:
		return BandQuiet
	case atrPct >= volatileMin:
		return BandVolatile
	default:
		return BandNormal
	}
}

// PortfolioSummary is the portfolio collaborator's per-day aggregate.
type PortfolioSummary struct {
	DayPnL         float64
	DayPnLPct      float64
	PositionsCount int
}
