package engine

import (
	"strings"

	"optionsPilot/internal/domain"
)

// Trip reason codes, for audit only; control flow uses Tripped.
const (
	reasonBudgetExhausted = "budget_exhausted"
	reasonDailyLossCap    = "daily_loss_cap"
	reasonLotsCap         = "lots_cap"
	reasonOrdersPerMinCap = "orders_per_min_cap"
)

// RiskGate evaluates the circuit-breaker predicate over a risk snapshot.
// It is a pure function of its input; the cached last-known trip flag for
// change detection lives in the orchestrator.
type RiskGate struct{}

// Tripped reports whether new entries must be blocked. Risk-reducing
// actions are never gated on this.
func (RiskGate) Tripped(s domain.RiskSnapshot) bool {
	if s.RiskBudgetLeft <= 0 {
		return true
	}
	if s.DailyLossPct >= 100 {
		return true
	}
	if s.LotsUsed != nil && s.LotsCap != nil && *s.LotsUsed >= *s.LotsCap {
		return true
	}
	if s.OrdersPerMinPct != nil && *s.OrdersPerMinPct >= 100 {
		return true
	}
	return false
}

// TripReasons derives the comma-joined reason codes for an audit event.
func (RiskGate) TripReasons(s domain.RiskSnapshot) string {
	var reasons []string
	if s.RiskBudgetLeft <= 0 {
		reasons = append(reasons, reasonBudgetExhausted)
	}
	if s.DailyLossPct >= 100 {
		reasons = append(reasons, reasonDailyLossCap)
	}
	if s.LotsUsed != nil && s.LotsCap != nil && *s.LotsUsed >= *s.LotsCap {
		reasons = append(reasons, reasonLotsCap)
	}
	if s.OrdersPerMinPct != nil && *s.OrdersPerMinPct >= 100 {
		reasons = append(reasons, reasonOrdersPerMinCap)
	}
	return strings.Join(reasons, ",")
}
