package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"optionsPilot/internal/domain"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestRiskGateTripped(t *testing.T) {
	tests := []struct {
		name        string
		snap        domain.RiskSnapshot
		wantTripped bool
		wantReasons string
	}{
		{
			name:        "healthy snapshot",
			snap:        domain.RiskSnapshot{RiskBudgetLeft: 5000, DailyLossPct: 40},
			wantTripped: false,
			wantReasons: "",
		},
		{
			name:        "budget exhausted",
			snap:        domain.RiskSnapshot{RiskBudgetLeft: 0, DailyLossPct: 100},
			wantTripped: true,
			wantReasons: "budget_exhausted,daily_loss_cap",
		},
		{
			name:        "budget negative",
			snap:        domain.RiskSnapshot{RiskBudgetLeft: -250, DailyLossPct: 102.5},
			wantTripped: true,
			wantReasons: "budget_exhausted,daily_loss_cap",
		},
		{
			name: "lots cap reached",
			snap: domain.RiskSnapshot{
				RiskBudgetLeft: 5000,
				LotsUsed:       intPtr(4),
				LotsCap:        intPtr(4),
			},
			wantTripped: true,
			wantReasons: "lots_cap",
		},
		{
			name: "lots below cap",
			snap: domain.RiskSnapshot{
				RiskBudgetLeft: 5000,
				LotsUsed:       intPtr(3),
				LotsCap:        intPtr(4),
			},
			wantTripped: false,
			wantReasons: "",
		},
		{
			name: "order rate saturated",
			snap: domain.RiskSnapshot{
				RiskBudgetLeft:  5000,
				OrdersPerMinPct: floatPtr(100),
			},
			wantTripped: true,
			wantReasons: "orders_per_min_cap",
		},
		{
			name: "nil optionals never trip",
			snap: domain.RiskSnapshot{
				RiskBudgetLeft: 5000,
				LotsUsed:       intPtr(9),
				// LotsCap nil: no cap configured
			},
			wantTripped: false,
			wantReasons: "",
		},
		{
			name: "every reason at once",
			snap: domain.RiskSnapshot{
				RiskBudgetLeft:  -1,
				DailyLossPct:    110,
				LotsUsed:        intPtr(4),
				LotsCap:         intPtr(4),
				OrdersPerMinPct: floatPtr(120),
			},
			wantTripped: true,
			wantReasons: "budget_exhausted,daily_loss_cap,lots_cap,orders_per_min_cap",
		},
	}

	var gate RiskGate
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTripped, gate.Tripped(tt.snap))
			assert.Equal(t, tt.wantReasons, gate.TripReasons(tt.snap))
		})
	}
}

func TestRiskGateIsPure(t *testing.T) {
	var gate RiskGate
	snap := domain.RiskSnapshot{RiskBudgetLeft: 0}

	// Same input, same answer, no state carried between calls.
	for i := 0; i < 3; i++ {
		assert.True(t, gate.Tripped(snap))
	}
	assert.False(t, gate.Tripped(domain.RiskSnapshot{RiskBudgetLeft: 1}))
	assert.True(t, gate.Tripped(snap))
}
