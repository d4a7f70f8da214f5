package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsPilot/internal/domain"
)

// registerProtectedPlan seeds a plan whose SL leg is live at the broker.
// SLInitial 75 with the default 0.75 entry ratio puts estimated entry at
// 100 and the trailing trigger at 120.
func registerProtectedPlan(h *testHarness, ttlMinutes int) {
	plan := domain.NewExitPlan("NIFTY22500CE", 50,
		domain.ExitHint{StopLoss: 75, TakeProfit: 130, TTLMinutes: ttlMinutes}, h.now)
	plan.SLOrderID = "SL-1"
	h.eng.ExitPlans().Register(plan)
	h.orders.working["SL-1"] = true
}

func TestSweepTrailToBreakeven(t *testing.T) {
	ctx := context.Background()

	t.Run("below trigger, no amend", func(t *testing.T) {
		h := newHarness(t, nil)
		registerProtectedPlan(h, 35)
		h.market.lastPrices["NIFTY22500CE"] = 119.99

		h.eng.sweepExitPlans(ctx)

		assert.Empty(t, h.orders.amends)
		plan, _ := h.eng.ExitPlans().Get("NIFTY22500CE")
		assert.Equal(t, 75.0, plan.SLLive)
	})

	t.Run("at trigger, SL moves to estimated entry", func(t *testing.T) {
		h := newHarness(t, nil)
		registerProtectedPlan(h, 35)
		h.market.lastPrices["NIFTY22500CE"] = 120

		h.eng.sweepExitPlans(ctx)

		require.Len(t, h.orders.amends, 1)
		assert.Equal(t, amendedOrder{"SL-1", 100}, h.orders.amends[0])
		plan, _ := h.eng.ExitPlans().Get("NIFTY22500CE")
		assert.Equal(t, 100.0, plan.SLLive)
	})

	t.Run("already at breakeven, never amends again", func(t *testing.T) {
		h := newHarness(t, nil)
		registerProtectedPlan(h, 35)
		h.market.lastPrices["NIFTY22500CE"] = 125

		h.eng.sweepExitPlans(ctx)
		h.eng.sweepExitPlans(ctx)
		h.eng.sweepExitPlans(ctx)

		assert.Len(t, h.orders.amends, 1, "SLLive only ever ratchets up once to entry")
	})

	t.Run("amend failure leaves the plan unchanged", func(t *testing.T) {
		h := newHarness(t, nil)
		registerProtectedPlan(h, 35)
		h.market.lastPrices["NIFTY22500CE"] = 125
		h.orders.amendErr = errors.New("venue rejected amend")

		h.eng.sweepExitPlans(ctx)

		plan, _ := h.eng.ExitPlans().Get("NIFTY22500CE")
		assert.Equal(t, 75.0, plan.SLLive, "store must reflect the broker, not the intent")
	})

	t.Run("no quote, no action", func(t *testing.T) {
		h := newHarness(t, nil)
		registerProtectedPlan(h, 35)

		h.eng.sweepExitPlans(ctx)

		assert.Empty(t, h.orders.amends)
	})
}

func TestSweepTimeStop(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, nil)
	registerProtectedPlan(h, 35)
	h.market.lastPrices["NIFTY22500CE"] = 140

	// Past the TTL the sweep forces the SL to the traded price, even though
	// 140 is well above the trailing target.
	h.setClock(h.now.Add(36 * time.Minute))
	h.eng.sweepExitPlans(ctx)

	require.Len(t, h.orders.amends, 1)
	assert.Equal(t, amendedOrder{"SL-1", 140}, h.orders.amends[0])

	// Still working at the broker: the plan survives this sweep.
	_, ok := h.eng.ExitPlans().Get("NIFTY22500CE")
	assert.True(t, ok, "removal is deferred until the order stops working")

	// The forced amend filled; the next sweep reconciles and removes.
	h.orders.working["SL-1"] = false
	h.eng.sweepExitPlans(ctx)

	_, ok = h.eng.ExitPlans().Get("NIFTY22500CE")
	assert.False(t, ok)
}

func TestSweepTimeStopWithoutQuoteSkipsForce(t *testing.T) {
	h := newHarness(t, nil)
	registerProtectedPlan(h, 35)

	h.setClock(h.now.Add(36 * time.Minute))
	h.eng.sweepExitPlans(context.Background())

	assert.Empty(t, h.orders.amends)
	_, ok := h.eng.ExitPlans().Get("NIFTY22500CE")
	assert.True(t, ok)
}

func TestSweepCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("unprotected plan is never removed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.eng.ExitPlans().Register(domain.NewExitPlan("NIFTY22500CE", 50,
			domain.ExitHint{StopLoss: 75, TakeProfit: 130, TTLMinutes: 35}, h.now))

		h.eng.sweepExitPlans(ctx)

		assert.Equal(t, 1, h.eng.ExitPlans().Len())
	})

	t.Run("one working leg keeps the plan", func(t *testing.T) {
		h := newHarness(t, nil)
		plan := domain.NewExitPlan("NIFTY22500CE", 50,
			domain.ExitHint{StopLoss: 75, TakeProfit: 130, TTLMinutes: 35}, h.now)
		plan.SLOrderID = "SL-1"
		plan.TPOrderID = "TP-1"
		h.eng.ExitPlans().Register(plan)
		h.orders.working["SL-1"] = false
		h.orders.working["TP-1"] = true

		h.eng.sweepExitPlans(ctx)

		assert.Equal(t, 1, h.eng.ExitPlans().Len())
	})

	t.Run("no working legs removes the plan", func(t *testing.T) {
		h := newHarness(t, nil)
		plan := domain.NewExitPlan("NIFTY22500CE", 50,
			domain.ExitHint{StopLoss: 75, TakeProfit: 130, TTLMinutes: 35}, h.now)
		plan.SLOrderID = "SL-1"
		plan.TPOrderID = "TP-1"
		h.eng.ExitPlans().Register(plan)

		h.eng.sweepExitPlans(ctx)

		assert.Equal(t, 0, h.eng.ExitPlans().Len())
	})

	t.Run("status query failure counts as not working", func(t *testing.T) {
		h := newHarness(t, nil)
		registerProtectedPlan(h, 35)
		h.orders.workingErrs = map[string]error{"SL-1": errors.New("venue timeout")}

		h.eng.sweepExitPlans(ctx)

		assert.Equal(t, 0, h.eng.ExitPlans().Len(),
			"a dead order ID must not pin the plan forever")
	})
}

func TestSweepReportsLotsUsed(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.LotSize = 50 })
	ctx := context.Background()

	registerProtectedPlan(h, 35)
	h.eng.sweepExitPlans(ctx)
	assert.Equal(t, 1, h.risk.lastLotsUsed, "one 50-contract plan is one lot")

	h.eng.ExitPlans().Remove("NIFTY22500CE")
	h.eng.sweepExitPlans(ctx)
	assert.Equal(t, 0, h.risk.lastLotsUsed)
}
