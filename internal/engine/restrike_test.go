package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsPilot/internal/domain"
)

type restrikeHarness struct {
	mgr        *RestrikeManager
	repo       *mockRepo
	market     *mockMarket
	strategy   *mockStrategy
	risk       *mockRisk
	allowEntry bool
}

func newRestrikeHarness(t *testing.T, mutate func(*Config)) *restrikeHarness {
	t.Helper()

	cfg := Config{Underlying: "NIFTY", StrikeStep: 50}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Normalize())

	h := &restrikeHarness{
		repo:       &mockRepo{},
		market:     &mockMarket{lastPrices: map[string]float64{}},
		strategy:   &mockStrategy{},
		risk:       &mockRisk{},
		allowEntry: true,
	}
	h.mgr = NewRestrikeManager(cfg, &mockLogger{}, h.repo, h.market, h.strategy, h.risk,
		func(ctx context.Context) bool { return h.allowEntry }, nil)
	h.mgr.now = fixedClock(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	return h
}

func (h *restrikeHarness) setClock(now time.Time) {
	h.mgr.now = fixedClock(now)
}

func (h *restrikeHarness) holdPosition(symbol string, qty int) {
	h.repo.executedBuys = append(h.repo.executedBuys, &domain.Proposal{
		ID:            symbol,
		Symbol:        symbol,
		InstrumentKey: symbol,
		Side:          domain.Buy,
		Quantity:      qty,
		Status:        domain.StatusExecuted,
	})
}

func TestAtmStrike(t *testing.T) {
	tests := []struct {
		spot float64
		step float64
		want float64
	}{
		{22500, 50, 22500},
		{22524, 50, 22500},
		{22525, 50, 22500}, // exact midpoint rounds down
		{22526, 50, 22550},
		{22549.9, 50, 22550},
		{44950, 100, 44900}, // midpoint on a 100 step also rounds down
		{44951, 100, 45000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, atmStrike(tt.spot, tt.step), "spot=%v step=%v", tt.spot, tt.step)
	}
}

func TestHourBucket(t *testing.T) {
	// March 10 is day 69 of a non-leap year.
	at := time.Date(2025, 3, 10, 10, 5, 0, 0, time.UTC)
	assert.Equal(t, int64(2025_0069_10), hourBucket(at, time.UTC))

	// Same hour, different minute: same bucket.
	assert.Equal(t, hourBucket(at, time.UTC), hourBucket(at.Add(50*time.Minute), time.UTC))

	// Next hour: different bucket.
	assert.NotEqual(t, hourBucket(at, time.UTC), hourBucket(at.Add(time.Hour), time.UTC))

	// The bucket is taken in exchange-local time.
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	assert.Equal(t, int64(2025_0069_15), hourBucket(at, ist)) // 10:05 UTC = 15:35 IST
}

func TestParseStrikeFromSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		want   float64
		ok     bool
	}{
		{"NIFTY22500CE", 22500, true},
		{"NIFTY24AUG22500CE", 22500, true},
		{"BANKNIFTY48200PE", 48200, true},
		{"nifty22500ce", 22500, true},
		{"  NIFTY22500CE  ", 22500, true},
		{"NIFTYCE", 0, false},
		{"NIFTY", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseStrikeFromSymbol(tt.symbol)
		assert.Equal(t, tt.ok, ok, "symbol=%q", tt.symbol)
		assert.Equal(t, tt.want, got, "symbol=%q", tt.symbol)
	}
}

func TestRestrikeAtmShift(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22600, true

	require.NoError(t, h.mgr.Run(context.Background()))

	require.Len(t, h.repo.created, 1)
	exit := h.repo.created[0]
	assert.Equal(t, domain.Sell, exit.Side)
	assert.Equal(t, "NIFTY22500CE", exit.Symbol)
	assert.Equal(t, 50, exit.Quantity)
	assert.Equal(t, domain.StatusPending, exit.Status)
	assert.Equal(t, "RESTRIKE ATM shift 22500->22600", exit.Reason)
	assert.NotEmpty(t, exit.ID)

	// Replacement entries were requested since admission control allowed it.
	assert.Equal(t, 1, h.strategy.generateCalls)

	// The synthesized exit is reported to risk accounting.
	assert.Equal(t, 1, h.risk.restrikeNotes)
}

func TestRestrikeAtmWithinOneStepHolds(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22520, true // ATM stays at 22500

	require.NoError(t, h.mgr.Run(context.Background()))

	assert.Empty(t, h.repo.created)
	assert.Equal(t, 0, h.strategy.generateCalls)
}

func TestRestrikeBlockedEntriesStillExit(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22600, true
	h.allowEntry = false

	require.NoError(t, h.mgr.Run(context.Background()))

	assert.Len(t, h.repo.created, 1, "risk-reducing exits are never blocked")
	assert.Equal(t, 0, h.strategy.generateCalls, "replacements are")
}

func TestRestrikeCheckIntervalGate(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22600, true

	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.mgr.Run(context.Background()))
	require.Len(t, h.repo.created, 1)

	// Ticks inside the check interval do nothing.
	h.setClock(base.Add(2 * time.Minute))
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Len(t, h.repo.created, 1)

	// Past the interval it fires again (cap is 2/hour by default).
	h.setClock(base.Add(6 * time.Minute))
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Len(t, h.repo.created, 2)
}

func TestRestrikeCutoffHour(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22600, true

	h.setClock(time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC))
	require.NoError(t, h.mgr.Run(context.Background()))

	assert.Empty(t, h.repo.created, "at or past the cutoff hour nothing re-strikes")
}

func TestRestrikeHourlyCap(t *testing.T) {
	h := newRestrikeHarness(t, func(c *Config) { c.RestrikeMaxPerHour = 1 })
	h.holdPosition("NIFTY22500CE", 50)
	h.holdPosition("NIFTY22400CE", 50)
	h.market.spot, h.market.haveSpot = 22700, true // both positions shifted

	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Len(t, h.repo.created, 1, "scan stops mid-loop at the cap")

	// Later in the same hour: still capped.
	h.setClock(base.Add(10 * time.Minute))
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Len(t, h.repo.created, 1)

	// The counter resets with the calendar hour.
	h.setClock(base.Add(time.Hour))
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Len(t, h.repo.created, 2)
}

func TestRestrikeDirectionFlip(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22500, true // ATM matches the strike
	h.market.score, h.market.haveScore = 15, true

	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Empty(t, h.repo.created, "first observation only establishes the baseline")

	h.setClock(base.Add(6 * time.Minute))
	h.market.score = -15
	require.NoError(t, h.mgr.Run(context.Background()))

	require.Len(t, h.repo.created, 1)
	assert.Equal(t, "RESTRIKE DIR flip", h.repo.created[0].Reason)
}

func TestRestrikeNoFlipBelowThreshold(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22500, true
	h.market.score, h.market.haveScore = 15, true

	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.mgr.Run(context.Background()))

	// -9 never crossed the -10 threshold; a fade is not a flip.
	h.setClock(base.Add(6 * time.Minute))
	h.market.score = -9
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Empty(t, h.repo.created)

	// Baseline was still updated to -9, so a later -15 is no flip either.
	h.setClock(base.Add(12 * time.Minute))
	h.market.score = -15
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Empty(t, h.repo.created)
}

func TestRestrikeVolatilityBandChange(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("NIFTY22500CE", 50)
	h.market.spot, h.market.haveSpot = 22500, true
	h.market.atrPct, h.market.haveATR = 0.2, true // QUIET

	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.mgr.Run(context.Background()))
	assert.Empty(t, h.repo.created)

	h.setClock(base.Add(6 * time.Minute))
	h.market.atrPct = 1.5 // VOLATILE
	require.NoError(t, h.mgr.Run(context.Background()))

	require.Len(t, h.repo.created, 1)
	assert.Equal(t, "RESTRIKE VOL band QUIET->VOLATILE", h.repo.created[0].Reason)
}

func TestRestrikeUnparseableSymbolSkipped(t *testing.T) {
	h := newRestrikeHarness(t, nil)
	h.holdPosition("WEIRD-SYMBOL", 50)
	h.market.spot, h.market.haveSpot = 22600, true

	require.NoError(t, h.mgr.Run(context.Background()))

	assert.Empty(t, h.repo.created)
}
