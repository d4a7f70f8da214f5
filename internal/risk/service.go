package risk

import (
	"context"
	"sync"
	"time"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/ports"
)

// Config holds the static risk limits.
type Config struct {
	DailyBudget     float64 // absolute currency budget for daily losses
	LotsCap         int     // 0 disables lot tracking
	OrdersPerMinCap int     // 0 disables order-rate tracking
	Location        *time.Location
}

// Service implements ports.RiskService: day-bucketed loss accounting with
// rollover on the exchange-local calendar day. It is the simple built-in
// risk computation; the engine only ever sees it through the port.
type Service struct {
	cfg    Config
	logger ports.Logger

	mu             sync.Mutex
	dayKey         string
	dailyLossAbs   float64
	lotsUsed       int
	orderTimes     []time.Time // sliding one-minute window
	lastSLAt       time.Time
	restrikesToday int

	now func() time.Time
}

var _ ports.RiskService = (*Service)(nil)

// NewService creates the risk service.
func NewService(cfg Config, logger ports.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{cfg: cfg, logger: logger, now: time.Now}
	s.dayKey = s.keyFor(s.now())
	return s
}

func (s *Service) keyFor(t time.Time) string {
	return t.In(s.cfg.Location).Format("2006-01-02")
}

// rolloverLocked resets daily counters when the exchange-local day changes.
func (s *Service) rolloverLocked(now time.Time) {
	key := s.keyFor(now)
	if key == s.dayKey {
		return
	}
	s.dayKey = key
	s.dailyLossAbs = 0
	s.restrikesToday = 0
	s.orderTimes = s.orderTimes[:0]
	s.logger.Info(context.Background(), "risk: rolled over to new trading day", map[string]interface{}{"day": key})
}

// RefreshDailyLossFromBroker re-syncs loss figures with the venue. The
// built-in service has no external ledger; the call still performs the
// day-rollover check so a long-running engine resets at the boundary.
func (s *Service) RefreshDailyLossFromBroker(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(s.now())
	return nil
}

// GetSummary returns the current risk snapshot.
func (s *Service) GetSummary(ctx context.Context) (domain.RiskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.rolloverLocked(now)

	snap := domain.RiskSnapshot{
		RiskBudgetLeft:     s.cfg.DailyBudget - s.dailyLossAbs,
		MinutesSinceLastSL: s.minutesSinceLastSLLocked(now),
		RestrikesToday:     s.restrikesToday,
	}
	if s.cfg.DailyBudget > 0 {
		snap.DailyLossPct = s.dailyLossAbs / s.cfg.DailyBudget * 100
	}
	if s.cfg.LotsCap > 0 {
		used, cap := s.lotsUsed, s.cfg.LotsCap
		snap.LotsUsed, snap.LotsCap = &used, &cap
	}
	if s.cfg.OrdersPerMinCap > 0 {
		pct := float64(s.ordersInLastMinuteLocked(now)) / float64(s.cfg.OrdersPerMinCap) * 100
		snap.OrdersPerMinPct = &pct
	}
	return snap, nil
}

// UpdateDailyLossAbs records the absolute daily loss reported by the
// portfolio. The figure replaces the tracked value; it is not additive.
func (s *Service) UpdateDailyLossAbs(ctx context.Context, lossAbs float64) {
	if lossAbs < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyLossAbs = lossAbs
}

// IsDailyCircuitTripped reports whether the daily loss consumed the budget.
func (s *Service) IsDailyCircuitTripped(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.DailyBudget > 0 && s.dailyLossAbs >= s.cfg.DailyBudget, nil
}

// GetMinutesSinceLastSL returns minutes since the last stop-loss fill.
func (s *Service) GetMinutesSinceLastSL(ctx context.Context, underlying string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minutesSinceLastSLLocked(s.now())
}

func (s *Service) minutesSinceLastSLLocked(now time.Time) int {
	if s.lastSLAt.IsZero() {
		return -1
	}
	return int(now.Sub(s.lastSLAt).Minutes())
}

// GetRestrikesToday returns the number of re-strikes performed today.
func (s *Service) GetRestrikesToday(ctx context.Context, underlying string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restrikesToday
}

func (s *Service) ordersInLastMinuteLocked(now time.Time) int {
	cutoff := now.Add(-time.Minute)
	kept := s.orderTimes[:0]
	for _, t := range s.orderTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.orderTimes = kept
	return len(kept)
}

// --- Feed side, called by the engine and adapters as orders happen ---

// NoteOrder records one order toward the per-minute rate.
func (s *Service) NoteOrder(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderTimes = append(s.orderTimes, s.now())
}

// NoteStopLossFill records a stop-loss fill.
func (s *Service) NoteStopLossFill(ctx context.Context, underlying string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSLAt = s.now()
}

// NoteRestrike counts one re-strike for today.
func (s *Service) NoteRestrike(ctx context.Context, underlying string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restrikesToday++
}

// SetLotsUsed updates the current lot usage.
func (s *Service) SetLotsUsed(ctx context.Context, lots int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lotsUsed = lots
}
