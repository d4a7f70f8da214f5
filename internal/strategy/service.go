package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/ports"
)

// Config holds the proposal generator's policy.
type Config struct {
	Underlying string
	StrikeStep float64
	LotSize    int
	Lots       int
	// Exit hint authoring: stop-loss at SLRatio of entry premium, target
	// at TPRatio. The engine's trailing logic assumes SLRatio when it
	// estimates entry from a hint; the two are configured together.
	SLRatio    float64
	TPRatio    float64
	TTLMinutes int
	// MinScore is the direction-score magnitude required for an entry.
	MinScore int
	// Volatility band edges for the cached signal view.
	VolQuietMaxPct    float64
	VolVolatileMinPct float64
}

// Service implements ports.StrategyService: a single-underlying ATM option
// buyer driven by the direction score. Signal quality is not its job; it
// exists so the engine has a complete collaborator behind the port.
type Service struct {
	cfg       Config
	logger    ports.Logger
	market    ports.MarketDataClient
	proposals ports.ProposalRepository

	mu    sync.RWMutex
	cache SignalCache
	now   func() time.Time
}

// SignalCache is the lightweight downstream view refreshed by the
// engine's analysis ticks.
type SignalCache struct {
	DirectionScore int
	AtrPercent     float64
	Band           domain.VolatilityBand
	RefreshedAt    time.Time
}

var _ ports.StrategyService = (*Service)(nil)

// New creates the strategy service.
func New(cfg Config, logger ports.Logger, market ports.MarketDataClient, proposals ports.ProposalRepository) (*Service, error) {
	if cfg.Underlying == "" || cfg.StrikeStep <= 0 || cfg.LotSize <= 0 {
		return nil, fmt.Errorf("strategy config: Underlying, StrikeStep and LotSize are required")
	}
	if cfg.Lots <= 0 {
		cfg.Lots = 1
	}
	if cfg.SLRatio <= 0 || cfg.SLRatio >= 1 {
		cfg.SLRatio = 0.75
	}
	if cfg.TPRatio <= 1 {
		cfg.TPRatio = 1.30
	}
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = 35
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 10
	}
	if cfg.VolQuietMaxPct <= 0 {
		cfg.VolQuietMaxPct = 0.30
	}
	if cfg.VolVolatileMinPct <= 0 {
		cfg.VolVolatileMinPct = 1.00
	}
	return &Service{cfg: cfg, logger: logger, market: market, proposals: proposals, now: time.Now}, nil
}

// GenerateProposalsNow evaluates the current signal and persists at most
// one new BUY proposal. Returns the count created.
func (s *Service) GenerateProposalsNow(ctx context.Context) (int, error) {
	score, ok := s.market.GetDirectionScore(ctx)
	if !ok {
		s.logger.Debug(ctx, "strategy: no direction score available, skipping")
		return 0, nil
	}
	if score > -s.cfg.MinScore && score < s.cfg.MinScore {
		return 0, nil
	}
	spot, ok := s.market.GetSpotPrice(ctx)
	if !ok {
		return 0, nil
	}

	strike := math.Round(spot/s.cfg.StrikeStep) * s.cfg.StrikeStep
	optType := "CE"
	if score < 0 {
		optType = "PE"
	}
	symbol := fmt.Sprintf("%s%.0f%s", s.cfg.Underlying, strike, optType)

	dup, err := s.alreadyHolding(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("strategy: duplicate check: %w", err)
	}
	if dup {
		return 0, nil
	}

	premium, ok := s.market.GetLastPrice(ctx, symbol)
	if !ok || premium <= 0 {
		s.logger.Debug(ctx, "strategy: no premium quote, skipping", map[string]interface{}{"symbol": symbol})
		return 0, nil
	}

	now := s.now()
	p := &domain.Proposal{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		InstrumentKey: symbol,
		Side:          domain.Buy,
		Quantity:      s.cfg.Lots * s.cfg.LotSize,
		Reason: fmt.Sprintf("score=%d spot=%.2f | EXIT: SL=%.2f, TP=%.2f, TTL=%dm",
			score, spot, premium*s.cfg.SLRatio, premium*s.cfg.TPRatio, s.cfg.TTLMinutes),
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.proposals.Create(ctx, p); err != nil {
		return 0, fmt.Errorf("strategy: persisting proposal: %w", err)
	}
	s.logger.Info(ctx, "strategy: proposal created", map[string]interface{}{
		"symbol": symbol,
		"score":  score,
		"qty":    p.Quantity,
	})
	return 1, nil
}

// alreadyHolding reports whether an open or pending BUY already covers the symbol.
func (s *Service) alreadyHolding(ctx context.Context, symbol string) (bool, error) {
	open, err := s.proposals.FindExecutedBuys(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range open {
		if p.Symbol == symbol {
			return true, nil
		}
	}
	pending, err := s.proposals.FindPending(ctx, 50)
	if err != nil {
		return false, err
	}
	for _, p := range pending {
		if p.Symbol == symbol && p.Side == domain.Buy {
			return true, nil
		}
	}
	return false, nil
}

// RefreshSignalCaches recomputes the lightweight signal view.
func (s *Service) RefreshSignalCaches(ctx context.Context) error {
	score, haveScore := s.market.GetDirectionScore(ctx)
	atrPct, haveATR := s.market.GetAtrPercent(ctx)
	if !haveScore && !haveATR {
		return fmt.Errorf("strategy: no signals available")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if haveScore {
		s.cache.DirectionScore = score
	}
	if haveATR {
		s.cache.AtrPercent = atrPct
		s.cache.Band = domain.ClassifyVolatility(atrPct, s.cfg.VolQuietMaxPct, s.cfg.VolVolatileMinPct)
	}
	s.cache.RefreshedAt = s.now()
	return nil
}

// Signals returns the cached signal view.
func (s *Service) Signals() SignalCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}
