package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/monitor"
	"optionsPilot/internal/ports"
)

// RestrikeManager detects that an open option position's strike has become
// stale relative to the market (spot moved, direction flipped, volatility
// regime changed) and replaces it. It runs once per tick from the tick
// goroutine only, so its state needs no synchronization.
type RestrikeManager struct {
	cfg       Config
	logger    ports.Logger
	proposals ports.ProposalRepository
	market    ports.MarketDataClient
	strategy  ports.StrategyService
	risk      ports.RiskService
	metrics   *monitor.Metrics // optional

	// entryAllowed is the orchestrator's admission-control query: false
	// while the risk circuit is open or headroom is exhausted.
	entryAllowed func(ctx context.Context) bool

	// State, mutated once per invocation.
	lastCheckAt   time.Time
	countThisHour int
	hourBucketKey int64
	lastScore     *int
	lastBand      *domain.VolatilityBand

	now func() time.Time // injectable clock for tests
}

// NewRestrikeManager wires a manager; policy comes from the engine Config.
func NewRestrikeManager(
	cfg Config,
	logger ports.Logger,
	proposals ports.ProposalRepository,
	market ports.MarketDataClient,
	strategy ports.StrategyService,
	risk ports.RiskService,
	entryAllowed func(ctx context.Context) bool,
	metrics *monitor.Metrics,
) *RestrikeManager {
	return &RestrikeManager{
		cfg:          cfg,
		logger:       logger,
		proposals:    proposals,
		market:       market,
		strategy:     strategy,
		risk:         risk,
		metrics:      metrics,
		entryAllowed: entryAllowed,
		now:          time.Now,
	}
}

// hourBucket identifies a calendar hour in exchange-local time.
func hourBucket(t time.Time, loc *time.Location) int64 {
	lt := t.In(loc)
	return int64(lt.Year())*1_000_000 + int64(lt.YearDay())*100 + int64(lt.Hour())
}

// atmStrike rounds spot to the nearest strike step, ties rounding down.
func atmStrike(spot, step float64) float64 {
	q := spot / step
	fl := math.Floor(q)
	if q-fl > 0.5 {
		fl++
	}
	return fl * step
}

// parseStrikeFromSymbol extracts the strike from an option symbol such as
// "NIFTY24AUG22500CE" (trailing digit run before the CE/PE suffix).
// Returns false when the symbol encodes no parseable strike.
func parseStrikeFromSymbol(symbol string) (float64, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "CE") || strings.HasSuffix(s, "PE") {
		s = s[:len(s)-2]
	}
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	strike, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil || strike <= 0 {
		return 0, false
	}
	return strike, true
}

// Run performs one rate-gated re-strike pass. Gate order: check interval,
// exchange-local cutoff, hourly cap. The hourly counter resets when the
// calendar-hour bucket changes.
func (m *RestrikeManager) Run(ctx context.Context) error {
	now := m.now()

	if !m.lastCheckAt.IsZero() && now.Sub(m.lastCheckAt) < m.cfg.RestrikeCheckInterval {
		return nil
	}
	m.lastCheckAt = now

	local := now.In(m.cfg.Location)
	if local.Hour() >= m.cfg.RestrikeCutoffHour {
		m.logger.Debug(ctx, "restrike: past exchange cutoff, skipping", map[string]interface{}{"hour": local.Hour()})
		return nil
	}

	bucket := hourBucket(now, m.cfg.Location)
	if bucket != m.hourBucketKey {
		m.hourBucketKey = bucket
		m.countThisHour = 0
	}
	if m.countThisHour >= m.cfg.RestrikeMaxPerHour {
		m.logger.Debug(ctx, "restrike: hourly cap reached, skipping", map[string]interface{}{"count": m.countThisHour})
		return nil
	}

	// Decision inputs for this invocation.
	spot, haveSpot := m.market.GetSpotPrice(ctx)
	score, haveScore := m.market.GetDirectionScore(ctx)
	atrPct, haveATR := m.market.GetAtrPercent(ctx)

	var atm float64
	if haveSpot {
		atm = atmStrike(spot, m.cfg.StrikeStep)
	}
	var band *domain.VolatilityBand
	if haveATR {
		b := domain.ClassifyVolatility(atrPct, m.cfg.VolQuietMaxPct, m.cfg.VolVolatileMinPct)
		band = &b
	}

	flip := false
	if haveScore && m.lastScore != nil {
		th := m.cfg.DirectionFlipThreshold
		flip = (*m.lastScore >= th && score <= -th) || (*m.lastScore <= -th && score >= th)
	}
	bandChanged := band != nil && m.lastBand != nil && *band != *m.lastBand

	exits, err := m.scanPositions(ctx, haveSpot, atm, flip, bandChanged, band)

	if exits > 0 {
		if m.entryAllowed(ctx) {
			created, genErr := m.strategy.GenerateProposalsNow(ctx)
			if genErr != nil {
				m.logger.Error(ctx, genErr, "restrike: replacement generation failed")
			} else {
				m.logger.Info(ctx, "restrike: replacement entries generated", map[string]interface{}{"created": created})
			}
		} else {
			m.logger.Info(ctx, "restrike: replacements skipped, no entry headroom")
		}
	}

	// Persist comparison baselines regardless of whether anything fired.
	if haveScore {
		m.lastScore = &score
	}
	if band != nil {
		m.lastBand = band
	}
	return err
}

// scanPositions walks EXECUTED BUY proposals and synthesizes SELL exits for
// any position a trigger qualifies, stopping at the hourly cap mid-loop.
func (m *RestrikeManager) scanPositions(ctx context.Context, haveSpot bool, atm float64, flip, bandChanged bool, band *domain.VolatilityBand) (int, error) {
	open, err := m.proposals.FindExecutedBuys(ctx)
	if err != nil {
		return 0, fmt.Errorf("restrike: listing open positions: %w", err)
	}

	exits := 0
	for _, pos := range open {
		if m.countThisHour >= m.cfg.RestrikeMaxPerHour {
			break
		}
		strike, ok := parseStrikeFromSymbol(pos.Symbol)
		if !ok {
			continue
		}

		trigger := ""
		switch {
		case haveSpot && math.Abs(strike-atm) >= float64(m.cfg.ATMShiftSteps)*m.cfg.StrikeStep:
			trigger = fmt.Sprintf("ATM shift %.0f->%.0f", strike, atm)
		case flip:
			trigger = "DIR flip"
		case bandChanged:
			trigger = fmt.Sprintf("VOL band %s->%s", *m.lastBand, *band)
		}
		if trigger == "" {
			continue
		}

		now := m.now()
		exit := &domain.Proposal{
			ID:            uuid.NewString(),
			Symbol:        pos.Symbol,
			InstrumentKey: pos.InstrumentKey,
			Side:          domain.Sell,
			Quantity:      pos.Quantity,
			Reason:        "RESTRIKE " + trigger,
			Status:        domain.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := m.proposals.Create(ctx, exit); err != nil {
			m.logger.Error(ctx, err, "restrike: failed to create exit proposal", map[string]interface{}{"symbol": pos.Symbol})
			continue
		}
		m.countThisHour++
		exits++
		m.risk.NoteRestrike(ctx, m.cfg.Underlying)
		if m.metrics != nil {
			m.metrics.RestrikesTotal.Inc()
		}
		m.logger.Info(ctx, "restrike: exit proposal created", map[string]interface{}{
			"symbol":  pos.Symbol,
			"trigger": trigger,
			"hourly":  m.countThisHour,
		})
	}
	return exits, nil
}
