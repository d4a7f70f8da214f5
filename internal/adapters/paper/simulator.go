package paper

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/ports"
)

// Simulator drives the paper broker with a random-walk underlying and a
// crude intrinsic-plus-time-value premium for any instrument the engine
// asks about. Good enough to exercise the full control loop without a
// venue; not a market model.
type Simulator struct {
	broker     *Broker
	logger     ports.Logger
	underlying string
	spot       float64
	step       float64
	strikeStep float64
	interval   time.Duration
	rng        *rand.Rand
}

// NewSimulator seeds a simulator at the given spot level.
func NewSimulator(broker *Broker, logger ports.Logger, underlying string, spot, strikeStep float64, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		broker:     broker,
		logger:     logger,
		underlying: underlying,
		spot:       spot,
		step:       spot * 0.0004,
		strikeStep: strikeStep,
		interval:   interval,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run pushes candles and premium quotes until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.advance(now)
		}
	}
}

func (s *Simulator) advance(now time.Time) {
	drift := (s.rng.Float64()*2 - 1) * s.step * 3
	open := s.spot
	s.spot += drift
	high := math.Max(open, s.spot) + s.rng.Float64()*s.step
	low := math.Min(open, s.spot) - s.rng.Float64()*s.step

	s.broker.PushCandle(&domain.Candle{
		OpenTime:  now.Add(-s.interval),
		CloseTime: now,
		Symbol:    s.underlying,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     s.spot,
		Volume:    float64(s.rng.Intn(100000)),
	})

	// Quote the strikes around ATM on both sides.
	atm := math.Round(s.spot/s.strikeStep) * s.strikeStep
	for i := -2; i <= 2; i++ {
		strike := atm + float64(i)*s.strikeStep
		s.quote(strike, "CE", math.Max(s.spot-strike, 0))
		s.quote(strike, "PE", math.Max(strike-s.spot, 0))
	}
}

func (s *Simulator) quote(strike float64, optType string, intrinsic float64) {
	timeValue := s.spot * 0.003 * (0.8 + 0.4*s.rng.Float64())
	symbol := symbolFor(s.underlying, strike, optType)
	s.broker.SetLastPrice(symbol, intrinsic+timeValue)
}

func symbolFor(underlying string, strike float64, optType string) string {
	// Strikes are whole numbers on the venues this targets.
	return underlying + strconv.FormatInt(int64(math.Round(strike)), 10) + optType
}
