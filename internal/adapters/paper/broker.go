package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/indicators"
	"optionsPilot/internal/ports"
)

// Ensure Broker satisfies the ports it claims to implement.
var (
	_ ports.OrderClient      = (*Broker)(nil)
	_ ports.MarketDataClient = (*Broker)(nil)
	_ ports.PortfolioService = (*Broker)(nil)
)

type orderKind string

const (
	kindStopLoss orderKind = "SL"
	kindTarget   orderKind = "TP"
)

type paperOrder struct {
	id            string
	instrumentKey string
	kind          orderKind
	qty           int32
	price         float64
	working       bool
}

// StopLossFillListener is notified once per stop-loss order filled by the
// paper venue, so risk accounting sees fills the way it would from a live
// broker feed.
type StopLossFillListener interface {
	NoteStopLossFill(ctx context.Context, underlying string)
}

// Broker is an in-memory paper brokerage for running the engine without a
// live venue. It holds protective orders, a last-price board for option
// instruments, a spot price for the underlying, and a synthetic candle
// history that feeds the ATR and direction signals.
type Broker struct {
	underlying   string
	atrPeriod    int
	dirWindow    int
	fillListener StopLossFillListener

	mu          sync.RWMutex
	nextOrderID int
	orders      map[string]*paperOrder
	lastPrices  map[string]float64
	spot        float64
	candles     []*domain.Candle
	dayPnL      float64
	positions   int
}

// NewBroker creates a paper broker for one underlying.
func NewBroker(underlying string, atrPeriod, dirWindow int) *Broker {
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	if dirWindow <= 0 {
		dirWindow = 20
	}
	return &Broker{
		underlying:  underlying,
		atrPeriod:   atrPeriod,
		dirWindow:   dirWindow,
		nextOrderID: 1,
		orders:      make(map[string]*paperOrder),
		lastPrices:  make(map[string]float64),
	}
}

// SetFillListener registers the stop-loss fill listener. Must be called
// before the price feed starts; the field is read without a lock.
func (b *Broker) SetFillListener(l StopLossFillListener) {
	b.fillListener = l
}

// --- Feed side (driven by a simulator or a replay file) ---

// SetLastPrice updates the last traded price of an option instrument.
func (b *Broker) SetLastPrice(instrumentKey string, price float64) {
	b.mu.Lock()
	b.lastPrices[instrumentKey] = price
	slFills := b.matchOrdersLocked(instrumentKey, price)
	b.mu.Unlock()
	b.notifyStopFills(slFills)
}

// PushCandle appends an underlying candle and updates spot.
func (b *Broker) PushCandle(c *domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles = append(b.candles, c)
	if max := b.atrPeriod + b.dirWindow + 50; len(b.candles) > max {
		b.candles = b.candles[len(b.candles)-max:]
	}
	b.spot = c.Close
}

// SetDayPnL sets the simulated portfolio day PnL.
func (b *Broker) SetDayPnL(pnl float64, positions int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dayPnL = pnl
	b.positions = positions
}

// matchOrdersLocked fills protective orders crossed by the new price and
// returns the number of stop-loss orders that filled.
func (b *Broker) matchOrdersLocked(instrumentKey string, price float64) int {
	slFills := 0
	for _, o := range b.orders {
		if !o.working || o.instrumentKey != instrumentKey {
			continue
		}
		switch o.kind {
		case kindStopLoss:
			if price <= o.price {
				o.working = false
				slFills++
			}
		case kindTarget:
			if price >= o.price {
				o.working = false
			}
		}
	}
	return slFills
}

func (b *Broker) notifyStopFills(n int) {
	if b.fillListener == nil {
		return
	}
	for i := 0; i < n; i++ {
		b.fillListener.NoteStopLossFill(context.Background(), b.underlying)
	}
}

// --- ports.OrderClient ---

// PlaceStopLoss places a stop-loss order and returns its broker ID.
func (b *Broker) PlaceStopLoss(ctx context.Context, instrumentKey string, qty int32, triggerPrice float64) (string, error) {
	return b.place(instrumentKey, kindStopLoss, qty, triggerPrice)
}

// PlaceTarget places a take-profit order and returns its broker ID.
func (b *Broker) PlaceTarget(ctx context.Context, instrumentKey string, qty int32, price float64) (string, error) {
	return b.place(instrumentKey, kindTarget, qty, price)
}

func (b *Broker) place(instrumentKey string, kind orderKind, qty int32, price float64) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ports.ErrInvalidRequest)
	}
	if price <= 0 {
		return "", fmt.Errorf("%w: price must be positive", ports.ErrInvalidRequest)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("PB-%06d", b.nextOrderID)
	b.nextOrderID++
	b.orders[id] = &paperOrder{
		id:            id,
		instrumentKey: instrumentKey,
		kind:          kind,
		qty:           qty,
		price:         price,
		working:       true,
	}
	return id, nil
}

// AmendPrice moves an existing order's trigger/limit price.
func (b *Broker) AmendPrice(ctx context.Context, orderID string, price float64) error {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("order %s: %w", orderID, ports.ErrOrderNotFound)
	}
	if !o.working {
		b.mu.Unlock()
		return fmt.Errorf("order %s no longer working: %w", orderID, ports.ErrOrderAmendFailed)
	}
	o.price = price
	// An amend to at/through the market fills immediately.
	slFills := 0
	if last, ok := b.lastPrices[o.instrumentKey]; ok {
		slFills = b.matchOrdersLocked(o.instrumentKey, last)
	}
	b.mu.Unlock()
	b.notifyStopFills(slFills)
	return nil
}

// IsWorking reports whether the broker still considers the order live.
func (b *Broker) IsWorking(ctx context.Context, orderID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, ports.ErrOrderNotFound)
	}
	return o.working, nil
}

// --- ports.MarketDataClient ---

// GetLastPrice returns the last traded price for an instrument.
func (b *Broker) GetLastPrice(ctx context.Context, instrumentKey string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.lastPrices[instrumentKey]
	return price, ok
}

// GetSpotPrice returns the underlying spot price.
func (b *Broker) GetSpotPrice(ctx context.Context) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spot, b.spot > 0
}

// GetDirectionScore derives a signed score from the distance between spot
// and its simple moving average, scaled so that ±100 is ±2% displacement.
func (b *Broker) GetDirectionScore(ctx context.Context) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sma, ok := indicators.SMA(b.closesLocked(), b.dirWindow)
	if !ok || sma <= 0 || b.spot <= 0 {
		return 0, false
	}
	score := (b.spot - sma) / sma * 5000
	if score > 100 {
		score = 100
	} else if score < -100 {
		score = -100
	}
	return int(math.Round(score)), true
}

// GetAtrPercent returns ATR as a percentage of spot.
func (b *Broker) GetAtrPercent(ctx context.Context) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	atr, ok := indicators.ATR(b.candles, b.atrPeriod)
	if !ok || b.spot <= 0 {
		return 0, false
	}
	return atr / b.spot * 100, true
}

func (b *Broker) closesLocked() []float64 {
	closes := make([]float64, len(b.candles))
	for i, c := range b.candles {
		closes[i] = c.Close
	}
	return closes
}

// --- ports.PortfolioService ---

// GetSummary returns the simulated day aggregate.
func (b *Broker) GetSummary(ctx context.Context) (domain.PortfolioSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.PortfolioSummary{
		DayPnL:         b.dayPnL,
		DayPnLPct:      0,
		PositionsCount: b.positions,
	}, nil
}

// WorkingOrders counts currently live orders, for tests and the simulator.
func (b *Broker) WorkingOrders() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, o := range b.orders {
		if o.working {
			n++
		}
	}
	return n
}

// Session is a trivial ports.SessionGuard for paper trading: the session
// is valid until the configured expiry, or indefinitely when zero.
type Session struct {
	ExpiresAt time.Time
}

// IsAuthenticated reports whether the paper session is still valid.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}
