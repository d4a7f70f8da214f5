package ports

import (
	"context"

	"optionsPilot/internal/domain"
)

// OrderClient is the brokerage order surface the engine consumes for
// protective-order management. Implementations are expected to handle
// transient-failure retries internally; the engine never retries.
type OrderClient interface {
	// PlaceStopLoss places a stop-loss order and returns its broker ID.
	PlaceStopLoss(ctx context.Context, instrumentKey string, qty int32, triggerPrice float64) (string, error)
	// PlaceTarget places a take-profit order and returns its broker ID.
	PlaceTarget(ctx context.Context, instrumentKey string, qty int32, price float64) (string, error)
	// AmendPrice moves an existing order's trigger/limit price.
	AmendPrice(ctx context.Context, orderID string, price float64) error
	// IsWorking reports whether the broker still considers the order live.
	IsWorking(ctx context.Context, orderID string) (bool, error)
}

// MarketDataClient provides the quotes and regime signals the engine reads.
// Missing data is reported as (0, false) rather than an error so a stale
// feed degrades to "skip this step".
type MarketDataClient interface {
	// GetLastPrice returns the last traded price for an instrument.
	GetLastPrice(ctx context.Context, instrumentKey string) (float64, bool)
	// GetSpotPrice returns the underlying spot price.
	GetSpotPrice(ctx context.Context) (float64, bool)
	// GetDirectionScore returns the current directional score (signed).
	GetDirectionScore(ctx context.Context) (int, bool)
	// GetAtrPercent returns ATR as a percentage of spot.
	GetAtrPercent(ctx context.Context) (float64, bool)
}

// PortfolioService exposes the per-day portfolio aggregate used in the
// tick's finalize step.
type PortfolioService interface {
	GetSummary(ctx context.Context) (domain.PortfolioSummary, error)
}
