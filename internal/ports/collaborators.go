package ports

import (
	"context"

	"optionsPilot/internal/domain"
)

// RiskService is the external risk-budget/circuit-breaker computation.
// The engine consumes snapshots and the trip predicate; it never computes
// thresholds itself.
type RiskService interface {
	// RefreshDailyLossFromBroker re-reads realized loss figures from the venue.
	RefreshDailyLossFromBroker(ctx context.Context) error
	// GetSummary returns the current risk snapshot.
	GetSummary(ctx context.Context) (domain.RiskSnapshot, error)
	// UpdateDailyLossAbs feeds an absolute daily-loss figure back in.
	UpdateDailyLossAbs(ctx context.Context, lossAbs float64)
	// IsDailyCircuitTripped reports the venue-side daily kill switch.
	IsDailyCircuitTripped(ctx context.Context) (bool, error)
	// GetMinutesSinceLastSL returns minutes since the last stop-loss fill.
	GetMinutesSinceLastSL(ctx context.Context, underlying string) int
	// GetRestrikesToday returns the number of re-strikes performed today.
	GetRestrikesToday(ctx context.Context, underlying string) int
	// NoteOrder records one venue order toward the per-minute rate.
	NoteOrder(ctx context.Context)
	// NoteStopLossFill records a stop-loss fill for the underlying.
	NoteStopLossFill(ctx context.Context, underlying string)
	// NoteRestrike counts one re-strike against today's allowance.
	NoteRestrike(ctx context.Context, underlying string)
	// SetLotsUsed reports the current open lot usage.
	SetLotsUsed(ctx context.Context, lots int)
}

// StrategyService generates trade proposals on demand.
type StrategyService interface {
	// GenerateProposalsNow runs signal evaluation and persists any new
	// proposals, returning the count created.
	GenerateProposalsNow(ctx context.Context) (int, error)
	// RefreshSignalCaches recomputes lightweight downstream signals
	// (decision quality, risk summary, sentiment). Best-effort.
	RefreshSignalCaches(ctx context.Context) error
}

// ProposalRepository stores trade proposals. The engine only drives
// status transitions; persistence details stay behind this port.
type ProposalRepository interface {
	// Create persists a new proposal.
	Create(ctx context.Context, p *domain.Proposal) error
	// FindAll returns every proposal, newest first.
	FindAll(ctx context.Context) ([]*domain.Proposal, error)
	// FindPending returns up to limit PENDING proposals.
	FindPending(ctx context.Context, limit int) ([]*domain.Proposal, error)
	// FindExecutedBuys returns currently EXECUTED BUY proposals.
	FindExecutedBuys(ctx context.Context) ([]*domain.Proposal, error)
	// Execute transitions a proposal to EXECUTED and performs the trade.
	Execute(ctx context.Context, id string) error
}

// ProposalListener receives proposal lifecycle events from the
// persistence collaborator. Implementations must swallow their own
// errors; a malformed proposal never propagates back to the caller.
type ProposalListener interface {
	OnProposalCreated(p *domain.Proposal)
	OnProposalExecuted(p *domain.Proposal)
}

// SessionGuard reports whether the operator's broker session is valid.
// Every public operation and every tick checks this first.
type SessionGuard interface {
	IsAuthenticated(ctx context.Context) bool
}

// AuditPublisher delivers fire-and-forget audit events to an external
// channel. Implementations must never block the caller.
type AuditPublisher interface {
	Publish(event string, data map[string]interface{})
}
