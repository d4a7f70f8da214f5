package domain

import "time"

// Side represents the direction of a proposal (BUY or SELL).
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ProposalStatus represents the lifecycle status of a trade proposal.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "PENDING"
	StatusExecuted  ProposalStatus = "EXECUTED"
	StatusCancelled ProposalStatus = "CANCELLED"
	StatusFailed    ProposalStatus = "FAILED"
)

// Proposal is a candidate trade instruction awaiting execution ("advice").
// The engine reads/writes status transitions through the repository port;
// it never owns the storage.
type Proposal struct {
	ID            string
	Symbol        string // Option symbol, e.g. "NIFTY24AUG22500CE"
	InstrumentKey string // Broker instrument identifier used for orders and quotes
	Side          Side
	Quantity      int    // Contract quantity (lots * lot size)
	Reason        string // Free text; may embed an exit hint (see ParseExitHint)
	Status        ProposalStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPending checks if the proposal is still awaiting execution.
func (p *Proposal) IsPending() bool {
	return p.Status == StatusPending
}
