package dispute

import (
	"time"

	"skillbarter/exchange"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// DeliverableRef points at the disputed deliverable: the entry at Index on
// Owner's list in the exchange's negotiation session.
type DeliverableRef struct {
	ExchangeID string        `json:"exchangeId"`
	Owner      exchange.Role `json:"ownerRole"`
	Index      int           `json:"deliverableIndex"`
	Title      string        `json:"deliverableTitle"`
}

// Resolution is the administrator ruling.
type Resolution struct {
	Decision   string    `json:"decision"`
	Reasoning  string    `json:"reasoning"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Record mirrors the disputes table.
type Record struct {
	ID           string          `json:"id"`
	ExchangeID   string          `json:"exchangeId"`
	RaisedBy     string          `json:"raisedBy"`
	RaisedByRole exchange.Role   `json:"raisedByRole"`
	Description  string          `json:"description"`
	Evidence     string          `json:"evidence"`
	Ref          *DeliverableRef `json:"deliverable,omitempty"`
	Status       Status          `json:"status"`
	ResolvedBy   *string         `json:"resolvedBy,omitempty"`
	Resolution   *Resolution     `json:"resolution,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ResolveRequest is the administrator input.
type ResolveRequest struct {
	Decision  string `json:"decision"`
	Reasoning string `json:"reasoning"`
}

// ResolveResult reports the resolved dispute and whether the deliverable
// could be reconciled.
type ResolveResult struct {
	Dispute         Record `json:"dispute"`
	Reconciled      bool   `json:"reconciled"`
	ReconcileError  string `json:"reconcileError,omitempty"`
	HasOpenDisputes bool   `json:"hasOpenDisputes"`
}
