// Package timeline records the append-only history of an exchange. Events
// are written in the same transaction as the state change they describe.
package timeline

import (
	"encoding/json"
	"time"
)

const (
	EventExchangeOpened        = "EXCHANGE_OPENED"
	EventExchangeStatusChanged = "EXCHANGE_STATUS_CHANGED"
	EventExchangeAccepted      = "EXCHANGE_ACCEPTED"
	EventTermsEdited           = "TERMS_EDITED"
	EventTermsAgreed           = "TERMS_AGREED"
	EventDeliverableClaimed    = "DELIVERABLE_CLAIMED"
	EventDeliverableUnclaimed  = "DELIVERABLE_UNCLAIMED"
	EventDeliverableConfirmed  = "DELIVERABLE_CONFIRMED"
	EventDeliverableDisputed   = "DELIVERABLE_DISPUTED"
	EventDisputeResolved       = "DISPUTE_RESOLVED"
	EventSessionCompleted      = "SESSION_COMPLETED"
)

// Event is one entry in an exchange's history.
type Event struct {
	ID         int64           `json:"id"`
	ExchangeID string          `json:"exchangeId"`
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	ActorID    *string         `json:"actorId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}
