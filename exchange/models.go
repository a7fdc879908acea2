package exchange

import "time"

// Status is the lifecycle state of an exchange.
type Status string

const (
	StatusPending           Status = "pending"
	StatusNegotiating       Status = "negotiating"
	StatusPendingAcceptance Status = "pending_acceptance"
	StatusAccepted          Status = "accepted"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
)

// Role is one of the two fixed participant slots.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleRecipient Role = "recipient"
)

// Counter returns the opposite slot.
func (r Role) Counter() Role {
	if r == RoleInitiator {
		return RoleRecipient
	}
	return RoleInitiator
}

// Valid reports whether r names a participant slot.
func (r Role) Valid() bool { return r == RoleInitiator || r == RoleRecipient }

// Participant holds a user reference and the user's external identity id.
type Participant struct {
	UserID     string `json:"userId"`
	ExternalID string `json:"externalId"`
}

// Acceptance is the two-party acceptance record.
type Acceptance struct {
	InitiatorAccepted   bool       `json:"initiatorAccepted"`
	InitiatorAcceptedAt *time.Time `json:"initiatorAcceptedAt,omitempty"`
	RecipientAccepted   bool       `json:"recipientAccepted"`
	RecipientAcceptedAt *time.Time `json:"recipientAcceptedAt,omitempty"`
	FullyAcceptedAt     *time.Time `json:"fullyAcceptedAt,omitempty"`
}

// Accepted reports whether role has accepted.
func (a Acceptance) Accepted(role Role) bool {
	if role == RoleInitiator {
		return a.InitiatorAccepted
	}
	return a.RecipientAccepted
}

// Both reports whether both halves are set.
func (a Acceptance) Both() bool { return a.InitiatorAccepted && a.RecipientAccepted }

// NegotiationMetadata mirrors the negotiation progress onto the exchange.
type NegotiationMetadata struct {
	Completed   bool       `json:"negotiationCompleted"`
	CompletedAt *time.Time `json:"negotiationCompletedAt,omitempty"`
	Rounds      int        `json:"rounds"`
	LastUpdate  *time.Time `json:"lastUpdate,omitempty"`
}

// DisputeStatus is the derived dispute flag.
type DisputeStatus struct {
	HasDispute bool `json:"hasDispute"`
}

// Exchange is the outer contract between two participants.
type Exchange struct {
	ID               string              `json:"id"`
	Initiator        Participant         `json:"initiator"`
	Recipient        Participant         `json:"recipient"`
	InitiatorSkillID *string             `json:"initiatorSkillId,omitempty"`
	RecipientSkillID *string             `json:"recipientSkillId,omitempty"`
	Status           Status              `json:"status"`
	Acceptance       Acceptance          `json:"acceptance"`
	Negotiation      NegotiationMetadata `json:"negotiationMetadata"`
	Dispute          DisputeStatus       `json:"disputeStatus"`
	CancelledBy      *string             `json:"cancelledBy,omitempty"`
	CancelledAt      *time.Time          `json:"cancelledAt,omitempty"`
	CancelReason     *string             `json:"cancelReason,omitempty"`
	StatusUpdatedAt  time.Time           `json:"statusUpdatedAt"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// RoleOf resolves the slot held by userID.
func (e *Exchange) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case e.Initiator.UserID:
		return RoleInitiator, true
	case e.Recipient.UserID:
		return RoleRecipient, true
	}
	return "", false
}

// Participant returns the participant in role.
func (e *Exchange) Participant(role Role) Participant {
	if role == RoleInitiator {
		return e.Initiator
	}
	return e.Recipient
}

// NegotiationState is what the exchange needs to know about its session.
type NegotiationState struct {
	Exists     bool
	BothAgreed bool
	Completed  bool
}

// OpenParams starts a first contact between the caller and a recipient.
type OpenParams struct {
	RecipientID      string  `json:"recipientId"`
	InitiatorSkillID *string `json:"initiatorSkillId,omitempty"`
	RecipientSkillID *string `json:"recipientSkillId,omitempty"`
}

// ListFilter narrows the caller's exchanges.
type ListFilter struct {
	Role   Role
	Status Status
	Limit  int
}

// AcceptResult reports the outcome of an accept call.
type AcceptResult struct {
	Exchange     Exchange `json:"exchange"`
	BothAccepted bool     `json:"bothAccepted"`
}
