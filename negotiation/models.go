package negotiation

import (
	"time"

	"skillbarter/exchange"
)

// Status is the negotiation session state.
type Status string

const (
	StatusDrafting    Status = "drafting"
	StatusNegotiating Status = "negotiating"
	StatusAgreed      Status = "agreed"
	StatusCompleted   Status = "completed"
)

// EffectSuccessCounters marks that both participants' success counters
// were incremented for this session.
const EffectSuccessCounters = "success_counters"

// RoleTerms are the terms one participant offers.
type RoleTerms struct {
	Description  string        `json:"description"`
	Deliverables []Deliverable `json:"deliverables"`
	SkillID      *string       `json:"skillId,omitempty"`
	Hours        float64       `json:"hours"`
}

// Terms are the full deal terms of a session.
type Terms struct {
	Initiator       RoleTerms  `json:"initiator"`
	Recipient       RoleTerms  `json:"recipient"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	PaymentTimeline string     `json:"paymentTimeline"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	Method          string     `json:"method"`
}

// For returns the terms offered by role.
func (t *Terms) For(role exchange.Role) *RoleTerms {
	if role == exchange.RoleInitiator {
		return &t.Initiator
	}
	return &t.Recipient
}

// Agreement holds the two agreement flags.
type Agreement struct {
	Initiator   bool       `json:"initiator"`
	Recipient   bool       `json:"recipient"`
	InitiatorAt *time.Time `json:"initiatorAt,omitempty"`
	RecipientAt *time.Time `json:"recipientAt,omitempty"`
}

// Both reports whether both participants agreed.
func (a Agreement) Both() bool { return a.Initiator && a.Recipient }

func (a Agreement) agreed(role exchange.Role) bool {
	if role == exchange.RoleInitiator {
		return a.Initiator
	}
	return a.Recipient
}

// Session is the negotiation attached to one exchange.
type Session struct {
	ID          string     `json:"id"`
	ExchangeID  string     `json:"exchangeId"`
	Status      Status     `json:"status"`
	Terms       Terms      `json:"terms"`
	Agreed      Agreement  `json:"agreed"`
	Effects     []string   `json:"-"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StatsUpdated reports whether the success counters were applied.
func (s *Session) StatsUpdated() bool { return s.hasEffect(EffectSuccessCounters) }

func (s *Session) hasEffect(effect string) bool {
	for _, e := range s.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// View is the wire shape of a session.
type View struct {
	Session
	BothAgreed   bool `json:"bothAgreed"`
	StatsUpdated bool `json:"statsUpdated"`
}

// ViewOf renders s for callers.
func ViewOf(s Session) View {
	return View{Session: s, BothAgreed: s.Agreed.Both(), StatsUpdated: s.StatsUpdated()}
}

// AgreementView is returned by the agreement endpoints.
type AgreementView struct {
	Agreement
	BothAgreed bool   `json:"bothAgreed"`
	Status     Status `json:"status"`
}

// ConfirmResult reports a confirmation and whether it completed the session.
type ConfirmResult struct {
	Session   View `json:"session"`
	Completed bool `json:"completed"`
}
