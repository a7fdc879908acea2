package negotiation

import (
	"time"

	"skillbarter/apperr"
	"skillbarter/exchange"
)

var (
	ErrSessionNotFound  = apperr.New(apperr.KindNotFound, "negotiation: session not found")
	ErrTermsLocked      = apperr.New(apperr.KindPreconditionFailed, "negotiation: terms are locked once agreed")
	ErrAlreadyAgreed    = apperr.New(apperr.KindPreconditionFailed, "negotiation: already agreed")
	ErrNoDeliverables   = apperr.New(apperr.KindPreconditionFailed, "negotiation: at least one deliverable is required")
	ErrNotAgreed        = apperr.New(apperr.KindPreconditionFailed, "negotiation: terms are not agreed")
	ErrSessionCompleted = apperr.New(apperr.KindPreconditionFailed, "negotiation: session already completed")
	ErrBadIndex         = apperr.New(apperr.KindValidation, "negotiation: deliverable index out of range")
)

func newSession(id, exchangeID string, now time.Time) Session {
	return Session{
		ID:         id,
		ExchangeID: exchangeID,
		Status:     StatusDrafting,
		Terms: Terms{
			Initiator: RoleTerms{Deliverables: []Deliverable{}},
			Recipient: RoleTerms{Deliverables: []Deliverable{}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) editable() bool {
	return s.Status == StatusDrafting || s.Status == StatusNegotiating
}

// Edit applies cmd for role. Any accepted edit clears both agreement flags
// and moves the session back to negotiating, including from agreed. The
// caller locks the terms once the exchange is accepted.
func (s *Session) Edit(role exchange.Role, cmd Command, now time.Time) error {
	if s.Status == StatusCompleted {
		return ErrTermsLocked
	}
	if !cmd.permits(role) {
		return ErrFieldForbidden
	}
	if err := cmd.apply(&s.Terms, role); err != nil {
		return err
	}
	s.Agreed = Agreement{}
	s.Status = StatusNegotiating
	s.UpdatedAt = now
	return nil
}

// Agree records role's agreement and reports whether both sides now agree.
func (s *Session) Agree(role exchange.Role, now time.Time) (bool, error) {
	if s.Agreed.agreed(role) {
		return false, ErrAlreadyAgreed
	}
	if !s.editable() {
		return false, ErrTermsLocked
	}
	if len(s.Terms.Initiator.Deliverables)+len(s.Terms.Recipient.Deliverables) == 0 {
		return false, ErrNoDeliverables
	}
	if role == exchange.RoleInitiator {
		s.Agreed.Initiator = true
		s.Agreed.InitiatorAt = &now
	} else {
		s.Agreed.Recipient = true
		s.Agreed.RecipientAt = &now
	}
	s.UpdatedAt = now
	if !s.Agreed.Both() {
		if s.Status == StatusDrafting {
			s.Status = StatusNegotiating
		}
		return false, nil
	}
	s.Status = StatusAgreed
	return true, nil
}

// Act applies a deliverable action to the deliverable at index on owner's
// list. Deliverables only move once the terms are agreed.
func (s *Session) Act(owner exchange.Role, index int, a Action, actorID, reason string, now time.Time) (Deliverable, error) {
	switch s.Status {
	case StatusAgreed:
	case StatusCompleted:
		return Deliverable{}, ErrSessionCompleted
	default:
		return Deliverable{}, ErrNotAgreed
	}
	list := s.Terms.For(owner).Deliverables
	if index < 0 || index >= len(list) {
		return Deliverable{}, ErrBadIndex
	}
	next, err := list[index].apply(a, actorID, reason, now)
	if err != nil {
		return Deliverable{}, err
	}
	list[index] = next
	s.UpdatedAt = now
	return next, nil
}

// AllConfirmed reports whether every deliverable on both lists is confirmed.
func (s *Session) AllConfirmed() bool {
	total := 0
	for _, role := range []exchange.Role{exchange.RoleInitiator, exchange.RoleRecipient} {
		for _, d := range s.Terms.For(role).Deliverables {
			if d.State != DeliverableConfirmed {
				return false
			}
			total++
		}
	}
	return total > 0
}

// Complete marks the session completed. completed reports a status change;
// countersDue reports that the success counters still have to be applied,
// and records them as applied. Without credit the counters are left alone.
func (s *Session) Complete(now time.Time, credit bool) (completed, countersDue bool) {
	if s.Status != StatusCompleted {
		s.Status = StatusCompleted
		s.CompletedAt = &now
		s.UpdatedAt = now
		completed = true
	}
	if credit && !s.hasEffect(EffectSuccessCounters) {
		s.Effects = append(s.Effects, EffectSuccessCounters)
		countersDue = true
	}
	return completed, countersDue
}
