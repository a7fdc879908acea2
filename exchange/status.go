package exchange

import (
	"time"

	"skillbarter/apperr"
)

// allowedTransitions is the forward lifecycle. Pairs absent from the table
// are rejected. The offer-update rollback to negotiating is handled
// separately by ReopenTerms, and idle expiry by Expire.
var allowedTransitions = map[Status][]Status{
	StatusPending:           {StatusNegotiating, StatusCancelled},
	StatusNegotiating:       {StatusPendingAcceptance, StatusCancelled},
	StatusPendingAcceptance: {StatusAccepted, StatusCancelled},
	StatusAccepted:          {StatusInProgress, StatusCancelled},
	StatusInProgress:        {StatusCompleted, StatusCancelled},
}

// Expirable reports whether the sweeper may close an exchange in status s.
// Work that was accepted is never expired.
func (s Status) Expirable() bool {
	return s == StatusPending || s == StatusNegotiating || s == StatusPendingAcceptance
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusNegotiating, StatusPendingAcceptance, StatusAccepted,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (e *Exchange) transition(to Status, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return apperr.Errorf(apperr.KindInvalidTransition, "exchange: invalid transition %s -> %s", e.Status, to)
	}
	e.Status = to
	e.StatusUpdatedAt = now
	e.UpdatedAt = now
	return nil
}

// StartNegotiation promotes pending to negotiating. It is a no-op in any
// other non-terminal state.
func (e *Exchange) StartNegotiation(now time.Time) (bool, error) {
	if e.Status != StatusPending {
		return false, nil
	}
	return true, e.transition(StatusNegotiating, now)
}

// MarkNegotiated moves the exchange to pending_acceptance once both parties
// agree on the terms, and stamps the negotiation as completed.
func (e *Exchange) MarkNegotiated(now time.Time) error {
	if e.Status == StatusPending {
		if err := e.transition(StatusNegotiating, now); err != nil {
			return err
		}
	}
	if e.Status == StatusNegotiating {
		if err := e.transition(StatusPendingAcceptance, now); err != nil {
			return err
		}
	}
	if !e.Negotiation.Completed {
		e.Negotiation.Completed = true
		e.Negotiation.CompletedAt = &now
	}
	return nil
}

// ReopenTerms records an offer update. While acceptance is pending the
// exchange returns to negotiating and both acceptance halves are cleared.
func (e *Exchange) ReopenTerms(now time.Time) (reopened bool, err error) {
	if e.Status.Terminal() {
		return false, apperr.Errorf(apperr.KindInvalidTransition, "exchange: terms cannot change in status %s", e.Status)
	}
	e.Negotiation.Rounds++
	e.Negotiation.LastUpdate = &now
	e.UpdatedAt = now
	if e.Status != StatusPendingAcceptance {
		return false, nil
	}
	e.Status = StatusNegotiating
	e.StatusUpdatedAt = now
	e.Acceptance = Acceptance{}
	e.Negotiation.Completed = false
	e.Negotiation.CompletedAt = nil
	return true, nil
}

// Accept records role's acceptance. The caller has already checked that the
// negotiation is fully agreed.
func (e *Exchange) Accept(role Role, now time.Time) (bool, error) {
	if e.Acceptance.Accepted(role) {
		return false, ErrAlreadyAccepted
	}
	if e.Status == StatusNegotiating {
		if err := e.MarkNegotiated(now); err != nil {
			return false, err
		}
	}
	if e.Status != StatusPendingAcceptance {
		return false, apperr.Errorf(apperr.KindInvalidTransition, "exchange: cannot accept in status %s", e.Status)
	}

	if role == RoleInitiator {
		e.Acceptance.InitiatorAccepted = true
		e.Acceptance.InitiatorAcceptedAt = &now
	} else {
		e.Acceptance.RecipientAccepted = true
		e.Acceptance.RecipientAcceptedAt = &now
	}
	e.UpdatedAt = now

	if !e.Acceptance.Both() {
		return false, nil
	}
	if err := e.transition(StatusAccepted, now); err != nil {
		return false, err
	}
	e.Acceptance.FullyAcceptedAt = &now
	return true, nil
}

// Cancel ends a live exchange.
func (e *Exchange) Cancel(actorID, reason string, now time.Time) error {
	if err := e.transition(StatusCancelled, now); err != nil {
		return err
	}
	e.CancelledBy = &actorID
	e.CancelledAt = &now
	if reason != "" {
		e.CancelReason = &reason
	}
	return nil
}

// Start moves an accepted exchange to in_progress.
func (e *Exchange) Start(now time.Time) error {
	return e.transition(StatusInProgress, now)
}

// Complete finishes the exchange and returns the statuses it passed
// through. An accepted exchange is started first.
func (e *Exchange) Complete(now time.Time) ([]Status, error) {
	var steps []Status
	if e.Status == StatusAccepted {
		if err := e.transition(StatusInProgress, now); err != nil {
			return nil, err
		}
		steps = append(steps, StatusInProgress)
	}
	if err := e.transition(StatusCompleted, now); err != nil {
		return steps, err
	}
	return append(steps, StatusCompleted), nil
}

// Expire closes an idle exchange. It is only reachable from the sweeper,
// so it does not go through the caller-facing table.
func (e *Exchange) Expire(now time.Time) error {
	if !e.Status.Expirable() {
		return apperr.Errorf(apperr.KindInvalidTransition, "exchange: cannot expire in status %s", e.Status)
	}
	e.Status = StatusExpired
	e.StatusUpdatedAt = now
	e.UpdatedAt = now
	return nil
}
