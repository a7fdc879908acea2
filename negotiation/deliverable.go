package negotiation

import (
	"encoding/json"
	"strings"
	"time"

	"skillbarter/apperr"
)

// DeliverableState is the explicit state of a deliverable.
type DeliverableState string

const (
	DeliverableAuthored  DeliverableState = "authored"
	DeliverableClaimed   DeliverableState = "claimed"
	DeliverableConfirmed DeliverableState = "confirmed"
	DeliverableDisputed  DeliverableState = "disputed"
)

// Action is an event applied to a deliverable.
type Action int

const (
	ActionClaim Action = iota
	ActionUnclaim
	ActionConfirm
	ActionDispute
	ActionAdminConfirm
)

var (
	ErrNotCompleted          = apperr.New(apperr.KindPreconditionFailed, "negotiation: deliverable is not completed")
	ErrAlreadyConfirmed      = apperr.New(apperr.KindPreconditionFailed, "negotiation: deliverable already confirmed")
	ErrAlreadyDisputed       = apperr.New(apperr.KindPreconditionFailed, "negotiation: deliverable already disputed")
	ErrNotDisputed           = apperr.New(apperr.KindPreconditionFailed, "negotiation: deliverable is not disputed")
	ErrDisputeReasonRequired = apperr.New(apperr.KindValidation, "negotiation: dispute reason is required")
)

// Deliverable is one promised unit of work.
type Deliverable struct {
	Title         string
	State         DeliverableState
	CompletedAt   *time.Time
	ConfirmedBy   *string
	ConfirmedAt   *time.Time
	DisputeReason *string
	DisputeID     *string
}

// Completed reports whether the owner has claimed the deliverable done.
// Confirmed and disputed deliverables were claimed first.
func (d Deliverable) Completed() bool { return d.State != DeliverableAuthored && d.State != "" }

// DisputeRaised reports whether a dispute is pending on the deliverable.
func (d Deliverable) DisputeRaised() bool { return d.State == DeliverableDisputed }

// apply runs the deliverable state machine:
// authored -> claimed -> {confirmed | disputed}, disputed -> confirmed by an
// administrator, and claimed -> authored on unclaim.
func (d Deliverable) apply(a Action, actorID, reason string, now time.Time) (Deliverable, error) {
	switch a {
	case ActionClaim:
		switch d.State {
		case DeliverableConfirmed:
			return d, ErrAlreadyConfirmed
		case DeliverableDisputed:
			return d, ErrAlreadyDisputed
		case DeliverableClaimed:
			return d, nil
		}
		d.State = DeliverableClaimed
		d.CompletedAt = &now
	case ActionUnclaim:
		switch d.State {
		case DeliverableConfirmed:
			return d, ErrAlreadyConfirmed
		case DeliverableDisputed:
			return d, ErrAlreadyDisputed
		}
		d.State = DeliverableAuthored
		d.CompletedAt = nil
	case ActionConfirm, ActionDispute:
		if a == ActionDispute && strings.TrimSpace(reason) == "" {
			return d, ErrDisputeReasonRequired
		}
		switch d.State {
		case DeliverableConfirmed:
			return d, ErrAlreadyConfirmed
		case DeliverableDisputed:
			return d, ErrAlreadyDisputed
		case DeliverableClaimed:
		default:
			return d, ErrNotCompleted
		}
		if a == ActionConfirm {
			d.State = DeliverableConfirmed
			d.ConfirmedBy = &actorID
			d.ConfirmedAt = &now
		} else {
			r := strings.TrimSpace(reason)
			d.State = DeliverableDisputed
			d.DisputeReason = &r
		}
	case ActionAdminConfirm:
		if d.State != DeliverableDisputed {
			return d, ErrNotDisputed
		}
		d.State = DeliverableConfirmed
		d.ConfirmedBy = &actorID
		d.ConfirmedAt = &now
	default:
		return d, apperr.Errorf(apperr.KindValidation, "negotiation: unknown deliverable action %d", a)
	}
	return d, nil
}

// deliverableJSON is the stored and wire form. The booleans are derived
// from State on write; rows without a state are read from the booleans.
type deliverableJSON struct {
	Title         string           `json:"title"`
	State         DeliverableState `json:"state,omitempty"`
	Completed     bool             `json:"completed"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	ConfirmedBy   *string          `json:"confirmedBy,omitempty"`
	ConfirmedAt   *time.Time       `json:"confirmedAt,omitempty"`
	DisputeRaised bool             `json:"disputeRaised"`
	DisputeReason *string          `json:"disputeReason,omitempty"`
	DisputeID     *string          `json:"disputeId,omitempty"`
}

func (d Deliverable) MarshalJSON() ([]byte, error) {
	state := d.State
	if state == "" {
		state = DeliverableAuthored
	}
	return json.Marshal(deliverableJSON{
		Title:         d.Title,
		State:         state,
		Completed:     d.Completed(),
		CompletedAt:   d.CompletedAt,
		ConfirmedBy:   d.ConfirmedBy,
		ConfirmedAt:   d.ConfirmedAt,
		DisputeRaised: d.DisputeRaised(),
		DisputeReason: d.DisputeReason,
		DisputeID:     d.DisputeID,
	})
}

func (d *Deliverable) UnmarshalJSON(b []byte) error {
	var raw deliverableJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	state := raw.State
	if state == "" {
		switch {
		case raw.DisputeRaised:
			state = DeliverableDisputed
		case raw.ConfirmedBy != nil:
			state = DeliverableConfirmed
		case raw.Completed:
			state = DeliverableClaimed
		default:
			state = DeliverableAuthored
		}
	}
	*d = Deliverable{
		Title:         raw.Title,
		State:         state,
		CompletedAt:   raw.CompletedAt,
		ConfirmedBy:   raw.ConfirmedBy,
		ConfirmedAt:   raw.ConfirmedAt,
		DisputeReason: raw.DisputeReason,
		DisputeID:     raw.DisputeID,
	}
	return nil
}
