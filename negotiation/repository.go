package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillbarter/exchange"
)

// PGRepository stores sessions with terms as columns and deliverable lists
// as JSONB.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const sessionColumns = `
	id, exchange_id, status,
	initiator_description, initiator_deliverables, initiator_skill_id, initiator_hours,
	recipient_description, recipient_deliverables, recipient_skill_id, recipient_hours,
	amount, currency, payment_timeline, deadline, method,
	initiator_agreed, initiator_agreed_at, recipient_agreed, recipient_agreed_at,
	effects, completed_at, created_at, updated_at`

func scanSession(row pgx.Row) (Session, error) {
	var (
		s                    Session
		initiatorDeliverable []byte
		recipientDeliverable []byte
	)
	err := row.Scan(
		&s.ID, &s.ExchangeID, &s.Status,
		&s.Terms.Initiator.Description, &initiatorDeliverable, &s.Terms.Initiator.SkillID, &s.Terms.Initiator.Hours,
		&s.Terms.Recipient.Description, &recipientDeliverable, &s.Terms.Recipient.SkillID, &s.Terms.Recipient.Hours,
		&s.Terms.Amount, &s.Terms.Currency, &s.Terms.PaymentTimeline, &s.Terms.Deadline, &s.Terms.Method,
		&s.Agreed.Initiator, &s.Agreed.InitiatorAt, &s.Agreed.Recipient, &s.Agreed.RecipientAt,
		&s.Effects, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(initiatorDeliverable, &s.Terms.Initiator.Deliverables); err != nil {
		return Session{}, fmt.Errorf("decode initiator deliverables: %w", err)
	}
	if err := json.Unmarshal(recipientDeliverable, &s.Terms.Recipient.Deliverables); err != nil {
		return Session{}, fmt.Errorf("decode recipient deliverables: %w", err)
	}
	return s, nil
}

func encodeDeliverables(list []Deliverable) ([]byte, error) {
	if list == nil {
		list = []Deliverable{}
	}
	return json.Marshal(list)
}

// GetForUpdate loads and row-locks the session of exchangeID.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, exchangeID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM negotiation_sessions WHERE exchange_id = $1 FOR UPDATE`
	s, err := scanSession(tx.QueryRow(ctx, q, exchangeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("negotiation: get for update: %w", err)
	}
	return s, nil
}

// Insert creates the session row.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, s Session) error {
	const q = `
INSERT INTO negotiation_sessions (id, exchange_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)`
	if _, err := tx.Exec(ctx, q, s.ID, s.ExchangeID, s.Status, s.CreatedAt); err != nil {
		return fmt.Errorf("negotiation: insert: %w", err)
	}
	return r.Update(ctx, tx, s)
}

// Update writes terms, agreement, status and effects in one statement so
// an edit and its agreement reset land together.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, s Session) error {
	initiatorList, err := encodeDeliverables(s.Terms.Initiator.Deliverables)
	if err != nil {
		return fmt.Errorf("negotiation: encode deliverables: %w", err)
	}
	recipientList, err := encodeDeliverables(s.Terms.Recipient.Deliverables)
	if err != nil {
		return fmt.Errorf("negotiation: encode deliverables: %w", err)
	}
	effects := s.Effects
	if effects == nil {
		effects = []string{}
	}
	const q = `
UPDATE negotiation_sessions SET
	status = $2,
	initiator_description = $3, initiator_deliverables = $4::jsonb, initiator_skill_id = $5, initiator_hours = $6,
	recipient_description = $7, recipient_deliverables = $8::jsonb, recipient_skill_id = $9, recipient_hours = $10,
	amount = $11, currency = $12, payment_timeline = $13, deadline = $14, method = $15,
	initiator_agreed = $16, initiator_agreed_at = $17, recipient_agreed = $18, recipient_agreed_at = $19,
	effects = $20, completed_at = $21, updated_at = $22
WHERE exchange_id = $1`
	tag, err := tx.Exec(ctx, q,
		s.ExchangeID, s.Status,
		s.Terms.Initiator.Description, initiatorList, s.Terms.Initiator.SkillID, s.Terms.Initiator.Hours,
		s.Terms.Recipient.Description, recipientList, s.Terms.Recipient.SkillID, s.Terms.Recipient.Hours,
		s.Terms.Amount, s.Terms.Currency, s.Terms.PaymentTimeline, s.Terms.Deadline, s.Terms.Method,
		s.Agreed.Initiator, s.Agreed.InitiatorAt, s.Agreed.Recipient, s.Agreed.RecipientAt,
		effects, s.CompletedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("negotiation: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// NegotiationState reports whether a session exists for exchangeID, whether
// both sides agreed and whether it completed.
func (r *PGRepository) NegotiationState(ctx context.Context, tx pgx.Tx, exchangeID string) (exchange.NegotiationState, error) {
	const q = `
SELECT status, initiator_agreed AND recipient_agreed
FROM negotiation_sessions
WHERE exchange_id = $1`
	var (
		status Status
		both   bool
	)
	err := tx.QueryRow(ctx, q, exchangeID).Scan(&status, &both)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return exchange.NegotiationState{}, nil
		}
		return exchange.NegotiationState{}, fmt.Errorf("negotiation: state: %w", err)
	}
	return exchange.NegotiationState{Exists: true, BothAgreed: both, Completed: status == StatusCompleted}, nil
}
