package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillbarter/db"
)

// PGRepository persists exchanges in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const exchangeColumns = `
	id, initiator_id, initiator_external_id, recipient_id, recipient_external_id,
	initiator_skill_id, recipient_skill_id, status,
	initiator_accepted, initiator_accepted_at, recipient_accepted, recipient_accepted_at, fully_accepted_at,
	negotiation_completed, negotiation_completed_at, negotiation_rounds, negotiation_updated_at,
	has_dispute, cancelled_by, cancelled_at, cancel_reason,
	status_updated_at, created_at, updated_at`

// liveFilter matches the partial unique index on the ordered pair.
const liveFilter = `status NOT IN ('completed', 'cancelled', 'expired')`

func scanExchange(row pgx.Row) (Exchange, error) {
	var e Exchange
	err := row.Scan(
		&e.ID, &e.Initiator.UserID, &e.Initiator.ExternalID, &e.Recipient.UserID, &e.Recipient.ExternalID,
		&e.InitiatorSkillID, &e.RecipientSkillID, &e.Status,
		&e.Acceptance.InitiatorAccepted, &e.Acceptance.InitiatorAcceptedAt,
		&e.Acceptance.RecipientAccepted, &e.Acceptance.RecipientAcceptedAt, &e.Acceptance.FullyAcceptedAt,
		&e.Negotiation.Completed, &e.Negotiation.CompletedAt, &e.Negotiation.Rounds, &e.Negotiation.LastUpdate,
		&e.Dispute.HasDispute, &e.CancelledBy, &e.CancelledAt, &e.CancelReason,
		&e.StatusUpdatedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

func one(row pgx.Row, op string) (Exchange, error) {
	e, err := scanExchange(row)
	if err != nil {
		if db.IsNotFound(err) {
			return Exchange{}, ErrNotFound
		}
		return Exchange{}, fmt.Errorf("exchange: %s: %w", op, err)
	}
	return e, nil
}

// ExternalID returns the external identity of userID.
func (r *PGRepository) ExternalID(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var ext string
	err := tx.QueryRow(ctx, `SELECT external_id FROM users WHERE id = $1`, userID).Scan(&ext)
	if err != nil {
		if db.IsNotFound(err) {
			return "", ErrRecipientNotFound
		}
		return "", fmt.Errorf("exchange: lookup external id: %w", err)
	}
	return ext, nil
}

// Insert stores e unless a live exchange already exists for the same
// ordered pair, in which case created is false.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, e Exchange) (bool, error) {
	q := `
INSERT INTO exchanges (
	id, initiator_id, initiator_external_id, recipient_id, recipient_external_id,
	initiator_skill_id, recipient_skill_id, status, status_updated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9)
ON CONFLICT (initiator_id, recipient_id) WHERE ` + liveFilter + ` DO NOTHING`
	tag, err := tx.Exec(ctx, q,
		e.ID, e.Initiator.UserID, e.Initiator.ExternalID, e.Recipient.UserID, e.Recipient.ExternalID,
		e.InitiatorSkillID, e.RecipientSkillID, e.Status, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("exchange: insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindLive returns the live exchange opened by initiatorID towards recipientID.
func (r *PGRepository) FindLive(ctx context.Context, tx pgx.Tx, initiatorID, recipientID string) (Exchange, error) {
	q := `SELECT ` + exchangeColumns + ` FROM exchanges
WHERE initiator_id = $1 AND recipient_id = $2 AND ` + liveFilter + `
FOR UPDATE`
	return one(tx.QueryRow(ctx, q, initiatorID, recipientID), "find live")
}

// GetForUpdate loads and row-locks an exchange.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Exchange, error) {
	q := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE id = $1 FOR UPDATE`
	return one(tx.QueryRow(ctx, q, id), "get for update")
}

// Get loads an exchange without locking.
func (r *PGRepository) Get(ctx context.Context, id string) (Exchange, error) {
	q := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE id = $1`
	return one(r.pool.QueryRow(ctx, q, id), "get")
}

// List returns the exchanges userID takes part in, newest first.
func (r *PGRepository) List(ctx context.Context, userID string, f ListFilter) ([]Exchange, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var roleCol string
	switch f.Role {
	case RoleInitiator:
		roleCol = "initiator_id = $1"
	case RoleRecipient:
		roleCol = "recipient_id = $1"
	default:
		roleCol = "(initiator_id = $1 OR recipient_id = $1)"
	}
	q := `SELECT ` + exchangeColumns + ` FROM exchanges
WHERE ` + roleCol + ` AND ($2 = '' OR status = $2)
ORDER BY updated_at DESC
LIMIT $3`

	rows, err := r.pool.Query(ctx, q, userID, string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("exchange: list: %w", err)
	}
	defer rows.Close()

	out := make([]Exchange, 0)
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("exchange: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exchange: iterate: %w", err)
	}
	return out, nil
}

// Update writes every mutable column of e.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, e Exchange) error {
	const q = `
UPDATE exchanges SET
	initiator_skill_id = $2, recipient_skill_id = $3, status = $4,
	initiator_accepted = $5, initiator_accepted_at = $6,
	recipient_accepted = $7, recipient_accepted_at = $8, fully_accepted_at = $9,
	negotiation_completed = $10, negotiation_completed_at = $11,
	negotiation_rounds = $12, negotiation_updated_at = $13,
	has_dispute = $14, cancelled_by = $15, cancelled_at = $16, cancel_reason = $17,
	status_updated_at = $18, updated_at = $19
WHERE id = $1`
	tag, err := tx.Exec(ctx, q,
		e.ID, e.InitiatorSkillID, e.RecipientSkillID, e.Status,
		e.Acceptance.InitiatorAccepted, e.Acceptance.InitiatorAcceptedAt,
		e.Acceptance.RecipientAccepted, e.Acceptance.RecipientAcceptedAt, e.Acceptance.FullyAcceptedAt,
		e.Negotiation.Completed, e.Negotiation.CompletedAt,
		e.Negotiation.Rounds, e.Negotiation.LastUpdate,
		e.Dispute.HasDispute, e.CancelledBy, e.CancelledAt, e.CancelReason,
		e.StatusUpdatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("exchange: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIdle returns ids of pre-acceptance exchanges whose status has not
// changed since cutoff. Rows locked by other writers are skipped.
func (r *PGRepository) ListIdle(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]string, error) {
	const q = `
SELECT id FROM exchanges
WHERE status IN ('pending', 'negotiating', 'pending_acceptance')
  AND status_updated_at < $1
ORDER BY status_updated_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("exchange: list idle: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("exchange: scan idle: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
