package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillbarter/apperr"
	"skillbarter/db"
	"skillbarter/exchange"
)

var (
	ErrNotFound        = apperr.New(apperr.KindNotFound, "dispute: not found")
	ErrForbidden       = apperr.New(apperr.KindForbidden, "dispute: administrator capability required")
	ErrAlreadyResolved = apperr.New(apperr.KindPreconditionFailed, "dispute: already resolved")
	ErrMissingDecision = apperr.New(apperr.KindValidation, "dispute: decision and reasoning are required")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `
	id, exchange_id, raised_by, raised_by_role, description, evidence,
	owner_role, deliverable_index, deliverable_title,
	status, resolved_by, decision, reasoning, resolved_at, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		ownerRole  *string
		index      *int
		title      *string
		decision   *string
		reasoning  *string
		resolvedAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.ExchangeID, &rec.RaisedBy, &rec.RaisedByRole, &rec.Description, &rec.Evidence,
		&ownerRole, &index, &title,
		&rec.Status, &rec.ResolvedBy, &decision, &reasoning, &resolvedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if ownerRole != nil && index != nil {
		rec.Ref = &DeliverableRef{ExchangeID: rec.ExchangeID, Owner: exchange.Role(*ownerRole), Index: *index}
		if title != nil {
			rec.Ref.Title = *title
		}
	}
	if resolvedAt != nil {
		rec.Resolution = &Resolution{ResolvedAt: *resolvedAt}
		if decision != nil {
			rec.Resolution.Decision = *decision
		}
		if reasoning != nil {
			rec.Resolution.Reasoning = *reasoning
		}
	}
	return rec, nil
}

func one(row pgx.Row, op string) (Record, error) {
	rec, err := scanRecord(row)
	if err != nil {
		if db.IsNotFound(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: %s: %w", op, err)
	}
	return rec, nil
}

func collect(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Insert stores a new open dispute.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	var (
		owner any
		index any
		title any
	)
	if rec.Ref != nil {
		owner, index, title = string(rec.Ref.Owner), rec.Ref.Index, rec.Ref.Title
	}
	const q = `
INSERT INTO disputes (id, exchange_id, raised_by, raised_by_role, description, evidence,
	owner_role, deliverable_index, deliverable_title, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'open', $10, $10)`
	if _, err := tx.Exec(ctx, q, rec.ID, rec.ExchangeID, rec.RaisedBy, rec.RaisedByRole, rec.Description, rec.Evidence,
		owner, index, title, rec.CreatedAt); err != nil {
		return fmt.Errorf("dispute: insert: %w", err)
	}
	return nil
}

// Lookup reads a dispute inside tx without locking it.
func (r *Repository) Lookup(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return one(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id = $1`, id), "lookup")
}

// GetForUpdate loads and row-locks a dispute.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return one(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id), "get for update")
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	return one(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id = $1`, id), "get")
}

// ListByExchange returns every dispute of an exchange, newest first.
func (r *Repository) ListByExchange(ctx context.Context, exchangeID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM disputes
WHERE exchange_id = $1 ORDER BY created_at DESC`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by exchange: %w", err)
	}
	return collect(rows)
}

// ListByStatus returns the administrator queue, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM disputes
WHERE ($1 = '' OR status = $1) ORDER BY created_at ASC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by status: %w", err)
	}
	return collect(rows)
}

// MarkResolved writes the resolution of rec.
func (r *Repository) MarkResolved(ctx context.Context, tx pgx.Tx, rec Record) error {
	if rec.Resolution == nil || rec.ResolvedBy == nil {
		return fmt.Errorf("dispute: mark resolved: missing resolution")
	}
	const q = `
UPDATE disputes
SET status = 'resolved', resolved_by = $2, decision = $3, reasoning = $4, resolved_at = $5, updated_at = $5
WHERE id = $1 AND status = 'open'`
	tag, err := tx.Exec(ctx, q, rec.ID, *rec.ResolvedBy, rec.Resolution.Decision, rec.Resolution.Reasoning, rec.Resolution.ResolvedAt)
	if err != nil {
		return fmt.Errorf("dispute: mark resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// CountOpen returns how many disputes of exchangeID are still open.
func (r *Repository) CountOpen(ctx context.Context, tx pgx.Tx, exchangeID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM disputes WHERE exchange_id = $1 AND status = 'open'`, exchangeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dispute: count open: %w", err)
	}
	return n, nil
}
