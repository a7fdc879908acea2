package profile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillbarter/apperr"
	"skillbarter/db"
)

// ErrNotFound signals the requested profile does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "profile: not found")

// Repository provides read access to profiles and the success-metric ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT id, display_name, external_id, successful_exchanges, disputes_handled, created_at
		FROM users
		WHERE id = $1
	`

	var p Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.ExternalID,
		&p.SuccessfulExchanges,
		&p.DisputesHandled,
		&p.CreatedAt,
	)
	if err != nil {
		if db.IsNotFound(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: query by id: %w", err)
	}
	return p, nil
}

// IncrementSuccessfulExchanges bumps the completed-exchange counter of userID.
func (r *Repository) IncrementSuccessfulExchanges(ctx context.Context, tx pgx.Tx, userID string) error {
	return increment(ctx, tx, "successful_exchanges", userID)
}

// IncrementDisputesHandled bumps the resolved-dispute counter of an administrator.
func (r *Repository) IncrementDisputesHandled(ctx context.Context, tx pgx.Tx, userID string) error {
	return increment(ctx, tx, "disputes_handled", userID)
}

func increment(ctx context.Context, tx pgx.Tx, column, userID string) error {
	q := `UPDATE users SET ` + column + ` = ` + column + ` + 1, updated_at = now() WHERE id = $1`
	tag, err := tx.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("profile: increment %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
