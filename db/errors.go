package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// invalidTextRepresentation is raised when a key does not parse as the
// column type, e.g. a malformed uuid.
const invalidTextRepresentation = "22P02"

// IsNotFound reports whether err means the looked up row cannot exist:
// either no row matched or the key itself was malformed.
func IsNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
