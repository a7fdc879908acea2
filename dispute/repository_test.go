package dispute

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"skillbarter/apperr"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestOne_MalformedIDIsNotFound(t *testing.T) {
	_, err := one(errRow{&pgconn.PgError{Code: "22P02"}}, "lookup")
	if !errors.Is(err, ErrNotFound) || apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
