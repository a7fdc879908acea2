package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"skillbarter/db"
	"skillbarter/test/fakes"
)

func TestInTx_CommitsOnSuccess(t *testing.T) {
	pool := &fakes.Pool{}
	if err := db.InTx(context.Background(), pool, func(pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.Last().Committed {
		t.Fatal("expected commit")
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	pool := &fakes.Pool{}
	boom := errors.New("boom")
	err := db.InTx(context.Background(), pool, func(pgx.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	tx := pool.Last()
	if tx.Committed {
		t.Fatal("commit must be skipped on error")
	}
	if !tx.RolledBack {
		t.Fatal("expected rollback")
	}
}

func TestSavepoint_FailureKeepsOuterTx(t *testing.T) {
	pool := &fakes.Pool{}
	err := db.InTx(context.Background(), pool, func(tx pgx.Tx) error {
		spErr := db.Savepoint(context.Background(), tx, func(pgx.Tx) error {
			return errors.New("reconcile failed")
		})
		if spErr == nil {
			t.Fatal("expected savepoint error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outer := pool.Last()
	if !outer.Committed {
		t.Fatal("outer transaction should still commit")
	}
	if len(outer.Savepoints) != 1 || !outer.Savepoints[0].RolledBack {
		t.Fatal("expected one rolled back savepoint")
	}
}
