// Package fakes holds in-memory stand-ins for the pgx pool and the
// repositories, shared by the service tests.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool records every transaction it hands out.
type Pool struct {
	mu       sync.Mutex
	BeginErr error
	Txs      []*Tx
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction, or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

// Tx tracks commit and rollback calls. Nested Begin yields a savepoint Tx.
type Tx struct {
	Committed  bool
	RolledBack bool
	CommitErr  error
	Savepoints []*Tx
}

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	sp := &Tx{}
	f.Savepoints = append(f.Savepoints, sp)
	return sp, nil
}

func (f *Tx) Commit(context.Context) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = true
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	if f.Committed {
		return pgx.ErrTxClosed
	}
	f.RolledBack = true
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("fakes: CopyFrom not supported")
}

func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("fakes: Prepare not supported")
}

func (f *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("fakes: Exec not supported")
}

func (f *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("fakes: Query not supported")
}

func (f *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *Tx) Conn() *pgx.Conn { return nil }
