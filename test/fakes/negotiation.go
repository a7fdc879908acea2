package fakes

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/negotiation"
)

// Sessions is an in-memory negotiation.Repository.
type Sessions struct {
	mu         sync.Mutex
	byExchange map[string]negotiation.Session
}

func NewSessions() *Sessions {
	return &Sessions{byExchange: make(map[string]negotiation.Session)}
}

func cloneSession(s negotiation.Session) negotiation.Session {
	s.Terms.Initiator.Deliverables = append([]negotiation.Deliverable(nil), s.Terms.Initiator.Deliverables...)
	s.Terms.Recipient.Deliverables = append([]negotiation.Deliverable(nil), s.Terms.Recipient.Deliverables...)
	s.Effects = append([]string(nil), s.Effects...)
	return s
}

// Snapshot returns a copy of the stored session.
func (f *Sessions) Snapshot(exchangeID string) (negotiation.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byExchange[exchangeID]
	return cloneSession(s), ok
}

// Put seeds or replaces a session.
func (f *Sessions) Put(s negotiation.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byExchange[s.ExchangeID] = cloneSession(s)
}

func (f *Sessions) GetForUpdate(_ context.Context, _ pgx.Tx, exchangeID string) (negotiation.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byExchange[exchangeID]
	if !ok {
		return negotiation.Session{}, negotiation.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (f *Sessions) Insert(_ context.Context, _ pgx.Tx, s negotiation.Session) error {
	f.Put(s)
	return nil
}

func (f *Sessions) Update(_ context.Context, _ pgx.Tx, s negotiation.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byExchange[s.ExchangeID]; !ok {
		return negotiation.ErrSessionNotFound
	}
	f.byExchange[s.ExchangeID] = cloneSession(s)
	return nil
}

func (f *Sessions) NegotiationState(_ context.Context, _ pgx.Tx, exchangeID string) (exchange.NegotiationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byExchange[exchangeID]
	if !ok {
		return exchange.NegotiationState{}, nil
	}
	return exchange.NegotiationState{
		Exists:     true,
		BothAgreed: s.Agreed.Both(),
		Completed:  s.Status == negotiation.StatusCompleted,
	}, nil
}

// Disputes is an in-memory dispute repository.
type Disputes struct {
	mu   sync.Mutex
	byID map[string]dispute.Record
}

func NewDisputes() *Disputes {
	return &Disputes{byID: make(map[string]dispute.Record)}
}

// Put seeds or replaces a record.
func (f *Disputes) Put(rec dispute.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[rec.ID] = rec
}

func (f *Disputes) Insert(_ context.Context, _ pgx.Tx, rec dispute.Record) error {
	rec.Status = dispute.StatusOpen
	f.Put(rec)
	return nil
}

func (f *Disputes) Lookup(ctx context.Context, _ pgx.Tx, id string) (dispute.Record, error) {
	return f.Get(ctx, id)
}

func (f *Disputes) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (dispute.Record, error) {
	return f.Get(ctx, id)
}

func (f *Disputes) Get(_ context.Context, id string) (dispute.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return dispute.Record{}, dispute.ErrNotFound
	}
	return rec, nil
}

func (f *Disputes) ListByExchange(_ context.Context, exchangeID string) ([]dispute.Record, error) {
	return f.filter(func(r dispute.Record) bool { return r.ExchangeID == exchangeID }), nil
}

func (f *Disputes) ListByStatus(_ context.Context, status dispute.Status, _ int) ([]dispute.Record, error) {
	return f.filter(func(r dispute.Record) bool { return status == "" || r.Status == status }), nil
}

func (f *Disputes) filter(keep func(dispute.Record) bool) []dispute.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispute.Record, 0)
	for _, r := range f.byID {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Disputes) MarkResolved(_ context.Context, _ pgx.Tx, rec dispute.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[rec.ID]
	if !ok {
		return dispute.ErrNotFound
	}
	if cur.Status != dispute.StatusOpen {
		return dispute.ErrAlreadyResolved
	}
	rec.Status = dispute.StatusResolved
	f.byID[rec.ID] = rec
	return nil
}

func (f *Disputes) CountOpen(_ context.Context, _ pgx.Tx, exchangeID string) (int, error) {
	return len(f.filter(func(r dispute.Record) bool {
		return r.ExchangeID == exchangeID && r.Status == dispute.StatusOpen
	})), nil
}

// Ledger counts success-metric increments per user.
type Ledger struct {
	mu              sync.Mutex
	Successful      map[string]int
	DisputesHandled map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{Successful: map[string]int{}, DisputesHandled: map[string]int{}}
}

func (l *Ledger) IncrementSuccessfulExchanges(_ context.Context, _ pgx.Tx, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Successful[userID]++
	return nil
}

func (l *Ledger) IncrementDisputesHandled(_ context.Context, _ pgx.Tx, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.DisputesHandled[userID]++
	return nil
}
