package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"skillbarter/exchange"
)

// Exchanges is an in-memory exchange.Repository. Transactions are ignored.
type Exchanges struct {
	mu   sync.Mutex
	byID map[string]exchange.Exchange
	// Users maps user id to external id. A nil map accepts every user.
	Users   map[string]string
	Updates int
}

func NewExchanges() *Exchanges {
	return &Exchanges{byID: make(map[string]exchange.Exchange)}
}

// Put seeds or replaces an exchange.
func (f *Exchanges) Put(e exchange.Exchange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = e
}

// Snapshot returns the stored exchange.
func (f *Exchanges) Snapshot(id string) exchange.Exchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *Exchanges) ExternalID(_ context.Context, _ pgx.Tx, userID string) (string, error) {
	if f.Users == nil {
		return "ext-" + userID, nil
	}
	ext, ok := f.Users[userID]
	if !ok {
		return "", exchange.ErrRecipientNotFound
	}
	return ext, nil
}

func (f *Exchanges) Insert(_ context.Context, _ pgx.Tx, e exchange.Exchange) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.findLive(e.Initiator.UserID, e.Recipient.UserID); ok {
		return false, nil
	}
	f.byID[e.ID] = e
	return true, nil
}

func (f *Exchanges) findLive(initiatorID, recipientID string) (exchange.Exchange, bool) {
	for _, e := range f.byID {
		if e.Initiator.UserID == initiatorID && e.Recipient.UserID == recipientID && !e.Status.Terminal() {
			return e, true
		}
	}
	return exchange.Exchange{}, false
}

func (f *Exchanges) FindLive(_ context.Context, _ pgx.Tx, initiatorID, recipientID string) (exchange.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.findLive(initiatorID, recipientID)
	if !ok {
		return exchange.Exchange{}, exchange.ErrNotFound
	}
	return e, nil
}

func (f *Exchanges) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (exchange.Exchange, error) {
	return f.Get(ctx, id)
}

func (f *Exchanges) Get(_ context.Context, id string) (exchange.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return exchange.Exchange{}, exchange.ErrNotFound
	}
	return e, nil
}

func (f *Exchanges) List(_ context.Context, userID string, filter exchange.ListFilter) ([]exchange.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Exchange, 0)
	for _, e := range f.byID {
		role, ok := e.RoleOf(userID)
		if !ok || (filter.Role != "" && filter.Role != role) || (filter.Status != "" && filter.Status != e.Status) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Exchanges) Update(_ context.Context, _ pgx.Tx, e exchange.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[e.ID]; !ok {
		return exchange.ErrNotFound
	}
	f.byID[e.ID] = e
	f.Updates++
	return nil
}

func (f *Exchanges) ListIdle(_ context.Context, _ pgx.Tx, cutoff time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, e := range f.byID {
		if e.Status.Expirable() && e.StatusUpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
