package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"skillbarter/apperr"
	"skillbarter/auth"
	"skillbarter/exchange"
	"skillbarter/test/fakes"
	"skillbarter/timeline"
)

type stubNegotiation struct {
	state exchange.NegotiationState
}

func (s *stubNegotiation) NegotiationState(context.Context, pgx.Tx, string) (exchange.NegotiationState, error) {
	return s.state, nil
}

var (
	alice = auth.Identity{UserID: "alice", Role: auth.RoleMember}
	bob   = auth.Identity{UserID: "bob", Role: auth.RoleMember}
	carol = auth.Identity{UserID: "carol", Role: auth.RoleMember}
	admin = auth.Identity{UserID: "root", Role: auth.RoleAdmin}
)

type harness struct {
	pool     *fakes.Pool
	repo     *fakes.Exchanges
	neg      *stubNegotiation
	history  *fakes.History
	notifier *fakes.Notifier
	svc      *exchange.Service
	now      time.Time
}

func newHarness() *harness {
	h := &harness{
		pool:     &fakes.Pool{},
		repo:     fakes.NewExchanges(),
		neg:      &stubNegotiation{},
		history:  &fakes.History{},
		notifier: &fakes.Notifier{},
		now:      time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
	}
	ids := 0
	h.svc = exchange.NewService(h.pool, h.repo, h.neg, h.history, h.notifier, nil).
		WithClock(func() time.Time { return h.now }).
		WithIDGenerator(func() string { ids++; return "ex-" + string(rune('0'+ids)) })
	return h
}

func (h *harness) open(t *testing.T) exchange.Exchange {
	t.Helper()
	e, created, err := h.svc.Open(context.Background(), alice, exchange.OpenParams{RecipientID: bob.UserID})
	if err != nil || !created {
		t.Fatalf("open: created=%v err=%v", created, err)
	}
	return e
}

func TestOpen_IsIdempotentPerPair(t *testing.T) {
	h := newHarness()
	first := h.open(t)
	if first.Status != exchange.StatusPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}
	if first.Recipient.ExternalID != "ext-bob" {
		t.Fatalf("expected external id resolved, got %q", first.Recipient.ExternalID)
	}

	again, created, err := h.svc.Open(context.Background(), alice, exchange.OpenParams{RecipientID: bob.UserID})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected existing exchange %s, got %s created=%v", first.ID, again.ID, created)
	}
	if got := h.notifier.Count(timeline.EventExchangeOpened); got != 1 {
		t.Fatalf("expected one open notification, got %d", got)
	}
}

func TestOpen_Validation(t *testing.T) {
	h := newHarness()
	_, _, err := h.svc.Open(context.Background(), alice, exchange.OpenParams{RecipientID: alice.UserID})
	if !errors.Is(err, exchange.ErrSelfExchange) {
		t.Fatalf("expected ErrSelfExchange, got %v", err)
	}
	_, _, err = h.svc.Open(context.Background(), auth.Identity{}, exchange.OpenParams{RecipientID: bob.UserID})
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	h.repo.Users = map[string]string{"alice": "a"}
	_, _, err = h.svc.Open(context.Background(), alice, exchange.OpenParams{RecipientID: "ghost"})
	if !errors.Is(err, exchange.ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestAccept_RequiresAgreementRegardlessOfStatus(t *testing.T) {
	h := newHarness()
	e := h.open(t)

	for _, st := range []exchange.Status{exchange.StatusPending, exchange.StatusNegotiating, exchange.StatusPendingAcceptance} {
		cur := h.repo.Snapshot(e.ID)
		cur.Status = st
		h.repo.Put(cur)
		_, err := h.svc.Accept(context.Background(), alice, e.ID)
		if !errors.Is(err, exchange.ErrNegotiationIncomplete) {
			t.Fatalf("%s: expected ErrNegotiationIncomplete, got %v", st, err)
		}
		if h.repo.Snapshot(e.ID).Acceptance.InitiatorAccepted {
			t.Fatalf("%s: acceptance recorded without agreement", st)
		}
	}
}

func TestAccept_FullFlow(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	cur := h.repo.Snapshot(e.ID)
	cur.Status = exchange.StatusNegotiating
	h.repo.Put(cur)
	h.neg.state = exchange.NegotiationState{Exists: true, BothAgreed: true}

	if _, err := h.svc.Accept(context.Background(), carol, e.ID); !errors.Is(err, exchange.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := h.svc.Accept(context.Background(), admin, e.ID); !errors.Is(err, exchange.ErrNotParticipant) {
		t.Fatalf("admin must not accept on behalf of a participant, got %v", err)
	}

	res, err := h.svc.Accept(context.Background(), alice, e.ID)
	if err != nil || res.BothAccepted {
		t.Fatalf("first accept: %+v err=%v", res, err)
	}
	if _, err := h.svc.Accept(context.Background(), alice, e.ID); !errors.Is(err, exchange.ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}

	res, err = h.svc.Accept(context.Background(), bob, e.ID)
	if err != nil || !res.BothAccepted {
		t.Fatalf("second accept: %+v err=%v", res, err)
	}
	if res.Exchange.Status != exchange.StatusAccepted {
		t.Fatalf("expected accepted, got %s", res.Exchange.Status)
	}
	if !h.pool.Last().Committed {
		t.Fatal("expected commit")
	}
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness()
	e := h.open(t)

	if _, err := h.svc.UpdateStatus(context.Background(), alice, e.ID, exchange.StatusCompleted, ""); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("pending -> completed: expected invalid transition, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(context.Background(), alice, e.ID, "bogus", ""); !errors.Is(err, exchange.ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}

	got, err := h.svc.UpdateStatus(context.Background(), bob, e.ID, exchange.StatusNegotiating, "")
	if err != nil || got.Status != exchange.StatusNegotiating {
		t.Fatalf("negotiating: status=%s err=%v", got.Status, err)
	}
	if _, err := h.svc.UpdateStatus(context.Background(), bob, e.ID, exchange.StatusPendingAcceptance, ""); !errors.Is(err, exchange.ErrProtocolStatus) {
		t.Fatalf("expected ErrProtocolStatus, got %v", err)
	}

	if _, err := h.svc.UpdateStatus(context.Background(), carol, e.ID, exchange.StatusCancelled, ""); !errors.Is(err, exchange.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	got, err = h.svc.UpdateStatus(context.Background(), admin, e.ID, exchange.StatusCancelled, "spam")
	if err != nil || got.Status != exchange.StatusCancelled {
		t.Fatalf("admin cancel: status=%s err=%v", got.Status, err)
	}
	if got.CancelledBy == nil || *got.CancelledBy != admin.UserID {
		t.Fatal("expected cancelledBy to be the admin")
	}
	if _, err := h.svc.UpdateStatus(context.Background(), alice, e.ID, exchange.StatusCancelled, ""); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("cancel after cancel: expected invalid transition, got %v", err)
	}

	types := h.history.Types(e.ID)
	want := []string{timeline.EventExchangeOpened, timeline.EventExchangeStatusChanged, timeline.EventExchangeStatusChanged}
	if len(types) != len(want) {
		t.Fatalf("unexpected timeline %v", types)
	}
}

func TestUpdateStatus_RejectsEveryPairOutsideTable(t *testing.T) {
	statuses := []exchange.Status{
		exchange.StatusPending, exchange.StatusNegotiating, exchange.StatusPendingAcceptance, exchange.StatusAccepted,
		exchange.StatusInProgress, exchange.StatusCompleted, exchange.StatusCancelled, exchange.StatusExpired,
	}
	h := newHarness()
	e := h.open(t)
	for _, from := range statuses {
		for _, to := range statuses {
			if exchange.CanTransition(from, to) {
				continue
			}
			cur := h.repo.Snapshot(e.ID)
			cur.Status = from
			h.repo.Put(cur)
			before := h.repo.Updates

			_, err := h.svc.UpdateStatus(context.Background(), alice, e.ID, to, "")
			if apperr.KindOf(err) != apperr.KindInvalidTransition {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if got := h.repo.Snapshot(e.ID).Status; got != from {
				t.Fatalf("%s -> %s: stored status changed to %s", from, to, got)
			}
			if h.repo.Updates != before {
				t.Fatalf("%s -> %s: rejected change was written", from, to)
			}
		}
	}
}

func TestSync_DerivesStatusFromSession(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	cur := h.repo.Snapshot(e.ID)
	cur.Status = exchange.StatusNegotiating
	h.repo.Put(cur)

	h.neg.state = exchange.NegotiationState{Exists: true, BothAgreed: true}
	got, err := h.svc.Sync(context.Background(), admin, e.ID)
	if err != nil || got.Status != exchange.StatusPendingAcceptance {
		t.Fatalf("sync agreed: status=%s err=%v", got.Status, err)
	}

	cur = h.repo.Snapshot(e.ID)
	cur.Status = exchange.StatusInProgress
	h.repo.Put(cur)
	h.neg.state = exchange.NegotiationState{Exists: true, BothAgreed: true, Completed: true}
	got, err = h.svc.Sync(context.Background(), alice, e.ID)
	if err != nil || got.Status != exchange.StatusCompleted {
		t.Fatalf("sync completed: status=%s err=%v", got.Status, err)
	}

	before := h.repo.Updates
	if _, err := h.svc.Sync(context.Background(), alice, e.ID); err != nil {
		t.Fatalf("sync terminal: %v", err)
	}
	if h.repo.Updates != before {
		t.Fatal("sync of a terminal exchange must not write")
	}
}

func TestExpireIdle(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	h.now = h.now.Add(48 * time.Hour)

	n, err := h.svc.ExpireIdle(context.Background(), h.now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
	if got := h.repo.Snapshot(e.ID).Status; got != exchange.StatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}

	n, err = h.svc.ExpireIdle(context.Background(), h.now)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestGetAndTimeline_Authorization(t *testing.T) {
	h := newHarness()
	e := h.open(t)

	if _, err := h.svc.Get(context.Background(), carol, e.ID); !errors.Is(err, exchange.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := h.svc.Get(context.Background(), admin, e.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	events, err := h.svc.Timeline(context.Background(), bob, e.ID)
	if err != nil || len(events) != 1 || events[0].Type != timeline.EventExchangeOpened {
		t.Fatalf("timeline: %v err=%v", events, err)
	}
	if _, err := h.svc.Get(context.Background(), alice, "missing"); !errors.Is(err, exchange.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
