package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"skillbarter/apperr"
	"skillbarter/auth"
	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/negotiation"
)

// Env is the service surface the actors drive.
type Env struct {
	Exchanges   *exchange.Service
	Negotiation *negotiation.Service
	Disputes    *dispute.Service
}

// Stats counts actor outcomes. Rejected operations are protocol refusals
// (wrong state, lost races); Failed ones are unclassified errors such as
// connections killed by chaos.
type Stats struct {
	Ops       atomic.Int64
	Rejected  atomic.Int64
	Failed    atomic.Int64
	Completed atomic.Int64
	Resolved  atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("ops=%d rejected=%d failed=%d completed=%d resolved=%d",
		s.Ops.Load(), s.Rejected.Load(), s.Failed.Load(), s.Completed.Load(), s.Resolved.Load())
}

func (s *Stats) record(err error) {
	s.Ops.Add(1)
	switch {
	case err == nil:
	case apperr.KindOf(err) != apperr.KindInternal:
		s.Rejected.Add(1)
	default:
		s.Failed.Add(1)
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(min, jitter int) {
	time.Sleep(time.Duration(min+rand.Intn(jitter)) * time.Millisecond)
}

var titles = [][]string{
	{"intro lesson"},
	{"intro lesson", "follow-up review"},
	{"code review", "pairing session", "written notes"},
}

// Barterer repeatedly opens an exchange from initiator to recipient and
// pushes it forward one random step at a time, acting as either party.
// Several barterers on the same pair contend for the same rows.
func Barterer(ctx context.Context, env Env, initiator, recipient auth.Identity, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		ex, _, err := env.Exchanges.Open(ctx, initiator, exchange.OpenParams{RecipientID: recipient.UserID})
		stats.record(err)
		if err != nil {
			pause(20, 30)
			continue
		}
		if err := step(ctx, env, ex, initiator, recipient, stats); err != nil {
			return err
		}
		pause(5, 20)
	}
	return nil
}

func step(ctx context.Context, env Env, ex exchange.Exchange, initiator, recipient auth.Identity, stats *Stats) error {
	caller := initiator
	if rand.Intn(2) == 0 {
		caller = recipient
	}

	if rand.Intn(50) == 0 {
		_, err := env.Exchanges.UpdateStatus(ctx, caller, ex.ID, exchange.StatusCancelled, "stress cancel")
		stats.record(err)
		return nil
	}

	switch ex.Status {
	case exchange.StatusPending, exchange.StatusNegotiating, exchange.StatusPendingAcceptance:
		return negotiate(ctx, env, ex, caller, stats)
	case exchange.StatusAccepted, exchange.StatusInProgress:
		return deliver(ctx, env, ex, caller, stats)
	}
	return nil
}

func negotiate(ctx context.Context, env Env, ex exchange.Exchange, caller auth.Identity, stats *Stats) error {
	var err error
	switch n := rand.Intn(10); {
	case n < 3:
		cmd := negotiation.EditDeliverables{Titles: titles[rand.Intn(len(titles))]}
		_, err = env.Negotiation.Edit(ctx, caller, ex.ID, cmd)
	case n < 4:
		_, err = env.Negotiation.Edit(ctx, caller, ex.ID, negotiation.EditHours{Hours: float64(1 + rand.Intn(8))})
	case n < 7:
		_, err = env.Negotiation.Agree(ctx, caller, ex.ID)
	default:
		_, err = env.Exchanges.Accept(ctx, caller, ex.ID)
	}
	stats.record(err)
	return nil
}

func deliver(ctx context.Context, env Env, ex exchange.Exchange, caller auth.Identity, stats *Stats) error {
	v, err := env.Negotiation.Get(ctx, caller, ex.ID)
	stats.record(err)
	if err != nil {
		return nil
	}
	role, ok := ex.RoleOf(caller.UserID)
	if !ok {
		return fmt.Errorf("caller %s is not a participant of %s", caller.UserID, ex.ID)
	}

	own := v.Terms.For(role).Deliverables
	theirs := v.Terms.For(role.Counter()).Deliverables

	switch n := rand.Intn(10); {
	case n < 1 && ex.Status == exchange.StatusAccepted:
		_, err = env.Exchanges.UpdateStatus(ctx, caller, ex.ID, exchange.StatusInProgress, "")
	case n < 5 && len(own) > 0:
		idx := rand.Intn(len(own))
		_, err = env.Negotiation.SetDeliverableCompleted(ctx, caller, ex.ID, idx, rand.Intn(8) != 0)
	case n < 9 && len(theirs) > 0:
		idx := rand.Intn(len(theirs))
		var res negotiation.ConfirmResult
		res, err = env.Negotiation.ConfirmDeliverable(ctx, caller, ex.ID, idx)
		if err == nil && res.Completed {
			stats.Completed.Add(1)
		}
	case len(theirs) > 0:
		_, _, err = env.Negotiation.DisputeDeliverable(ctx, caller, ex.ID, rand.Intn(len(theirs)), "not delivered as agreed")
	}
	stats.record(err)
	return nil
}

// Arbiter resolves open disputes as an administrator.
func Arbiter(ctx context.Context, env Env, admin auth.Identity, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		open, err := env.Disputes.ListByStatus(ctx, admin, dispute.StatusOpen, 20)
		stats.record(err)
		for _, rec := range open {
			if stopped(ctx, stop) {
				return nil
			}
			res, err := env.Disputes.Resolve(ctx, admin, rec.ID, dispute.ResolveRequest{
				Decision:  "deliverable accepted",
				Reasoning: "evidence reviewed under stress",
			})
			stats.record(err)
			if err != nil {
				continue
			}
			if !res.Reconciled {
				return fmt.Errorf("dispute %s resolved without reconciliation: %s", rec.ID, res.ReconcileError)
			}
			stats.Resolved.Add(1)
		}
		pause(50, 100)
	}
	return nil
}
