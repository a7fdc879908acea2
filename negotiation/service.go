package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"skillbarter/apperr"
	"skillbarter/auth"
	"skillbarter/db"
	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/timeline"
)

var (
	ErrExchangeClosed    = apperr.New(apperr.KindInvalidTransition, "negotiation: exchange is closed")
	ErrExchangeNotActive = apperr.New(apperr.KindPreconditionFailed, "negotiation: exchange is not accepted or in progress")
	ErrReferenceMismatch = apperr.New(apperr.KindPreconditionFailed, "negotiation: deliverable reference does not match the session")
)

// Repository is the session persistence the service needs.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, exchangeID string) (Session, error)
	Insert(ctx context.Context, tx pgx.Tx, s Session) error
	Update(ctx context.Context, tx pgx.Tx, s Session) error
}

// ExchangeStore locks and writes the exchange a session belongs to.
type ExchangeStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (exchange.Exchange, error)
	Update(ctx context.Context, tx pgx.Tx, e exchange.Exchange) error
}

// DisputeWriter stores disputes raised against deliverables.
type DisputeWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, rec dispute.Record) error
}

// SuccessLedger is the user success-metric ledger.
type SuccessLedger interface {
	IncrementSuccessfulExchanges(ctx context.Context, tx pgx.Tx, userID string) error
}

// History appends exchange timeline events.
type History interface {
	Append(ctx context.Context, tx pgx.Tx, exchangeID, eventType, actorID string, payload map[string]any) error
}

// Notifier broadcasts committed state changes. It must not block.
type Notifier interface {
	Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any)
}

type Service struct {
	pool      db.TxBeginner
	repo      Repository
	exchanges ExchangeStore
	disputes  DisputeWriter
	ledger    SuccessLedger
	history   History
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(pool db.TxBeginner, repo Repository, exchanges ExchangeStore, disputes DisputeWriter, ledger SuccessLedger, history History, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		exchanges: exchanges,
		disputes:  disputes,
		ledger:    ledger,
		history:   history,
		notifier:  notifier,
		logger:    logger.With("module", "negotiation"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides session and dispute id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

type statusStep struct {
	from, to exchange.Status
}

type note struct {
	eventType string
	payload   map[string]any
}

// unit is one command against an exchange and its session, loaded under
// row locks in exchange then session order.
type unit struct {
	ex      exchange.Exchange
	exDirty bool
	steps   []statusStep
	sess    Session
	created bool
	dirty   bool
	role    exchange.Role
	actorID string
	now     time.Time
	notes   []note
}

func (u *unit) exchangeChanged(from exchange.Status) {
	u.exDirty = true
	if u.ex.Status != from {
		u.steps = append(u.steps, statusStep{from: from, to: u.ex.Status})
	}
}

func (u *unit) notify(eventType string, payload map[string]any) {
	u.notes = append(u.notes, note{eventType: eventType, payload: payload})
}

func (s *Service) load(ctx context.Context, tx pgx.Tx, exchangeID string, caller auth.Identity, adminOK bool) (*unit, error) {
	ex, err := s.exchanges.GetForUpdate(ctx, tx, exchangeID)
	if err != nil {
		return nil, err
	}
	role, err := exchange.Authorize(&ex, caller, adminOK)
	if err != nil {
		return nil, err
	}
	u := &unit{ex: ex, role: role, actorID: caller.UserID, now: s.now()}

	sess, err := s.repo.GetForUpdate(ctx, tx, exchangeID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		u.sess = newSession(s.newID(), exchangeID, u.now)
		if role == "" {
			// administrators see the empty session without opening one
			return u, nil
		}
		u.created = true
		from := u.ex.Status
		started, err := u.ex.StartNegotiation(u.now)
		if err != nil {
			return nil, err
		}
		if started {
			u.exchangeChanged(from)
		}
	case err != nil:
		return nil, err
	default:
		u.sess = sess
	}
	return u, nil
}

func (s *Service) save(ctx context.Context, tx pgx.Tx, u *unit) error {
	switch {
	case u.created:
		if err := s.repo.Insert(ctx, tx, u.sess); err != nil {
			return err
		}
	case u.dirty:
		if err := s.repo.Update(ctx, tx, u.sess); err != nil {
			return err
		}
	}
	if !u.exDirty {
		return nil
	}
	if err := s.exchanges.Update(ctx, tx, u.ex); err != nil {
		return err
	}
	for _, st := range u.steps {
		if err := s.history.Append(ctx, tx, u.ex.ID, timeline.EventExchangeStatusChanged, u.actorID, map[string]any{
			"from": st.from,
			"to":   st.to,
		}); err != nil {
			return err
		}
		u.notify(timeline.EventExchangeStatusChanged, map[string]any{"status": st.to})
	}
	return nil
}

// run executes fn as a single transaction over the exchange and its session
// and sends the collected notifications after commit.
func (s *Service) run(ctx context.Context, op, exchangeID string, caller auth.Identity, adminOK bool, fn func(tx pgx.Tx, u *unit) error) (*unit, error) {
	var done *unit
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		u, err := s.load(ctx, tx, exchangeID, caller, adminOK)
		if err != nil {
			return err
		}
		if err := fn(tx, u); err != nil {
			return err
		}
		if err := s.save(ctx, tx, u); err != nil {
			return err
		}
		done = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("negotiation: %s: %w", op, err)
	}
	if s.notifier != nil {
		for _, n := range done.notes {
			s.notifier.Notify(ctx, exchangeID, n.eventType, n.payload)
		}
	}
	return done, nil
}

func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, u *unit, eventType string, payload map[string]any) error {
	if err := s.history.Append(ctx, tx, u.ex.ID, eventType, u.actorID, payload); err != nil {
		return err
	}
	u.notify(eventType, payload)
	return nil
}

func requireOpen(ex *exchange.Exchange) error {
	if ex.Status.Terminal() {
		return ErrExchangeClosed
	}
	return nil
}

// requireNegotiable rejects term changes once the exchange was accepted.
func requireNegotiable(ex *exchange.Exchange) error {
	if err := requireOpen(ex); err != nil {
		return err
	}
	switch ex.Status {
	case exchange.StatusAccepted, exchange.StatusInProgress:
		return ErrTermsLocked
	}
	return nil
}

func requireActive(ex *exchange.Exchange) error {
	switch ex.Status {
	case exchange.StatusAccepted, exchange.StatusInProgress:
		return nil
	}
	if ex.Status.Terminal() {
		return ErrExchangeClosed
	}
	return ErrExchangeNotActive
}

// Get returns the session of an exchange, creating it on first access.
func (s *Service) Get(ctx context.Context, caller auth.Identity, exchangeID string) (View, error) {
	u, err := s.run(ctx, "get", exchangeID, caller, true, func(pgx.Tx, *unit) error { return nil })
	if err != nil {
		return View{}, err
	}
	return ViewOf(u.sess), nil
}

// Agreement returns the agreement flags of an exchange's session.
func (s *Service) Agreement(ctx context.Context, caller auth.Identity, exchangeID string) (AgreementView, error) {
	v, err := s.Get(ctx, caller, exchangeID)
	if err != nil {
		return AgreementView{}, err
	}
	return AgreementView{Agreement: v.Agreed, BothAgreed: v.BothAgreed, Status: v.Status}, nil
}

// Agree records the caller's agreement. When both sides agree the exchange
// moves to pending_acceptance in the same transaction.
func (s *Service) Agree(ctx context.Context, caller auth.Identity, exchangeID string) (AgreementView, error) {
	u, err := s.run(ctx, "agree", exchangeID, caller, false, func(tx pgx.Tx, u *unit) error {
		if err := requireNegotiable(&u.ex); err != nil {
			return err
		}
		both, err := u.sess.Agree(u.role, u.now)
		if err != nil {
			return err
		}
		u.dirty = true
		if both {
			from := u.ex.Status
			if err := u.ex.MarkNegotiated(u.now); err != nil {
				return err
			}
			u.exchangeChanged(from)
		}
		return s.appendEvent(ctx, tx, u, timeline.EventTermsAgreed, map[string]any{
			"role":        u.role,
			"both_agreed": both,
		})
	})
	if err != nil {
		return AgreementView{}, err
	}
	return AgreementView{Agreement: u.sess.Agreed, BothAgreed: u.sess.Agreed.Both(), Status: u.sess.Status}, nil
}

// Edit applies a term edit for the caller. Both agreement flags are cleared
// and, while acceptance is pending, the exchange reopens for negotiation.
func (s *Service) Edit(ctx context.Context, caller auth.Identity, exchangeID string, cmd Command) (View, error) {
	if cmd == nil {
		return View{}, ErrUnknownField
	}
	u, err := s.run(ctx, "edit", exchangeID, caller, false, func(tx pgx.Tx, u *unit) error {
		if err := requireNegotiable(&u.ex); err != nil {
			return err
		}
		if err := u.sess.Edit(u.role, cmd, u.now); err != nil {
			return err
		}
		u.dirty = true

		from := u.ex.Status
		reopened, err := u.ex.ReopenTerms(u.now)
		if err != nil {
			return err
		}
		if _, ok := cmd.(SelectSkills); ok {
			u.ex.InitiatorSkillID = u.sess.Terms.Initiator.SkillID
			u.ex.RecipientSkillID = u.sess.Terms.Recipient.SkillID
		}
		u.exchangeChanged(from)

		return s.appendEvent(ctx, tx, u, timeline.EventTermsEdited, map[string]any{
			"role":     u.role,
			"field":    cmd.Field(),
			"reopened": reopened,
		})
	})
	if err != nil {
		return View{}, err
	}
	return ViewOf(u.sess), nil
}

// SetDeliverableCompleted claims or unclaims one of the caller's own
// deliverables. The first claim on an accepted exchange starts the work.
func (s *Service) SetDeliverableCompleted(ctx context.Context, caller auth.Identity, exchangeID string, index int, completed bool) (View, error) {
	u, err := s.run(ctx, "set deliverable completed", exchangeID, caller, false, func(tx pgx.Tx, u *unit) error {
		if err := requireActive(&u.ex); err != nil {
			return err
		}
		action, eventType := ActionUnclaim, timeline.EventDeliverableUnclaimed
		if completed {
			action, eventType = ActionClaim, timeline.EventDeliverableClaimed
		}
		d, err := u.sess.Act(u.role, index, action, u.actorID, "", u.now)
		if err != nil {
			return err
		}
		u.dirty = true

		if completed && u.ex.Status == exchange.StatusAccepted {
			from := u.ex.Status
			if err := u.ex.Start(u.now); err != nil {
				return err
			}
			u.exchangeChanged(from)
		}
		return s.appendEvent(ctx, tx, u, eventType, map[string]any{
			"role":  u.role,
			"index": index,
			"title": d.Title,
		})
	})
	if err != nil {
		return View{}, err
	}
	return ViewOf(u.sess), nil
}

// ConfirmDeliverable confirms a deliverable on the counter-party's list and
// runs completion detection.
func (s *Service) ConfirmDeliverable(ctx context.Context, caller auth.Identity, exchangeID string, index int) (ConfirmResult, error) {
	var completed bool
	u, err := s.run(ctx, "confirm deliverable", exchangeID, caller, false, func(tx pgx.Tx, u *unit) error {
		if err := requireActive(&u.ex); err != nil {
			return err
		}
		owner := u.role.Counter()
		d, err := u.sess.Act(owner, index, ActionConfirm, u.actorID, "", u.now)
		if err != nil {
			return err
		}
		u.dirty = true
		if err := s.appendEvent(ctx, tx, u, timeline.EventDeliverableConfirmed, map[string]any{
			"owner": owner,
			"index": index,
			"title": d.Title,
		}); err != nil {
			return err
		}
		completed, err = s.completeIfDone(ctx, tx, u)
		return err
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Session: ViewOf(u.sess), Completed: completed}, nil
}

// DisputeDeliverable disputes a deliverable on the counter-party's list and
// opens a dispute record for an administrator.
func (s *Service) DisputeDeliverable(ctx context.Context, caller auth.Identity, exchangeID string, index int, reason string) (dispute.Record, View, error) {
	var rec dispute.Record
	u, err := s.run(ctx, "dispute deliverable", exchangeID, caller, false, func(tx pgx.Tx, u *unit) error {
		if err := requireActive(&u.ex); err != nil {
			return err
		}
		owner := u.role.Counter()
		d, err := u.sess.Act(owner, index, ActionDispute, u.actorID, reason, u.now)
		if err != nil {
			return err
		}
		u.dirty = true

		ref := dispute.DeliverableRef{ExchangeID: exchangeID, Owner: owner, Index: index, Title: d.Title}
		rec = dispute.Record{
			ID:           s.newID(),
			ExchangeID:   exchangeID,
			RaisedBy:     u.actorID,
			RaisedByRole: u.role,
			Description:  strings.TrimSpace(reason),
			Evidence:     dispute.FormatEvidence(ref, u.role),
			Ref:          &ref,
			Status:       dispute.StatusOpen,
			CreatedAt:    u.now,
			UpdatedAt:    u.now,
		}
		if err := s.disputes.Insert(ctx, tx, rec); err != nil {
			return err
		}
		id := rec.ID
		u.sess.Terms.For(owner).Deliverables[index].DisputeID = &id

		u.ex.Dispute.HasDispute = true
		u.ex.UpdatedAt = u.now
		u.exchangeChanged(u.ex.Status)

		return s.appendEvent(ctx, tx, u, timeline.EventDeliverableDisputed, map[string]any{
			"dispute_id": rec.ID,
			"owner":      owner,
			"index":      index,
			"title":      d.Title,
		})
	})
	if err != nil {
		return dispute.Record{}, View{}, err
	}
	return rec, ViewOf(u.sess), nil
}

// CheckCompletion runs completion detection on demand. It is safe to call
// any number of times.
func (s *Service) CheckCompletion(ctx context.Context, caller auth.Identity, exchangeID string) (ConfirmResult, error) {
	var completed bool
	u, err := s.run(ctx, "check completion", exchangeID, caller, true, func(tx pgx.Tx, u *unit) error {
		var err error
		completed, err = s.completeIfDone(ctx, tx, u)
		return err
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Session: ViewOf(u.sess), Completed: completed}, nil
}

// ReconcileDeliverable confirms the disputed deliverable ref on behalf of
// adminID inside the caller's transaction, then runs completion detection.
// It returns the notifications for the caller to send after commit.
func (s *Service) ReconcileDeliverable(ctx context.Context, tx pgx.Tx, ref dispute.DeliverableRef, adminID string) ([]dispute.Notification, error) {
	if !ref.Owner.Valid() {
		return nil, ErrReferenceMismatch
	}
	ex, err := s.exchanges.GetForUpdate(ctx, tx, ref.ExchangeID)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetForUpdate(ctx, tx, ref.ExchangeID)
	if err != nil {
		return nil, err
	}
	u := &unit{ex: ex, sess: sess, actorID: adminID, now: s.now()}

	list := u.sess.Terms.For(ref.Owner).Deliverables
	if ref.Index < 0 || ref.Index >= len(list) {
		return nil, ErrBadIndex
	}
	if ref.Title != "" && list[ref.Index].Title != ref.Title {
		return nil, ErrReferenceMismatch
	}
	if _, err := u.sess.Act(ref.Owner, ref.Index, ActionAdminConfirm, adminID, "", u.now); err != nil {
		return nil, err
	}
	u.dirty = true
	if err := s.appendEvent(ctx, tx, u, timeline.EventDeliverableConfirmed, map[string]any{
		"owner":    ref.Owner,
		"index":    ref.Index,
		"title":    list[ref.Index].Title,
		"by_admin": true,
	}); err != nil {
		return nil, err
	}
	if _, err := s.completeIfDone(ctx, tx, u); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tx, u); err != nil {
		return nil, err
	}
	out := make([]dispute.Notification, 0, len(u.notes))
	for _, n := range u.notes {
		out = append(out, dispute.Notification{EventType: n.eventType, Payload: n.payload})
	}
	return out, nil
}

// completeIfDone completes the session once every deliverable is confirmed.
// Success counters are applied at most once per session.
func (s *Service) completeIfDone(ctx context.Context, tx pgx.Tx, u *unit) (bool, error) {
	if !u.sess.AllConfirmed() {
		return false, nil
	}
	// a cancelled or expired exchange still closes its session but earns
	// nobody a successful exchange
	credit := u.ex.Status != exchange.StatusCancelled && u.ex.Status != exchange.StatusExpired
	changed, countersDue := u.sess.Complete(u.now, credit)
	if !changed && !countersDue {
		return false, nil
	}
	u.dirty = true

	if countersDue {
		for _, p := range []exchange.Participant{u.ex.Initiator, u.ex.Recipient} {
			if err := s.ledger.IncrementSuccessfulExchanges(ctx, tx, p.UserID); err != nil {
				return false, err
			}
		}
	}

	switch u.ex.Status {
	case exchange.StatusAccepted, exchange.StatusInProgress:
		from := u.ex.Status
		steps, err := u.ex.Complete(u.now)
		if err != nil {
			return false, err
		}
		for _, to := range steps {
			u.steps = append(u.steps, statusStep{from: from, to: to})
			from = to
		}
		u.exDirty = true
	case exchange.StatusCompleted:
	case exchange.StatusCancelled, exchange.StatusExpired:
		s.logger.Info("session completed on a closed exchange without credit",
			"operation", "complete", "exchange_id", u.ex.ID, "status", u.ex.Status)
	default:
		s.logger.Warn("session completed but exchange not advanced",
			"operation", "complete", "exchange_id", u.ex.ID, "status", u.ex.Status)
	}

	if !changed {
		return false, nil
	}
	return true, s.appendEvent(ctx, tx, u, timeline.EventSessionCompleted, map[string]any{
		"stats_applied": countersDue,
	})
}
