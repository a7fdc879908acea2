package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"skillbarter/apperr"
	"skillbarter/auth"
	"skillbarter/db"
	"skillbarter/exchange"
	"skillbarter/timeline"
)

// ErrUnauthenticated signals a request without caller identity.
var ErrUnauthenticated = apperr.New(apperr.KindUnauthorized, "dispute: caller identity required")

// Store is the dispute persistence the service needs.
type Store interface {
	Lookup(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListByExchange(ctx context.Context, exchangeID string) ([]Record, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, rec Record) error
	CountOpen(ctx context.Context, tx pgx.Tx, exchangeID string) (int, error)
}

// ExchangeStore reads and writes the exchange a dispute belongs to.
type ExchangeStore interface {
	Get(ctx context.Context, id string) (exchange.Exchange, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (exchange.Exchange, error)
	Update(ctx context.Context, tx pgx.Tx, e exchange.Exchange) error
}

// Notification is a state change to broadcast once the surrounding
// transaction has committed.
type Notification struct {
	EventType string
	Payload   map[string]any
}

// Reconciler applies an administrator ruling to the disputed deliverable.
// The returned notifications describe what the ruling changed and are only
// sent if the ruling is kept.
type Reconciler interface {
	ReconcileDeliverable(ctx context.Context, tx pgx.Tx, ref DeliverableRef, adminID string) ([]Notification, error)
}

// AdminLedger counts disputes handled per administrator.
type AdminLedger interface {
	IncrementDisputesHandled(ctx context.Context, tx pgx.Tx, userID string) error
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
	pool       db.TxBeginner
	repo       Store
	exchanges  ExchangeStore
	reconciler Reconciler
	ledger     AdminLedger
	history    History
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(pool db.TxBeginner, repo Store, exchanges ExchangeStore, reconciler Reconciler, ledger AdminLedger, history History, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		exchanges:  exchanges,
		reconciler: reconciler,
		ledger:     ledger,
		history:    history,
		notifier:   notifier,
		logger:     logger.With("module", "dispute"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func requireAdmin(caller auth.Identity) error {
	if caller.UserID == "" {
		return ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// reference returns the typed deliverable reference of rec, falling back
// to the evidence text for records that predate it.
func reference(rec Record) (DeliverableRef, error) {
	if rec.Ref != nil {
		ref := *rec.Ref
		ref.ExchangeID = rec.ExchangeID
		return ref, nil
	}
	return ParseEvidence(rec.ExchangeID, rec.Evidence)
}

// Resolve records an administrator ruling. The disputed deliverable is
// confirmed on behalf of the disputing party; when that cannot be applied
// the dispute is still resolved and the failure is reported in the result.
func (s *Service) Resolve(ctx context.Context, caller auth.Identity, disputeID string, req ResolveRequest) (ResolveResult, error) {
	if err := requireAdmin(caller); err != nil {
		return ResolveResult{}, err
	}
	decision := strings.TrimSpace(req.Decision)
	reasoning := strings.TrimSpace(req.Reasoning)
	if decision == "" || reasoning == "" {
		return ResolveResult{}, ErrMissingDecision
	}

	var (
		res     ResolveResult
		pending []Notification
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		peek, err := s.repo.Lookup(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		// exchange row first, as every other writer does
		if _, err := s.exchanges.GetForUpdate(ctx, tx, peek.ExchangeID); err != nil {
			return err
		}
		rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if rec.Status != StatusOpen {
			return ErrAlreadyResolved
		}

		now := s.now()
		admin := caller.UserID
		rec.Status = StatusResolved
		rec.ResolvedBy = &admin
		rec.Resolution = &Resolution{Decision: decision, Reasoning: reasoning, ResolvedAt: now}
		rec.UpdatedAt = now
		if err := s.repo.MarkResolved(ctx, tx, rec); err != nil {
			return err
		}
		res.Dispute = rec

		ref, refErr := reference(rec)
		if refErr == nil {
			var notes []Notification
			refErr = db.Savepoint(ctx, tx, func(sp pgx.Tx) error {
				var err error
				notes, err = s.reconciler.ReconcileDeliverable(ctx, sp, ref, admin)
				return err
			})
			if refErr == nil {
				pending = notes
			}
		}
		if refErr != nil {
			s.logger.Warn("dispute resolved without deliverable reconciliation",
				"operation", "resolve", "dispute_id", rec.ID, "exchange_id", rec.ExchangeID, "error", refErr)
			res.ReconcileError = refErr.Error()
		} else {
			res.Reconciled = true
		}

		open, err := s.repo.CountOpen(ctx, tx, rec.ExchangeID)
		if err != nil {
			return err
		}
		ex, err := s.exchanges.GetForUpdate(ctx, tx, rec.ExchangeID)
		if err != nil {
			return err
		}
		res.HasOpenDisputes = open > 0
		if ex.Dispute.HasDispute != res.HasOpenDisputes {
			ex.Dispute.HasDispute = res.HasOpenDisputes
			ex.UpdatedAt = now
			if err := s.exchanges.Update(ctx, tx, ex); err != nil {
				return err
			}
		}

		if err := db.Savepoint(ctx, tx, func(sp pgx.Tx) error {
			return s.ledger.IncrementDisputesHandled(ctx, sp, admin)
		}); err != nil {
			s.logger.Warn("admin bookkeeping failed", "operation", "resolve", "dispute_id", rec.ID, "error", err)
		}

		return s.history.Append(ctx, tx, rec.ExchangeID, timeline.EventDisputeResolved, admin, map[string]any{
			"dispute_id": rec.ID,
			"decision":   decision,
			"reconciled": res.Reconciled,
		})
	})
	if err != nil {
		return ResolveResult{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	s.logger.Info("dispute resolved", "operation", "resolve", "dispute_id", disputeID,
		"exchange_id", res.Dispute.ExchangeID, "outcome", decisionOutcome(res))
	if s.notifier != nil {
		for _, n := range pending {
			s.notifier.Notify(ctx, res.Dispute.ExchangeID, n.EventType, n.Payload)
		}
		s.notifier.Notify(ctx, res.Dispute.ExchangeID, timeline.EventDisputeResolved, map[string]any{
			"dispute_id":  disputeID,
			"has_dispute": res.HasOpenDisputes,
		})
	}
	return res, nil
}

func decisionOutcome(res ResolveResult) string {
	if res.Reconciled {
		return "reconciled"
	}
	return "partial"
}

// Get returns a dispute to an administrator or a participant of its exchange.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id string) (Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	ex, err := s.exchanges.Get(ctx, rec.ExchangeID)
	if err != nil {
		return Record{}, err
	}
	if _, err := exchange.Authorize(&ex, caller, true); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListForExchange returns the disputes of an exchange visible to the caller.
func (s *Service) ListForExchange(ctx context.Context, caller auth.Identity, exchangeID string) ([]Record, error) {
	ex, err := s.exchanges.Get(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if _, err := exchange.Authorize(&ex, caller, true); err != nil {
		return nil, err
	}
	return s.repo.ListByExchange(ctx, exchangeID)
}

// ListByStatus returns the administrator queue.
func (s *Service) ListByStatus(ctx context.Context, caller auth.Identity, status Status, limit int) ([]Record, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if status != "" && status != StatusOpen && status != StatusResolved {
		return nil, apperr.Errorf(apperr.KindValidation, "dispute: unknown status %q", status)
	}
	return s.repo.ListByStatus(ctx, status, limit)
}
