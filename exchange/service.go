package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"skillbarter/auth"
	"skillbarter/db"
	"skillbarter/timeline"
)

// Repository is the persistence the service needs.
type Repository interface {
	ExternalID(ctx context.Context, tx pgx.Tx, userID string) (string, error)
	Insert(ctx context.Context, tx pgx.Tx, e Exchange) (bool, error)
	FindLive(ctx context.Context, tx pgx.Tx, initiatorID, recipientID string) (Exchange, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Exchange, error)
	Get(ctx context.Context, id string) (Exchange, error)
	List(ctx context.Context, userID string, f ListFilter) ([]Exchange, error)
	Update(ctx context.Context, tx pgx.Tx, e Exchange) error
	ListIdle(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]string, error)
}

// NegotiationReader reports the session state of an exchange.
type NegotiationReader interface {
	NegotiationState(ctx context.Context, tx pgx.Tx, exchangeID string) (NegotiationState, error)
}

// History appends to and reads the exchange timeline.
type History interface {
	Append(ctx context.Context, tx pgx.Tx, exchangeID, eventType, actorID string, payload map[string]any) error
	List(ctx context.Context, exchangeID string) ([]timeline.Event, error)
}

// Notifier broadcasts committed state changes. It must not block.
type Notifier interface {
	Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any)
}

const idleBatch = 500

type Service struct {
	pool        db.TxBeginner
	repo        Repository
	negotiation NegotiationReader
	history     History
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

func NewService(pool db.TxBeginner, repo Repository, negotiation NegotiationReader, history History, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		negotiation: negotiation,
		history:     history,
		notifier:    notifier,
		logger:      logger.With("module", "exchange"),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides exchange id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

// Open starts a first contact from the caller to params.RecipientID. When a
// live exchange already exists for the pair it is returned with created
// set to false.
func (s *Service) Open(ctx context.Context, caller auth.Identity, params OpenParams) (Exchange, bool, error) {
	if caller.UserID == "" {
		return Exchange{}, false, ErrUnauthenticated
	}
	if params.RecipientID == "" {
		return Exchange{}, false, ErrMissingRecipient
	}
	if params.RecipientID == caller.UserID {
		return Exchange{}, false, ErrSelfExchange
	}

	var (
		out     Exchange
		created bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		existing, err := s.repo.FindLive(ctx, tx, caller.UserID, params.RecipientID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		initiatorExt, err := s.repo.ExternalID(ctx, tx, caller.UserID)
		if err != nil {
			return err
		}
		recipientExt, err := s.repo.ExternalID(ctx, tx, params.RecipientID)
		if err != nil {
			return err
		}

		now := s.now()
		e := Exchange{
			ID:               s.newID(),
			Initiator:        Participant{UserID: caller.UserID, ExternalID: initiatorExt},
			Recipient:        Participant{UserID: params.RecipientID, ExternalID: recipientExt},
			InitiatorSkillID: params.InitiatorSkillID,
			RecipientSkillID: params.RecipientSkillID,
			Status:           StatusPending,
			StatusUpdatedAt:  now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		ok, err := s.repo.Insert(ctx, tx, e)
		if err != nil {
			return err
		}
		if !ok {
			// lost the race against a concurrent first contact
			out, err = s.repo.FindLive(ctx, tx, caller.UserID, params.RecipientID)
			return err
		}
		if err := s.history.Append(ctx, tx, e.ID, timeline.EventExchangeOpened, caller.UserID, map[string]any{
			"recipient_id": e.Recipient.UserID,
		}); err != nil {
			return err
		}
		out, created = e, true
		return nil
	})
	if err != nil {
		return Exchange{}, false, fmt.Errorf("exchange: open: %w", err)
	}
	if created {
		s.notify(ctx, out.ID, timeline.EventExchangeOpened, map[string]any{"status": out.Status})
	}
	return out, created, nil
}

// Get returns an exchange visible to the caller.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id string) (Exchange, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Exchange{}, err
	}
	if _, err := Authorize(&e, caller, true); err != nil {
		return Exchange{}, err
	}
	return e, nil
}

// List returns the caller's exchanges.
func (s *Service) List(ctx context.Context, caller auth.Identity, f ListFilter) ([]Exchange, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrUnknownStatus
	}
	return s.repo.List(ctx, caller.UserID, f)
}

// Timeline returns the history of an exchange visible to the caller.
func (s *Service) Timeline(ctx context.Context, caller auth.Identity, id string) ([]timeline.Event, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.history.List(ctx, id)
}

// Accept records the caller's acceptance of the agreed terms.
func (s *Service) Accept(ctx context.Context, caller auth.Identity, id string) (AcceptResult, error) {
	var res AcceptResult
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		e, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		role, err := Authorize(&e, caller, false)
		if err != nil {
			return err
		}
		state, err := s.negotiation.NegotiationState(ctx, tx, id)
		if err != nil {
			return err
		}
		if !state.BothAgreed {
			return ErrNegotiationIncomplete
		}

		from := e.Status
		now := s.now()
		both, err := e.Accept(role, now)
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, e); err != nil {
			return err
		}
		if err := s.history.Append(ctx, tx, e.ID, timeline.EventExchangeAccepted, caller.UserID, map[string]any{
			"role":          role,
			"both_accepted": both,
		}); err != nil {
			return err
		}
		if from != e.Status {
			if err := s.appendStatusChange(ctx, tx, e.ID, caller.UserID, from, e.Status, "acceptance"); err != nil {
				return err
			}
		}
		res = AcceptResult{Exchange: e, BothAccepted: both}
		return nil
	})
	if err != nil {
		return AcceptResult{}, fmt.Errorf("exchange: accept: %w", err)
	}
	s.notify(ctx, id, timeline.EventExchangeAccepted, map[string]any{
		"status":        res.Exchange.Status,
		"both_accepted": res.BothAccepted,
	})
	return res, nil
}

// UpdateStatus applies a caller-driven status change: cancellation, the
// explicit start of work, or the pending to negotiating promotion. Other
// statuses are owned by the negotiation protocol.
func (s *Service) UpdateStatus(ctx context.Context, caller auth.Identity, id string, next Status, reason string) (Exchange, error) {
	if !next.Valid() {
		return Exchange{}, ErrUnknownStatus
	}

	var out Exchange
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		e, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := Authorize(&e, caller, next == StatusCancelled); err != nil {
			return err
		}

		from := e.Status
		now := s.now()
		switch {
		case next == StatusCancelled:
			err = e.Cancel(caller.UserID, reason, now)
		case !CanTransition(from, next):
			err = e.transition(next, now)
		case next == StatusInProgress:
			err = e.Start(now)
		case next == StatusNegotiating:
			_, err = e.StartNegotiation(now)
		default:
			err = ErrProtocolStatus
		}
		if err != nil {
			return err
		}

		if err := s.repo.Update(ctx, tx, e); err != nil {
			return err
		}
		if err := s.appendStatusChange(ctx, tx, e.ID, caller.UserID, from, e.Status, reason); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: update status: %w", err)
	}
	s.notify(ctx, id, timeline.EventExchangeStatusChanged, map[string]any{"status": out.Status})
	return out, nil
}

// Sync re-derives the exchange status from its negotiation session for
// rows that drifted behind it.
func (s *Service) Sync(ctx context.Context, caller auth.Identity, id string) (Exchange, error) {
	var (
		out     Exchange
		changed bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		e, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := Authorize(&e, caller, true); err != nil {
			return err
		}
		state, err := s.negotiation.NegotiationState(ctx, tx, id)
		if err != nil {
			return err
		}

		from := e.Status
		now := s.now()
		switch {
		case !state.Exists || e.Status.Terminal():
		case state.Completed && (e.Status == StatusAccepted || e.Status == StatusInProgress):
			if _, err := e.Complete(now); err != nil {
				return err
			}
		case state.BothAgreed && (e.Status == StatusPending || e.Status == StatusNegotiating):
			if err := e.MarkNegotiated(now); err != nil {
				return err
			}
		}
		out = e
		if from == e.Status {
			return nil
		}
		changed = true
		if err := s.repo.Update(ctx, tx, e); err != nil {
			return err
		}
		return s.appendStatusChange(ctx, tx, e.ID, caller.UserID, from, e.Status, "sync")
	})
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: sync: %w", err)
	}
	if changed {
		s.logger.Info("exchange status synced", "operation", "sync", "exchange_id", id, "status", out.Status)
		s.notify(ctx, id, timeline.EventExchangeStatusChanged, map[string]any{"status": out.Status})
	}
	return out, nil
}

// ExpireIdle moves pre-acceptance exchanges untouched since cutoff to
// expired and returns how many were closed.
func (s *Service) ExpireIdle(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []string
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		ids, err := s.repo.ListIdle(ctx, tx, cutoff, idleBatch)
		if err != nil {
			return err
		}
		now := s.now()
		for _, id := range ids {
			e, err := s.repo.GetForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			from := e.Status
			if err := e.Expire(now); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, tx, e); err != nil {
				return err
			}
			if err := s.appendStatusChange(ctx, tx, id, "", from, e.Status, "idle"); err != nil {
				return err
			}
			expired = append(expired, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("exchange: expire idle: %w", err)
	}
	for _, id := range expired {
		s.notify(ctx, id, timeline.EventExchangeStatusChanged, map[string]any{"status": StatusExpired})
	}
	return len(expired), nil
}

func (s *Service) appendStatusChange(ctx context.Context, tx pgx.Tx, id, actorID string, from, to Status, reason string) error {
	payload := map[string]any{"from": from, "to": to}
	if reason != "" {
		payload["reason"] = reason
	}
	return s.history.Append(ctx, tx, id, timeline.EventExchangeStatusChanged, actorID, payload)
}

func (s *Service) notify(ctx context.Context, id, eventType string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, id, eventType, payload)
}
