package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skillbarter/auth"
	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/negotiation"
	"skillbarter/profile"
	"skillbarter/timeline"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

type exchangeService interface {
	Open(ctx context.Context, caller auth.Identity, params exchange.OpenParams) (exchange.Exchange, bool, error)
	Get(ctx context.Context, caller auth.Identity, id string) (exchange.Exchange, error)
	List(ctx context.Context, caller auth.Identity, f exchange.ListFilter) ([]exchange.Exchange, error)
	Timeline(ctx context.Context, caller auth.Identity, id string) ([]timeline.Event, error)
	Accept(ctx context.Context, caller auth.Identity, id string) (exchange.AcceptResult, error)
	UpdateStatus(ctx context.Context, caller auth.Identity, id string, next exchange.Status, reason string) (exchange.Exchange, error)
	Sync(ctx context.Context, caller auth.Identity, id string) (exchange.Exchange, error)
}

type negotiationService interface {
	Get(ctx context.Context, caller auth.Identity, exchangeID string) (negotiation.View, error)
	Agreement(ctx context.Context, caller auth.Identity, exchangeID string) (negotiation.AgreementView, error)
	Agree(ctx context.Context, caller auth.Identity, exchangeID string) (negotiation.AgreementView, error)
	Edit(ctx context.Context, caller auth.Identity, exchangeID string, cmd negotiation.Command) (negotiation.View, error)
	SetDeliverableCompleted(ctx context.Context, caller auth.Identity, exchangeID string, index int, completed bool) (negotiation.View, error)
	ConfirmDeliverable(ctx context.Context, caller auth.Identity, exchangeID string, index int) (negotiation.ConfirmResult, error)
	DisputeDeliverable(ctx context.Context, caller auth.Identity, exchangeID string, index int, reason string) (dispute.Record, negotiation.View, error)
	CheckCompletion(ctx context.Context, caller auth.Identity, exchangeID string) (negotiation.ConfirmResult, error)
}

type disputeService interface {
	Resolve(ctx context.Context, caller auth.Identity, disputeID string, req dispute.ResolveRequest) (dispute.ResolveResult, error)
	Get(ctx context.Context, caller auth.Identity, id string) (dispute.Record, error)
	ListForExchange(ctx context.Context, caller auth.Identity, exchangeID string) ([]dispute.Record, error)
	ListByStatus(ctx context.Context, caller auth.Identity, status dispute.Status, limit int) ([]dispute.Record, error)
}

type profileService interface {
	GetByID(ctx context.Context, id string) (profile.Profile, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService        authService
	exchangeService    exchangeService
	negotiationService negotiationService
	disputeService     disputeService
	profileService     profileService
	logger             *slog.Logger
	requestTimeout     time.Duration
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	if s.requestTimeout > 0 {
		r.Use(timeoutMiddleware(s.requestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeData(w, http.StatusOK, "ok") })

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/exchanges", func(r chi.Router) {
			r.Post("/", s.handleOpenExchange)
			r.Get("/", s.handleListExchanges)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetExchange)
				r.Patch("/", s.handleUpdateStatus)
				r.Post("/accept", s.handleAccept)
				r.Post("/sync", s.handleSync)
				r.Get("/timeline", s.handleTimeline)
				r.Get("/disputes", s.handleExchangeDisputes)

				r.Route("/negotiation", func(r chi.Router) {
					r.Get("/", s.handleGetNegotiation)
					r.Get("/agreement", s.handleGetAgreement)
					r.Post("/agreement", s.handleAgree)
					r.Patch("/offer", s.handleEditOffer)
					r.Patch("/deliverables", s.handleSetDeliverableCompleted)
					r.Post("/deliverables", s.handleDeliverableAction)
					r.Post("/complete", s.handleCheckCompletion)
				})
			})
		})

		r.Get("/disputes/{id}", s.handleGetDispute)
		r.Get("/users/{id}/profile", s.handleProfile)

		r.Route("/admin/disputes", func(r chi.Router) {
			r.Get("/", s.handleAdminDisputes)
			r.Post("/{id}/resolve", s.handleResolveDispute)
		})
	})
	return r
}
