package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"skillbarter/apperr"
	"skillbarter/auth"
	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/negotiation"
)

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	ExternalID  string    `json:"externalId"`
	Role        auth.Role `json:"role"`
	CreatedAt   string    `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		ExternalID:  u.ExternalID,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, "register", err)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "register", err)
		return
	}
	writeData(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, "login", err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "login", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"token": res.Token, "user": toUserResponse(res.User)})
}

func (s *Server) handleOpenExchange(w http.ResponseWriter, r *http.Request) {
	var params exchange.OpenParams
	if err := readJSON(r, &params); err != nil {
		s.writeError(w, r, "open exchange", err)
		return
	}
	ex, created, err := s.exchangeService.Open(r.Context(), identityFromContext(r.Context()), params)
	if err != nil {
		s.writeError(w, r, "open exchange", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, ex)
}

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := exchange.ListFilter{
		Role:   exchange.Role(q.Get("role")),
		Status: exchange.Status(q.Get("status")),
		Limit:  queryLimit(r, 50, 200),
	}
	if filter.Role != "" && !filter.Role.Valid() {
		writeReason(w, http.StatusBadRequest, "role must be initiator or recipient")
		return
	}
	list, err := s.exchangeService.List(r.Context(), identityFromContext(r.Context()), filter)
	if err != nil {
		s.writeError(w, r, "list exchanges", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"items": list, "total": len(list)})
}

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := s.exchangeService.Get(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get exchange", err)
		return
	}
	writeData(w, http.StatusOK, ex)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status exchange.Status `json:"status"`
		Reason string          `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, "update status", err)
		return
	}
	ex, err := s.exchangeService.UpdateStatus(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"), body.Status, body.Reason)
	if err != nil {
		s.writeError(w, r, "update status", err)
		return
	}
	writeData(w, http.StatusOK, ex)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	res, err := s.exchangeService.Accept(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "accept", err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ex, err := s.exchangeService.Sync(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "sync", err)
		return
	}
	writeData(w, http.StatusOK, ex)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.exchangeService.Timeline(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "timeline", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"items": events})
}

func (s *Server) handleExchangeDisputes(w http.ResponseWriter, r *http.Request) {
	list, err := s.disputeService.ListForExchange(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "list exchange disputes", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"items": list})
}

func (s *Server) handleGetNegotiation(w http.ResponseWriter, r *http.Request) {
	v, err := s.negotiationService.Get(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get negotiation", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	v, err := s.negotiationService.Agreement(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get agreement", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (s *Server) handleAgree(w http.ResponseWriter, r *http.Request) {
	v, err := s.negotiationService.Agree(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "agree", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (s *Server) handleEditOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FieldName  string          `json:"fieldName"`
		FieldValue json.RawMessage `json:"fieldValue"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, "edit offer", err)
		return
	}
	cmd, err := negotiation.DecodeCommand(strings.TrimSpace(body.FieldName), body.FieldValue)
	if err != nil {
		s.writeError(w, r, "edit offer", err)
		return
	}
	v, err := s.negotiationService.Edit(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"), cmd)
	if err != nil {
		s.writeError(w, r, "edit offer", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

var errIndexRequired = apperr.New(apperr.KindValidation, "deliverableIndex is required")

func (s *Server) handleSetDeliverableCompleted(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeliverableIndex *int `json:"deliverableIndex"`
		Completed        bool `json:"completed"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, "set deliverable completed", err)
		return
	}
	if body.DeliverableIndex == nil {
		s.writeError(w, r, "set deliverable completed", errIndexRequired)
		return
	}
	v, err := s.negotiationService.SetDeliverableCompleted(r.Context(), identityFromContext(r.Context()),
		chi.URLParam(r, "id"), *body.DeliverableIndex, body.Completed)
	if err != nil {
		s.writeError(w, r, "set deliverable completed", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (s *Server) handleDeliverableAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action           string `json:"action"`
		DeliverableIndex *int   `json:"deliverableIndex"`
		Reason           string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, "deliverable action", err)
		return
	}
	if body.DeliverableIndex == nil {
		s.writeError(w, r, "deliverable action", errIndexRequired)
		return
	}
	caller := identityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	switch body.Action {
	case "confirm":
		res, err := s.negotiationService.ConfirmDeliverable(r.Context(), caller, id, *body.DeliverableIndex)
		if err != nil {
			s.writeError(w, r, "confirm deliverable", err)
			return
		}
		writeData(w, http.StatusOK, res)
	case "dispute":
		rec, v, err := s.negotiationService.DisputeDeliverable(r.Context(), caller, id, *body.DeliverableIndex, body.Reason)
		if err != nil {
			s.writeError(w, r, "dispute deliverable", err)
			return
		}
		writeData(w, http.StatusCreated, map[string]any{"dispute": rec, "session": v})
	default:
		writeReason(w, http.StatusBadRequest, "action must be confirm or dispute")
	}
}

func (s *Server) handleCheckCompletion(w http.ResponseWriter, r *http.Request) {
	res, err := s.negotiationService.CheckCompletion(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "check completion", err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputeService.Get(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get dispute", err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleAdminDisputes(w http.ResponseWriter, r *http.Request) {
	status := dispute.Status(r.URL.Query().Get("status"))
	list, err := s.disputeService.ListByStatus(r.Context(), identityFromContext(r.Context()), status, queryLimit(r, 100, 500))
	if err != nil {
		s.writeError(w, r, "list disputes", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"items": list, "total": len(list)})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req dispute.ResolveRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, "resolve dispute", err)
		return
	}
	res, err := s.disputeService.Resolve(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, "resolve dispute", err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profileService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get profile", err)
		return
	}
	writeData(w, http.StatusOK, p)
}
