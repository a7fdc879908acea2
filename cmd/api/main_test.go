package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skillbarter/auth"
	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/negotiation"
	"skillbarter/profile"
	"skillbarter/timeline"
)

type stubAuth struct {
	identities map[string]auth.Identity
	user       auth.User
	err        error
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u := s.user
	u.Email = req.Email
	return &u, nil
}

func (s *stubAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{Token: "tok", User: s.user}, s.err
}

func (s *stubAuth) VerifyToken(token string) (auth.Identity, error) {
	id, ok := s.identities[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

type stubExchanges struct {
	exchange  exchange.Exchange
	created   bool
	accept    exchange.AcceptResult
	err       error
	gotCaller auth.Identity
	gotStatus exchange.Status
}

func (s *stubExchanges) Open(_ context.Context, caller auth.Identity, _ exchange.OpenParams) (exchange.Exchange, bool, error) {
	s.gotCaller = caller
	return s.exchange, s.created, s.err
}

func (s *stubExchanges) Get(_ context.Context, caller auth.Identity, _ string) (exchange.Exchange, error) {
	s.gotCaller = caller
	return s.exchange, s.err
}

func (s *stubExchanges) List(context.Context, auth.Identity, exchange.ListFilter) ([]exchange.Exchange, error) {
	return []exchange.Exchange{s.exchange}, s.err
}

func (s *stubExchanges) Timeline(context.Context, auth.Identity, string) ([]timeline.Event, error) {
	return nil, s.err
}

func (s *stubExchanges) Accept(_ context.Context, caller auth.Identity, _ string) (exchange.AcceptResult, error) {
	s.gotCaller = caller
	return s.accept, s.err
}

func (s *stubExchanges) UpdateStatus(_ context.Context, _ auth.Identity, _ string, next exchange.Status, _ string) (exchange.Exchange, error) {
	s.gotStatus = next
	return s.exchange, s.err
}

func (s *stubExchanges) Sync(context.Context, auth.Identity, string) (exchange.Exchange, error) {
	return s.exchange, s.err
}

type stubNegotiation struct {
	view     negotiation.View
	confirm  negotiation.ConfirmResult
	record   dispute.Record
	err      error
	gotCmd   negotiation.Command
	gotIndex int
	gotDone  bool
}

func (s *stubNegotiation) Get(context.Context, auth.Identity, string) (negotiation.View, error) {
	return s.view, s.err
}

func (s *stubNegotiation) Agreement(context.Context, auth.Identity, string) (negotiation.AgreementView, error) {
	return negotiation.AgreementView{}, s.err
}

func (s *stubNegotiation) Agree(context.Context, auth.Identity, string) (negotiation.AgreementView, error) {
	return negotiation.AgreementView{BothAgreed: true, Status: negotiation.StatusAgreed}, s.err
}

func (s *stubNegotiation) Edit(_ context.Context, _ auth.Identity, _ string, cmd negotiation.Command) (negotiation.View, error) {
	s.gotCmd = cmd
	return s.view, s.err
}

func (s *stubNegotiation) SetDeliverableCompleted(_ context.Context, _ auth.Identity, _ string, index int, completed bool) (negotiation.View, error) {
	s.gotIndex, s.gotDone = index, completed
	return s.view, s.err
}

func (s *stubNegotiation) ConfirmDeliverable(_ context.Context, _ auth.Identity, _ string, index int) (negotiation.ConfirmResult, error) {
	s.gotIndex = index
	return s.confirm, s.err
}

func (s *stubNegotiation) DisputeDeliverable(_ context.Context, _ auth.Identity, _ string, index int, _ string) (dispute.Record, negotiation.View, error) {
	s.gotIndex = index
	return s.record, s.view, s.err
}

func (s *stubNegotiation) CheckCompletion(context.Context, auth.Identity, string) (negotiation.ConfirmResult, error) {
	return s.confirm, s.err
}

type stubDisputes struct {
	result dispute.ResolveResult
	list   []dispute.Record
	err    error
}

func (s *stubDisputes) Resolve(context.Context, auth.Identity, string, dispute.ResolveRequest) (dispute.ResolveResult, error) {
	return s.result, s.err
}

func (s *stubDisputes) Get(context.Context, auth.Identity, string) (dispute.Record, error) {
	return dispute.Record{}, s.err
}

func (s *stubDisputes) ListForExchange(context.Context, auth.Identity, string) ([]dispute.Record, error) {
	return s.list, s.err
}

func (s *stubDisputes) ListByStatus(context.Context, auth.Identity, dispute.Status, int) ([]dispute.Record, error) {
	return s.list, s.err
}

type stubProfiles struct {
	profile profile.Profile
	err     error
}

func (s *stubProfiles) GetByID(context.Context, string) (profile.Profile, error) {
	return s.profile, s.err
}

type testEnv struct {
	server      *Server
	exchanges   *stubExchanges
	negotiation *stubNegotiation
	disputes    *stubDisputes
	profiles    *stubProfiles
	handler     http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		exchanges:   &stubExchanges{},
		negotiation: &stubNegotiation{},
		disputes:    &stubDisputes{},
		profiles:    &stubProfiles{},
	}
	env.server = &Server{
		authService: &stubAuth{
			identities: map[string]auth.Identity{
				"alice-token": {UserID: "alice", Role: auth.RoleMember},
				"admin-token": {UserID: "root", Role: auth.RoleAdmin},
			},
			user: auth.User{ID: "u1", DisplayName: "Alice", Role: auth.RoleMember, CreatedAt: time.Now()},
		},
		exchangeService:    env.exchanges,
		negotiationService: env.negotiation,
		disputeService:     env.disputes,
		profileService:     env.profiles,
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		requestTimeout:     time.Second,
	}
	env.handler = env.server.Routes()
	return env
}

func (env *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Reason  string          `json:"reason"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestAuthMiddleware_RejectsMissingAndInvalidTokens(t *testing.T) {
	env := newTestEnv()
	if rec := env.do(http.MethodGet, "/exchanges/ex-1", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/exchanges/ex-1", "forged", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Success || resp.Reason == "" {
		t.Fatalf("expected failure envelope, got %+v", resp)
	}
}

func TestHandleAccept_Success(t *testing.T) {
	env := newTestEnv()
	env.exchanges.accept = exchange.AcceptResult{
		Exchange:     exchange.Exchange{ID: "ex-1", Status: exchange.StatusAccepted},
		BothAccepted: true,
	}

	rec := env.do(http.MethodPost, "/exchanges/ex-1/accept", "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	var data exchange.AcceptResult
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !resp.Success || !data.BothAccepted || data.Exchange.Status != exchange.StatusAccepted {
		t.Fatalf("unexpected payload %+v", data)
	}
	if env.exchanges.gotCaller.UserID != "alice" {
		t.Fatalf("expected caller alice, got %+v", env.exchanges.gotCaller)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{exchange.ErrNegotiationIncomplete, http.StatusBadRequest},
		{exchange.ErrAlreadyAccepted, http.StatusBadRequest},
		{exchange.ErrNotParticipant, http.StatusForbidden},
		{exchange.ErrNotFound, http.StatusNotFound},
		{exchange.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		env := newTestEnv()
		env.exchanges.err = tc.err
		rec := env.do(http.MethodPost, "/exchanges/ex-1/accept", "alice-token", "")
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		resp := decode(t, rec)
		if resp.Success {
			t.Fatalf("%v: expected success=false", tc.err)
		}
		if tc.status == http.StatusInternalServerError && resp.Reason != "internal server error" {
			t.Fatalf("internal error leaked: %q", resp.Reason)
		}
	}
}

func TestHandleUpdateStatus_InvalidTransition(t *testing.T) {
	env := newTestEnv()
	env.exchanges.err = exchange.ErrProtocolStatus
	rec := env.do(http.MethodPatch, "/exchanges/ex-1", "alice-token", `{"status":"completed"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.exchanges.gotStatus != exchange.StatusCompleted {
		t.Fatalf("expected status forwarded, got %q", env.exchanges.gotStatus)
	}
}

func TestHandleOpenExchange_CreatedVsExisting(t *testing.T) {
	env := newTestEnv()
	env.exchanges.exchange = exchange.Exchange{ID: "ex-1", Status: exchange.StatusPending}
	env.exchanges.created = true
	if rec := env.do(http.MethodPost, "/exchanges", "alice-token", `{"recipientId":"bob"}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	env.exchanges.created = false
	if rec := env.do(http.MethodPost, "/exchanges", "alice-token", `{"recipientId":"bob"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing exchange, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/exchanges", "alice-token", `{"recipient":"bob"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestHandleEditOffer_DecodesCommand(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPatch, "/exchanges/ex-1/negotiation/offer", "alice-token", `{"fieldName":"hours","fieldValue":12}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cmd, ok := env.negotiation.gotCmd.(negotiation.EditHours); !ok || cmd.Hours != 12 {
		t.Fatalf("unexpected command %#v", env.negotiation.gotCmd)
	}

	rec = env.do(http.MethodPatch, "/exchanges/ex-1/negotiation/offer", "alice-token", `{"fieldName":"rating","fieldValue":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}

	env.negotiation.err = negotiation.ErrFieldForbidden
	rec = env.do(http.MethodPatch, "/exchanges/ex-1/negotiation/offer", "alice-token", `{"fieldName":"amount","fieldValue":10}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleDeliverables(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPatch, "/exchanges/ex-1/negotiation/deliverables", "alice-token", `{"deliverableIndex":1,"completed":true}`)
	if rec.Code != http.StatusOK || env.negotiation.gotIndex != 1 || !env.negotiation.gotDone {
		t.Fatalf("claim: code=%d index=%d done=%v", rec.Code, env.negotiation.gotIndex, env.negotiation.gotDone)
	}

	if rec := env.do(http.MethodPatch, "/exchanges/ex-1/negotiation/deliverables", "alice-token", `{"completed":true}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without index, got %d", rec.Code)
	}

	env.negotiation.record = dispute.Record{ID: "d-1", Status: dispute.StatusOpen}
	rec = env.do(http.MethodPost, "/exchanges/ex-1/negotiation/deliverables", "alice-token", `{"action":"dispute","deliverableIndex":0,"reason":"late"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for dispute, got %d", rec.Code)
	}

	if rec := env.do(http.MethodPost, "/exchanges/ex-1/negotiation/deliverables", "alice-token", `{"action":"approve","deliverableIndex":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}

	env.negotiation.err = negotiation.ErrNotCompleted
	if rec := env.do(http.MethodPost, "/exchanges/ex-1/negotiation/deliverables", "alice-token", `{"action":"confirm","deliverableIndex":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unclaimed deliverable, got %d", rec.Code)
	}
}

func TestHandleResolveDispute(t *testing.T) {
	env := newTestEnv()
	env.disputes.err = dispute.ErrForbidden
	if rec := env.do(http.MethodPost, "/admin/disputes/d-1/resolve", "alice-token", `{"decision":"ok","reasoning":"fine"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", rec.Code)
	}

	env.disputes.err = nil
	env.disputes.result = dispute.ResolveResult{Dispute: dispute.Record{ID: "d-1", Status: dispute.StatusResolved}, Reconciled: true}
	rec := env.do(http.MethodPost, "/admin/disputes/d-1/resolve", "admin-token", `{"decision":"ok","reasoning":"fine"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var data dispute.ResolveResult
	if err := json.Unmarshal(decode(t, rec).Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !data.Reconciled || data.Dispute.Status != dispute.StatusResolved {
		t.Fatalf("unexpected result %+v", data)
	}
}

func TestHandleProfile_NotFound(t *testing.T) {
	env := newTestEnv()
	env.profiles.err = profile.ErrNotFound
	if rec := env.do(http.MethodGet, "/users/ghost/profile", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandle_MalformedIDsAreNotFound(t *testing.T) {
	env := newTestEnv()
	env.exchanges.err = fmt.Errorf("exchange: get: %w", exchange.ErrNotFound)
	if rec := env.do(http.MethodGet, "/exchanges/abc", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("exchange: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}

	env.disputes.err = fmt.Errorf("dispute: resolve: %w", dispute.ErrNotFound)
	rec := env.do(http.MethodPost, "/admin/disputes/xyz/resolve", "admin-token", `{"decision":"ok","reasoning":"fine"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("dispute: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decode(t, rec); resp.Success || resp.Reason == "internal server error" {
		t.Fatalf("expected a not found envelope, got %+v", resp)
	}
}

func TestHandleRegister_Public(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/auth/register", "", `{"email":"a@example.com","password":"longenough","displayName":"Alice"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var user userResponse
	if err := json.Unmarshal(decode(t, rec).Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Email != "a@example.com" || user.Role != auth.RoleMember {
		t.Fatalf("unexpected user %+v", user)
	}
}

type panickingExchanges struct{ stubExchanges }

func (panickingExchanges) Get(context.Context, auth.Identity, string) (exchange.Exchange, error) {
	panic("boom")
}

func TestRecoverMiddleware(t *testing.T) {
	env := newTestEnv()
	env.server.exchangeService = &panickingExchanges{}
	env.handler = env.server.Routes()
	rec := env.do(http.MethodGet, "/exchanges/ex-1", "alice-token", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
