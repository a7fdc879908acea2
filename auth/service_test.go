package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"skillbarter/apperr"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "supersafe",
		DisplayName: "Alice",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if user.Role != RoleMember {
		t.Fatalf("register: expected role %s got %s", RoleMember, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	id, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if id.UserID != user.ID || id.Role != RoleMember {
		t.Fatalf("verify token: unexpected identity %+v", id)
	}
	if id.IsAdmin() {
		t.Fatal("member must not be admin")
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "short",
		DisplayName: "Alice",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{Password: "strongpassword"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation kind, got %s", apperr.KindOf(err))
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "strongpassword",
		DisplayName: "Alice",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_VerifyTokenRejectsExpiredAndForeign(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(newFakeRepository(), "test-secret").WithClock(func() time.Time { return issued })

	token, err := svc.IssueToken(Identity{UserID: "admin-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := svc.VerifyToken(token)
	if err != nil || !id.IsAdmin() {
		t.Fatalf("expected admin identity, got %+v err=%v", id, err)
	}

	later := NewService(newFakeRepository(), "test-secret").WithClock(func() time.Time { return issued.Add(25 * time.Hour) })
	if _, err := later.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other := NewService(newFakeRepository(), "other-secret").WithClock(func() time.Time { return issued })
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to fail, got %v", err)
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	user := User{
		ID:           id,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		ExternalID:   "ext-" + id,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user
	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
