package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/repository"
	"github.com/taskquorum/api/internal/service/session"
)

type userRepoStub struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{users: make(map[string]domain.User)}
}

func (s *userRepoStub) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return repository.ErrDuplicate
	}
	s.users[user.Username] = *user
	return nil
}

func (s *userRepoStub) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[username]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == id {
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) ListUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	return nil, nil
}

func newTestService(t *testing.T) (Service, *userRepoStub) {
	t.Helper()
	repo := newUserRepoStub()
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, store, log), repo
}

func TestRegisterDefaultsToNormalRole(t *testing.T) {
	svc, _ := newTestService(t)
	user, err := svc.Register(context.Background(), " alice ", "secret", " Alice Liddell ", "")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", user.Username)
	}
	if user.FullName != "Alice Liddell" {
		t.Fatalf("expected trimmed full name, got %q", user.FullName)
	}
	if user.Role != domain.RoleNormal {
		t.Fatalf("expected normal role by default, got %q", user.Role)
	}
	if len(user.PasswordHash) == 0 || string(user.PasswordHash) == "secret" {
		t.Fatalf("password must be stored hashed")
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(context.Background(), "alice", "secret", "", ""); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice", "other", "", ""); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(context.Background(), "alice", "secret", "", "superuser"); !errors.Is(err, errInvalidRole) {
		t.Fatalf("expected errInvalidRole, got %v", err)
	}
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(context.Background(), "alice", "secret", "", ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, _, wrongPass := svc.Login(context.Background(), "alice", "nope")
	if !errors.Is(wrongPass, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", wrongPass)
	}
	_, _, unknown := svc.Login(context.Background(), "bob", "nope")
	if !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", unknown)
	}
}

func TestLoginAuthorizeLogoutCycle(t *testing.T) {
	svc, _ := newTestService(t)
	registered, err := svc.Register(context.Background(), "alice", "secret", "Alice Liddell", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	sess, token, err := svc.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty session token")
	}
	if sess.UserID != registered.ID || sess.Role != domain.RoleAdmin {
		t.Fatalf("unexpected session snapshot: %+v", sess)
	}

	resolved, err := svc.Authorize(context.Background(), token)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if resolved.Username != "alice" {
		t.Fatalf("unexpected resolved session: %+v", resolved)
	}

	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := svc.Authorize(context.Background(), token); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestAuthorizeEmptyTokenFails(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Authorize(context.Background(), "   "); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound, got %v", err)
	}
}
