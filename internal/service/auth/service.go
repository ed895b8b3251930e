package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/repository"
	"github.com/taskquorum/api/internal/service/session"
	"github.com/taskquorum/api/pkg/crypto"
)

// Service handles registration, credential verification and the session
// lifecycle.
type Service struct {
	users    repository.UserRepository
	sessions session.Store
	logger   *slog.Logger
}

// New constructs a Service.
func New(users repository.UserRepository, sessions session.Store, logger *slog.Logger) Service {
	return Service{users: users, sessions: sessions, logger: logger}
}

var (
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords; callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")

	errUsernameRequired = errors.New("username is required")
	errPasswordRequired = errors.New("password is required")
	errInvalidRole      = errors.New("role must be admin or normal")
)

// Register creates an account with a bcrypt-hashed password. The role
// defaults to normal when empty.
func (s Service) Register(ctx context.Context, username, password, fullName string, role domain.Role) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errUsernameRequired
	}
	if password == "" {
		return nil, errPasswordRequired
	}
	if role == "" {
		role = domain.RoleNormal
	}
	if !role.Valid() {
		return nil, errInvalidRole
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login verifies credentials and opens a session holding a snapshot of the
// user. The returned token is the only client-side artifact.
func (s Service) Login(ctx context.Context, username, password string) (*domain.Session, string, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	snapshot := domain.Session{
		UserID:    user.ID,
		Username:  user.Username,
		FullName:  user.FullName,
		Role:      user.Role,
		CreatedAt: time.Now().UTC(),
	}
	token, err := s.sessions.Create(ctx, snapshot)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return &snapshot, token, nil
}

// Authorize resolves a session token to its snapshot.
func (s Service) Authorize(ctx context.Context, token string) (*domain.Session, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, session.ErrNotFound
	}
	return s.sessions.Get(ctx, trimmed)
}

// Logout discards the session immediately. Unknown tokens are a no-op.
func (s Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, strings.TrimSpace(token))
}
