package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/taskquorum/api/internal/domain"
)

type redisStore struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a Redis backed session Store.
func NewRedisStore(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (Store, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{
		client: client,
		logger: logger,
		prefix: "taskquorum:session:",
		ttl:    ttl,
	}, nil
}

func (s *redisStore) Create(ctx context.Context, snapshot domain.Session) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.prefix+token, payload, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *redisStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	payload, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var snapshot domain.Session
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		s.logger.Error("corrupt session payload", "error", err)
		return nil, ErrNotFound
	}
	return &snapshot, nil
}

func (s *redisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.prefix+token).Err()
}

func (s *redisStore) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}
