package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/taskquorum/api/internal/domain"
)

const sweepInterval = 5 * time.Minute

// ErrNotFound indicates the token is unknown, expired or logged out.
var ErrNotFound = errors.New("session: not found")

// Store keeps login snapshots server-side under opaque tokens. Deleting a
// token revokes the session immediately.
type Store interface {
	Create(ctx context.Context, snapshot domain.Session) (string, error)
	Get(ctx context.Context, token string) (*domain.Session, error)
	Delete(ctx context.Context, token string) error
	Close()
}

// newToken returns 256 bits of hex-encoded randomness. Tokens carry no
// structure; all session state lives in the store.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	stopCh  chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	snapshot  domain.Session
	expiresAt time.Time
}

// NewMemoryStore returns an in-process Store suitable for a single node.
func NewMemoryStore(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &memoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *memoryStore) Create(ctx context.Context, snapshot domain.Session) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.entries[token] = memoryEntry{snapshot: snapshot, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *memoryStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.entries, token)
		return nil, ErrNotFound
	}
	snapshot := entry.snapshot
	return &snapshot, nil
}

func (s *memoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *memoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
		}
	}
}

func (s *memoryStore) Close() {
	s.once.Do(func() {
		close(s.stopCh)
	})
}
