package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskquorum/api/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	snapshot := domain.Session{
		UserID:    "user-1",
		Username:  "alice",
		FullName:  "Alice Liddell",
		Role:      domain.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	}
	token, err := store.Create(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}

	got, err := store.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.UserID != snapshot.UserID || got.Role != snapshot.Role {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestMemoryStoreTokensAreUnique(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	first, err := store.Create(context.Background(), domain.Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	second, err := store.Create(context.Background(), domain.Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if first == second {
		t.Fatalf("two sessions must not share a token")
	}
}

func TestMemoryStoreDeleteRevokesImmediately(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	token, err := store.Create(context.Background(), domain.Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Delete(context.Background(), token); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Get(context.Background(), token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreDeleteUnknownTokenIsNoop(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete of unknown token returned error: %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	token, err := store.Create(context.Background(), domain.Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := store.Get(context.Background(), token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestMemoryStoreCleanupDropsExpiredEntries(t *testing.T) {
	store := NewMemoryStore(time.Hour).(*memoryStore)
	defer store.Close()

	token, err := store.Create(context.Background(), domain.Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	store.cleanup(time.Now().Add(2 * time.Hour))

	store.mu.Lock()
	_, ok := store.entries[token]
	store.mu.Unlock()
	if ok {
		t.Fatalf("expected sweep to drop the expired entry")
	}
}
