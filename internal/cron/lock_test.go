package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ExtendLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ReleaseLock(_ context.Context, key, owner string) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockExcludesSecondOwner(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, "lm:lock:cron-worker:prod", "worker.1", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "lm:lock:cron-worker:prod", "worker.2", time.Minute)

	ctx := context.Background()
	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(first.Owner(), "worker.1/") {
		t.Fatalf("expected owner to name the instance, got %q", first.Owner())
	}
	if store.ttls["lm:lock:cron-worker:prod"] != defaultLockTTL {
		t.Fatalf("expected default ttl %v", defaultLockTTL)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("expected second owner to be excluded")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("non-owner release: %v", err)
	}
	if _, ok := store.values["lm:lock:cron-worker:prod"]; !ok {
		t.Fatal("non-owner release must not drop the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after owner release")
	}
}

func TestRedisLockExtendDetectsTakeover(t *testing.T) {
	store := newMemoryLockStore()
	lock, _ := NewRedisLock(store, "lm:lock:cron", "worker.1", time.Minute)
	ctx := context.Background()

	if err := lock.Extend(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost before acquire, got %v", err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	if err := lock.Extend(ctx); err != nil {
		t.Fatalf("extend: %v", err)
	}

	// the key expired and another worker took it
	store.values["lm:lock:cron"] = "worker.2/other"
	if err := lock.Extend(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost after takeover, got %v", err)
	}
	if lock.Owner() != "" {
		t.Fatal("expected ownership cleared")
	}
}
