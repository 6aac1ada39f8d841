package stripewebhook

import (
	"context"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]time.Duration
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "lm:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestEventGuardUsesStripeRetryWindow(t *testing.T) {
	store := &memoryStore{values: map[string]time.Duration{}}
	guard, err := NewEventGuard(store, 0)
	if err != nil {
		t.Fatalf("NewEventGuard: %v", err)
	}
	ctx := context.Background()

	first, err := guard.Claim(ctx, "evt_1")
	if err != nil || !first {
		t.Fatalf("first claim should win, got %v (%v)", first, err)
	}
	if ttl := store.values["lm:idempotency:stripe-webhook:evt_1"]; ttl != GuardTTL {
		t.Fatalf("expected %v key, got %v", GuardTTL, ttl)
	}
	if second, _ := guard.Claim(ctx, "evt_1"); second {
		t.Fatal("redelivery must not be claimed again")
	}

	custom, err := NewEventGuard(store, time.Minute)
	if err != nil {
		t.Fatalf("NewEventGuard: %v", err)
	}
	if _, err := custom.Claim(ctx, "evt_2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ttl := store.values["lm:idempotency:stripe-webhook:evt_2"]; ttl != time.Minute {
		t.Fatalf("expected configured ttl, got %v", ttl)
	}
}
