package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type memoryStore struct {
	keys   map[string]time.Duration
	setErr error
	delErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, taken := m.keys[key]; taken {
		return false, nil
	}
	m.keys[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return m.delErr
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "lm:idempotency:" + scope + ":" + id
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "s", time.Hour)
	require.Error(t, err)
	_, err = New(newMemoryStore(), "", time.Hour)
	require.Error(t, err)
	_, err = New(newMemoryStore(), "s", 0)
	require.Error(t, err)
}

func TestClaimIsScopedAndExpires(t *testing.T) {
	store := newMemoryStore()
	a, err := New(store, "stripe-webhook", 72*time.Hour)
	require.NoError(t, err)
	b, err := New(store, "evt:processed:notification-worker", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := a.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, first)
	again, err := a.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.False(t, again)

	other, err := b.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, other, "scopes do not collide")

	require.Equal(t, 72*time.Hour, store.keys["lm:idempotency:stripe-webhook:evt_1"])

	require.NoError(t, a.Release(ctx, "evt_1"))
	first, err = a.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, first, "released ids can be claimed again")

	_, err = a.Claim(ctx, "")
	require.Error(t, err)
}

func TestClaimWrapsStoreError(t *testing.T) {
	store := newMemoryStore()
	store.setErr = errors.New("redis down")
	g, err := New(store, "s", time.Hour)
	require.NoError(t, err)

	_, err = g.Claim(context.Background(), "id")
	require.ErrorIs(t, err, store.setErr)
}

func TestOnceRunsFirstDeliveryOnly(t *testing.T) {
	g, err := New(newMemoryStore(), "s", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) error { calls++; return nil }

	ran, err := g.Once(ctx, "id", fn)
	require.NoError(t, err)
	require.True(t, ran)
	ran, err = g.Once(ctx, "id", fn)
	require.NoError(t, err)
	require.False(t, ran)
	require.Equal(t, 1, calls)
}

func TestOnceReleasesOnFailure(t *testing.T) {
	store := newMemoryStore()
	g, err := New(store, "s", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	boom := errors.New("db write failed")

	ran, err := g.Once(ctx, "id", func(context.Context) error { return boom })
	require.True(t, ran)
	require.ErrorIs(t, err, boom)
	require.Empty(t, store.keys, "claim dropped so the redelivery retries")

	store.delErr = errors.New("redis down")
	_, err = g.Once(ctx, "id", func(context.Context) error { return boom })
	require.Len(t, multierr.Errors(err), 2)
}
