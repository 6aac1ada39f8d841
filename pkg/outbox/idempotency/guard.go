// Package idempotency guards at-least-once deliveries (Pub/Sub messages,
// Stripe webhook retries) with a Redis claim per id.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Store is the Redis surface a Guard needs. *redis.Client implements it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Guard claims ids within one scope. A claim expires after ttl so a crashed
// handler does not block the id forever.
type Guard struct {
	store Store
	scope string
	ttl   time.Duration
}

func New(store Store, scope string, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case scope == "":
		return nil, errors.New("idempotency scope is required")
	case ttl <= 0:
		return nil, errors.New("idempotency ttl must be positive")
	}
	return &Guard{store: store, scope: scope, ttl: ttl}, nil
}

// Claim reports true for the first caller of id and false for repeats.
func (g *Guard) Claim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("idempotency id is required")
	}
	first, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, id), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", g.scope, id, err)
	}
	return first, nil
}

// Release drops the claim so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("idempotency id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, id))
}

// Once runs fn for the first delivery of id. A failing fn releases the claim
// and its error is returned together with any release failure. ran is false
// when an earlier delivery already claimed id.
func (g *Guard) Once(ctx context.Context, id string, fn func(context.Context) error) (ran bool, err error) {
	first, err := g.Claim(ctx, id)
	if err != nil || !first {
		return false, err
	}
	if err := fn(ctx); err != nil {
		return true, multierr.Append(err, g.Release(context.WithoutCancel(ctx), id))
	}
	return true, nil
}
