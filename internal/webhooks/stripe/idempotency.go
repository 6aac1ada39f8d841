package stripewebhook

import (
	"time"

	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/idempotency"
)

// Defaults for the event-id guard: lm:idempotency:stripe-webhook:<event_id>.
// Stripe retries a failed delivery for up to three days.
const (
	GuardScope = "stripe-webhook"
	GuardTTL   = 72 * time.Hour
)

// EventGuard remembers processed Stripe event ids so redeliveries are
// acknowledged without touching the ledger.
type EventGuard = idempotency.Guard

// NewEventGuard scopes a guard to Stripe event ids. ttl <= 0 uses GuardTTL.
func NewEventGuard(store idempotency.Store, ttl time.Duration) (*EventGuard, error) {
	if ttl <= 0 {
		ttl = GuardTTL
	}
	return idempotency.New(store, GuardScope, ttl)
}
