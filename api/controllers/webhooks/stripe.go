package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

// Stripe caps event payloads well below this.
const maxStripePayloadBytes = 64 << 10

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// eventGuard runs fn once per Stripe event id and forgets the id if fn fails.
type eventGuard interface {
	Once(ctx context.Context, id string, fn func(context.Context) error) (bool, error)
}

type signingSecret interface {
	SigningSecret() string
}

var received = map[string]bool{"received": true}

// StripeWebhook verifies the Stripe-Signature header and hands the event to
// the reconciler. A redelivered event id is acknowledged without being
// processed again. A failed event answers 5xx and is released so Stripe's
// retry runs it.
func StripeWebhook(svc StripeWebhookService, secret signingSecret, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || secret == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		event, err := verify(w, r, secret.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			})
		}

		handled := false
		ran, err := guard.Once(ctx, event.ID, func(ctx context.Context) error {
			handled = true
			return svc.HandleEvent(ctx, &event)
		})
		switch {
		case err != nil && !handled:
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event"))
			return
		case err != nil:
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			msg := "stripe.webhook.processed"
			if !ran {
				msg = "stripe.webhook.duplicate"
			}
			logg.Info(ctx, msg)
		}
		responses.WriteSuccess(w, received)
	}
}

func verify(w http.ResponseWriter, r *http.Request, secret string) (stripe.Event, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStripePayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return stripe.Event{}, pkgerrors.New(pkgerrors.CodeTooLarge, "stripe payload exceeds size limit")
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "stripe signature missing")
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "signature verification failed")
	}
	return event, nil
}
