// Package stripewebhook reconciles asynchronous Stripe events into the ledger.
// Every handler is a conditional transition, so duplicate or stale deliveries
// end as no-ops instead of errors.
package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// refundApplier finalizes refunds issued outside the API, e.g. from the dashboard.
type refundApplier interface {
	ApplyExternalRefund(ctx context.Context, chargeID, refundID string) error
}

type ServiceParams struct {
	Repo       ledger.Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Refunds    refundApplier
	Settlement config.SettlementConfig
	Recorder   ledger.Recorder
	Logger     *logger.Logger
}

type Service struct {
	repo     ledger.Repository
	tx       txRunner
	outbox   outboxPublisher
	refunds  refundApplier
	feeBps   int
	recorder ledger.Recorder
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund applier required")
	}
	return &Service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		refunds:  params.Refunds,
		feeBps:   params.Settlement.PlatformFeeBps,
		recorder: params.Recorder,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// HandleEvent applies a verified event. Unknown types and events without our
// metadata are acknowledged so Stripe stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.withField(ctx, "stripe_event_id", event.ID)
	ctx = s.withField(ctx, "stripe_event_type", string(event.Type))

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		intent, err := decode[stripe.PaymentIntent](event)
		if err != nil {
			return err
		}
		return s.handleSucceeded(ctx, intent)
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		intent, err := decode[stripe.PaymentIntent](event)
		if err != nil {
			return err
		}
		return s.handleFailed(ctx, intent, event.Type == stripe.EventTypePaymentIntentCanceled)
	case stripe.EventTypeChargeRefunded:
		charge, err := decode[stripe.Charge](event)
		if err != nil {
			return err
		}
		return s.handleChargeRefunded(ctx, charge)
	case stripe.EventTypeAccountUpdated:
		account, err := decode[stripe.Account](event)
		if err != nil {
			return err
		}
		return s.handleAccountUpdated(ctx, account)
	default:
		return nil
	}
}

func decode[T any](event *stripe.Event) (*T, error) {
	var out T
	if err := json.Unmarshal(event.Data.Raw, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode "+string(event.Type)+" payload")
	}
	return &out, nil
}

func (s *Service) withField(ctx context.Context, key string, value any) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithField(ctx, key, value)
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
