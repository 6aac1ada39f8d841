package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/lifecycle"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/checkout"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentGateway interface {
	CreatePaymentIntent(ctx context.Context, input stripe.CreateIntentInput) (*stripe.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// Service binds a selected offer, or a shop purchase, to one payment intent.
type Service interface {
	CreateCheckout(ctx context.Context, actor auth.Identity, jobID uuid.UUID) (*Session, error)
	CreateShopCheckout(ctx context.Context, actor auth.Identity, input ShopCheckoutInput) (*Session, error)
}

// ServiceParams groups checkout dependencies.
type ServiceParams struct {
	Repo       ledger.Repository
	Tx         txRunner
	Gateway    paymentGateway
	Settlement config.SettlementConfig
	Recorder   ledger.Recorder
	Logger     *logger.Logger
}

type service struct {
	repo     ledger.Repository
	tx       txRunner
	gateway  paymentGateway
	feeBps   int
	currency enums.Currency
	recorder ledger.Recorder
	logg     *logger.Logger
}

// NewService builds the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	currency, err := enums.ParseCurrency(params.Settlement.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := checkout.PlatformFee(0, params.Settlement.PlatformFeeBps); err != nil {
		return nil, err
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		gateway:  params.Gateway,
		feeBps:   params.Settlement.PlatformFeeBps,
		currency: currency,
		recorder: params.Recorder,
		logg:     params.Logger,
	}, nil
}

// CreateCheckout creates or reuses the payment intent for the job's selected
// offer. Repeated calls while the intent is still pending return the same intent.
func (s *service) CreateCheckout(ctx context.Context, actor auth.Identity, jobID uuid.UUID) (*Session, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}

	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, ledger.LoadError(err, "job")
	}
	if job.BuyerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the job owner can check out")
	}
	if _, err := lifecycle.Jobs.Next(job.Status, lifecycle.Checkout); err != nil {
		return nil, err
	}
	if job.SelectedOfferID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoSelectedOffer, "select an offer before checkout")
	}
	offer, err := s.repo.FindOffer(ctx, *job.SelectedOfferID)
	if err != nil {
		return nil, ledger.LoadError(err, "offer")
	}
	if res := lifecycle.Offers.Eval(offer.Status, lifecycle.Checkout); res.Err != nil {
		return nil, res.Err
	}
	if offer.PaidAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyPaid, "offer is already paid")
	}
	if offer.TotalAmountCents != offer.ItemAmountCents+offer.ShippingAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "offer total does not match its parts")
	}
	if err := checkout.ValidateAmount(offer.TotalAmountCents); err != nil {
		return nil, err
	}
	fee, err := checkout.PlatformFee(offer.TotalAmountCents, s.feeBps)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute platform fee")
	}

	session := &Session{
		JobID:            &job.ID,
		OfferID:          &offer.ID,
		AmountCents:      offer.TotalAmountCents,
		PlatformFeeCents: fee,
		Currency:         offer.Currency,
	}

	previous := ""
	if offer.PaymentIntentID != nil {
		previous = *offer.PaymentIntentID
	}
	if previous != "" {
		existing, err := s.gateway.RetrievePaymentIntent(ctx, previous)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
		}
		switch {
		case existing.Settled():
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyPaid, "payment already in progress")
		case existing.Pending() && existing.AmountCents == offer.TotalAmountCents:
			session.PaymentIntentID = existing.ID
			session.ClientSecret = existing.ClientSecret
			session.Reused = true
			if err := s.bindIntent(ctx, job, offer, previous, existing.ID, fee); err != nil {
				return nil, err
			}
			return session, nil
		case existing.Pending():
			if _, err := s.gateway.CancelPaymentIntent(ctx, existing.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stale payment intent")
			}
		}
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, stripe.CreateIntentInput{
		AmountCents:   offer.TotalAmountCents,
		Currency:      offer.Currency.String(),
		TransferGroup: "offer_" + offer.ID.String(),
		Metadata: map[string]string{
			"job_id":      job.ID.String(),
			"offer_id":    offer.ID.String(),
			"buyer_id":    job.BuyerID.String(),
			"supplier_id": offer.SupplierID.String(),
		},
		IdempotencyKey: checkoutIdempotencyKey(offer.ID, previous),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	if err := s.bindIntent(ctx, job, offer, previous, intent.ID, fee); err != nil {
		// nobody can pay for an intent the ledger does not reference
		if _, cancelErr := s.gateway.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil && s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "payment_intent_id", intent.ID), "failed to cancel orphaned payment intent", cancelErr)
		}
		return nil, err
	}
	session.PaymentIntentID = intent.ID
	session.ClientSecret = intent.ClientSecret
	return session, nil
}

// bindIntent stores the intent and fee on the offer and parks the job in
// awaiting_payment. Both writes are conditional on the state read before the
// gateway call.
func (s *service) bindIntent(ctx context.Context, job *models.Job, offer *models.JobOffer, previous, intentID string, fee int64) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		intentGuard := dbpkg.Guard{Expr: "payment_intent_id IS NULL"}
		if previous != "" {
			intentGuard = dbpkg.Guard{Expr: "payment_intent_id = ?", Args: []any{previous}}
		}
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOffers,
			ID:          offer.ID,
			StateColumn: "status",
			From:        dbpkg.Strings(enums.OfferStatusSelected),
			Set: map[string]any{
				"payment_intent_id":  intentID,
				"platform_fee_cents": fee,
			},
			Guards: []dbpkg.Guard{{Expr: "paid_at IS NULL"}, intentGuard},
		})
		if err != nil {
			return ledger.WriteError(err, "bind payment intent")
		}
		if !moved {
			fresh, err := repo.FindOffer(ctx, offer.ID)
			if err != nil {
				return ledger.LoadError(err, "offer")
			}
			if res := lifecycle.Offers.Eval(fresh.Status, lifecycle.Checkout); res.Err != nil {
				s.recorder.Rejected(ctx, lifecycle.Offers.Entity(), lifecycle.Checkout.String(), fresh.Status.String(), res.Err)
				return res.Err
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout already in progress for this offer")
		}

		moved, err = repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableJobs,
			ID:          job.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Jobs, lifecycle.Checkout),
			Set:         map[string]any{"status": enums.JobStatusAwaitingPayment.String()},
			Guards:      []dbpkg.Guard{{Expr: "selected_offer_id = ?", Args: []any{offer.ID}}},
		})
		if err != nil {
			return ledger.WriteError(err, "mark job awaiting payment")
		}
		if !moved {
			fresh, err := repo.FindJob(ctx, job.ID)
			if err != nil {
				return ledger.LoadError(err, "job")
			}
			if _, err := lifecycle.Jobs.Next(fresh.Status, lifecycle.Checkout); err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeOfferNotSelected, "offer is no longer selected")
		}
		s.recorder.Applied(ctx, lifecycle.Jobs.Entity(), lifecycle.Checkout.String(), job.Status.String(), enums.JobStatusAwaitingPayment.String())
		return nil
	})
}

func checkoutIdempotencyKey(offerID uuid.UUID, previous string) string {
	if previous == "" {
		previous = "none"
	}
	return fmt.Sprintf("checkout:%s:%s", offerID, previous)
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}
