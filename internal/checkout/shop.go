package checkout

import (
	"context"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/lifecycle"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/checkout"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxShopTitleLength = 200

// CreateShopCheckout opens a processing order for a shop article and the
// payment intent that will move it to funds_held.
func (s *service) CreateShopCheckout(ctx context.Context, actor auth.Identity, input ShopCheckoutInput) (*Session, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	input.ArticleRef = normalize(input.ArticleRef)
	input.Title = normalize(input.Title)
	switch {
	case input.SellerID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	case input.ArticleRef == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "article reference required")
	case input.Title == "" || len(input.Title) > maxShopTitleLength:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title must be 1-200 characters")
	case input.SellerID == actor.UserID:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot buy their own article")
	}
	if input.ItemAmountCents <= 0 || input.ShippingAmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "item amount must be positive and shipping non-negative")
	}
	gross := input.ItemAmountCents + input.ShippingAmountCents
	if err := checkout.ValidateAmount(gross); err != nil {
		return nil, err
	}
	fee, err := checkout.PlatformFee(gross, s.feeBps)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute platform fee")
	}

	article := input.ArticleRef
	order := models.Order{
		ID:                uuid.New(),
		Source:            enums.OrderSourceShop,
		BuyerID:           actor.UserID,
		BuyerEmail:        actor.Email,
		SellerID:          input.SellerID,
		SellerEmail:       normalize(input.SellerEmail),
		ArticleRef:        &article,
		Title:             input.Title,
		GrossAmountCents:  gross,
		PlatformFeeCents:  fee,
		Currency:          s.currency,
		Status:            enums.OrderStatusProcessing,
		FulfillmentStatus: enums.FulfillmentInProgress,
		PayoutStatus:      enums.PayoutHold,
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateOrder(ctx, &order); err != nil {
			return ledger.WriteError(err, "create shop order")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, stripe.CreateIntentInput{
		AmountCents:   gross,
		Currency:      order.Currency.String(),
		TransferGroup: "order_" + order.ID.String(),
		Metadata: map[string]string{
			"order_id":  order.ID.String(),
			"buyer_id":  order.BuyerID.String(),
			"seller_id": order.SellerID.String(),
		},
		IdempotencyKey: "shop-checkout:" + order.ID.String(),
	})
	if err != nil {
		s.cancelShopOrder(ctx, order.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// status is left unchanged; the webhook moves processing to funds_held
		moved, err := s.repo.WithTx(tx).Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          order.ID,
			StateColumn: "status",
			From:        dbpkg.Strings(enums.OrderStatusProcessing),
			Set:         map[string]any{"payment_intent_id": intent.ID},
			Guards:      []dbpkg.Guard{{Expr: "payment_intent_id IS NULL"}},
		})
		if err != nil {
			return ledger.WriteError(err, "bind payment intent")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed during checkout")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return &Session{
		OrderID:          &order.ID,
		PaymentIntentID:  intent.ID,
		ClientSecret:     intent.ClientSecret,
		AmountCents:      gross,
		PlatformFeeCents: fee,
		Currency:         order.Currency,
	}, nil
}

// cancelShopOrder closes an order whose payment intent could not be created.
func (s *service) cancelShopOrder(ctx context.Context, orderID uuid.UUID) {
	now := time.Now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.repo.WithTx(tx).Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          orderID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.OrderStatuses, lifecycle.Cancel),
			Set: map[string]any{
				"status":      enums.OrderStatusCanceled.String(),
				"canceled_at": now,
			},
		})
		return err
	})
	if err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "failed to cancel shop order after gateway error", err)
		return
	}
	s.recorder.Applied(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Cancel.String(), enums.OrderStatusProcessing.String(), enums.OrderStatusCanceled.String())
}
