package stripewebhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/lifecycle"
	"github.com/angelmondragon/lackmarkt-backend/internal/settlement"
	"github.com/angelmondragon/lackmarkt-backend/pkg/checkout"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

var orderOfferIndex = dbpkg.Unique{Name: "ux_orders_offer_id", Columns: []string{"orders.offer_id"}}

// intentRef is where a payment intent points back into the ledger.
type intentRef struct {
	jobID   uuid.UUID
	offerID uuid.UUID
	orderID uuid.UUID
}

func (r intentRef) offer() bool { return r.offerID != uuid.Nil && r.jobID != uuid.Nil }
func (r intentRef) shop() bool  { return r.orderID != uuid.Nil }

func parseRef(metadata map[string]string) intentRef {
	var ref intentRef
	if id, err := uuid.Parse(metadata["job_id"]); err == nil {
		ref.jobID = id
	}
	if id, err := uuid.Parse(metadata["offer_id"]); err == nil {
		ref.offerID = id
	}
	if id, err := uuid.Parse(metadata["order_id"]); err == nil {
		ref.orderID = id
	}
	return ref
}

func (s *Service) handleSucceeded(ctx context.Context, intent *stripe.PaymentIntent) error {
	ctx = s.withField(ctx, "payment_intent_id", intent.ID)
	ref := parseRef(intent.Metadata)
	switch {
	case ref.offer():
		return s.payOffer(ctx, intent, ref)
	case ref.shop():
		return s.payShopOrder(ctx, intent, ref.orderID)
	default:
		s.info(ctx, "payment intent without settlement metadata acknowledged")
		return nil
	}
}

// payOffer marks the offer and job paid and opens the order that carries the
// fulfillment and payout axes from here on.
func (s *Service) payOffer(ctx context.Context, intent *stripe.PaymentIntent, ref intentRef) error {
	now := s.now().UTC()
	chargeID := latestCharge(intent)
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if existing, err := repo.FindOrderByOffer(ctx, ref.offerID); err == nil {
			s.recorder.NoOp(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Pay.String(), existing.Status.String())
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.LoadError(err, "order")
		}

		offer, err := repo.FindOffer(ctx, ref.offerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.warn(ctx, "payment for unknown offer acknowledged")
				return nil
			}
			return ledger.LoadError(err, "offer")
		}
		if offer.JobID != ref.jobID {
			s.logError(ctx, "payment intent metadata does not match the offer's job", fmt.Errorf("offer %s belongs to job %s", offer.ID, offer.JobID))
			return nil
		}
		job, err := repo.FindJob(ctx, offer.JobID)
		if err != nil {
			return ledger.LoadError(err, "job")
		}

		if offer.Status == enums.OfferStatusOpen && deref(offer.PaymentIntentID) == intent.ID {
			// the intent failed earlier and the buyer retried it successfully
			if ok, err := s.reselect(ctx, repo, job, offer); err != nil || !ok {
				return err
			}
		}

		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOffers,
			ID:          offer.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Offers, lifecycle.Pay),
			Set: map[string]any{
				"status":    enums.OfferStatusPaid.String(),
				"paid_at":   now,
				"charge_id": nullable(chargeID),
			},
			Guards: []dbpkg.Guard{{Expr: "payment_intent_id = ?", Args: []any{intent.ID}}},
		})
		if err != nil {
			return ledger.WriteError(err, "mark offer paid")
		}
		if !moved {
			fresh, err := repo.FindOffer(ctx, offer.ID)
			if err != nil {
				return ledger.LoadError(err, "offer")
			}
			res := lifecycle.Offers.Eval(fresh.Status, lifecycle.Pay)
			if res.Err == nil && deref(fresh.PaymentIntentID) == intent.ID {
				s.recorder.NoOp(ctx, lifecycle.Offers.Entity(), lifecycle.Pay.String(), fresh.Status.String())
				return nil
			}
			if res.Err == nil {
				res.Err = pkgerrors.New(pkgerrors.CodeStateConflict, "offer is bound to another payment intent")
			}
			s.recorder.Rejected(ctx, lifecycle.Offers.Entity(), lifecycle.Pay.String(), fresh.Status.String(), res.Err)
			// money was captured for an offer that can no longer be paid
			s.logError(ctx, "captured payment could not be applied to the offer; refund manually", res.Err)
			return nil
		}
		s.recorder.Applied(ctx, lifecycle.Offers.Entity(), lifecycle.Pay.String(), enums.OfferStatusSelected.String(), enums.OfferStatusPaid.String())

		if err := s.payJob(ctx, repo, job.ID, offer.ID); err != nil {
			return err
		}

		fee, err := s.offerFee(offer)
		if err != nil {
			return err
		}
		if intent.Amount != 0 && intent.Amount != offer.TotalAmountCents {
			s.warn(s.withField(ctx, "intent_amount_cents", intent.Amount), "captured amount differs from the offer total")
		}
		order := &models.Order{
			Source:            enums.OrderSourceJobOffer,
			BuyerID:           job.BuyerID,
			BuyerEmail:        job.BuyerEmail,
			SellerID:          offer.SupplierID,
			SellerEmail:       offer.SupplierEmail,
			JobID:             &job.ID,
			OfferID:           &offer.ID,
			Title:             job.Title,
			GrossAmountCents:  offer.TotalAmountCents,
			PlatformFeeCents:  fee,
			Currency:          offer.Currency,
			PaymentIntentID:   &intent.ID,
			ChargeID:          nullableString(chargeID),
			Status:            enums.OrderStatusFundsHeld,
			FulfillmentStatus: enums.FulfillmentInProgress,
			PayoutStatus:      enums.PayoutHold,
			PaidAt:            &now,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			if dbpkg.IsUniqueViolation(err, orderOfferIndex) {
				return nil
			}
			return ledger.WriteError(err, "create order")
		}
		s.recorder.Applied(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Pay.String(), enums.OrderStatusProcessing.String(), enums.OrderStatusFundsHeld.String())
		return s.outbox.Emit(ctx, tx, settlement.OrderEvent(enums.EventOrderPaid, *order, settlement.SystemActor))
	})
}

// reselect restores a selection that a payment failure rolled back. It reports
// false when another offer took the job in the meantime.
func (s *Service) reselect(ctx context.Context, repo ledger.Repository, job *models.Job, offer *models.JobOffer) (bool, error) {
	moved, err := repo.Transition(ctx, dbpkg.Transition{
		Table:       ledger.TableOffers,
		ID:          offer.ID,
		StateColumn: "status",
		From:        lifecycle.Sources(lifecycle.Offers, lifecycle.Select),
		Set:         map[string]any{"status": enums.OfferStatusSelected.String()},
		Guards:      []dbpkg.Guard{{Expr: "payment_intent_id = ?", Args: []any{deref(offer.PaymentIntentID)}}},
	})
	if err != nil {
		return false, ledger.WriteError(err, "reselect offer")
	}
	if moved {
		moved, err = repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableJobs,
			ID:          job.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Jobs, lifecycle.Select),
			Set: map[string]any{
				"status":            enums.JobStatusAwaitingPayment.String(),
				"selected_offer_id": offer.ID,
			},
			Guards: []dbpkg.Guard{{Expr: "selected_offer_id IS NULL"}},
		})
		if err != nil {
			return false, ledger.WriteError(err, "reselect job")
		}
	}
	if !moved {
		conflict := pkgerrors.New(pkgerrors.CodeOfferAlreadySelected, "job moved on after the payment failed")
		s.recorder.Rejected(ctx, lifecycle.Offers.Entity(), lifecycle.Pay.String(), offer.Status.String(), conflict)
		s.logError(ctx, "captured payment could not be applied to the offer; refund manually", conflict)
		return false, nil
	}
	return true, nil
}

func (s *Service) payJob(ctx context.Context, repo ledger.Repository, jobID, offerID uuid.UUID) error {
	moved, err := repo.Transition(ctx, dbpkg.Transition{
		Table:       ledger.TableJobs,
		ID:          jobID,
		StateColumn: "status",
		From:        lifecycle.Sources(lifecycle.Jobs, lifecycle.Pay),
		Set: map[string]any{
			"status":            enums.JobStatusPaid.String(),
			"selected_offer_id": offerID,
			"published":         false,
		},
		Guards: []dbpkg.Guard{{Expr: "(selected_offer_id IS NULL OR selected_offer_id = ?)", Args: []any{offerID}}},
	})
	if err != nil {
		return ledger.WriteError(err, "mark job paid")
	}
	if moved {
		s.recorder.Applied(ctx, lifecycle.Jobs.Entity(), lifecycle.Pay.String(), enums.JobStatusAwaitingPayment.String(), enums.JobStatusPaid.String())
		return nil
	}
	job, err := repo.FindJob(ctx, jobID)
	if err != nil {
		return ledger.LoadError(err, "job")
	}
	if res := lifecycle.Jobs.Eval(job.Status, lifecycle.Pay); res.Err != nil {
		s.recorder.Rejected(ctx, lifecycle.Jobs.Entity(), lifecycle.Pay.String(), job.Status.String(), res.Err)
		return nil
	}
	s.recorder.NoOp(ctx, lifecycle.Jobs.Entity(), lifecycle.Pay.String(), job.Status.String())
	return nil
}

// offerFee prefers the fee fixed at checkout.
func (s *Service) offerFee(offer *models.JobOffer) (int64, error) {
	if offer.PlatformFeeCents != nil {
		return *offer.PlatformFeeCents, nil
	}
	return checkout.PlatformFee(offer.TotalAmountCents, s.feeBps)
}

func (s *Service) payShopOrder(ctx context.Context, intent *stripe.PaymentIntent, orderID uuid.UUID) error {
	ctx = s.withField(ctx, "order_id", orderID.String())
	now := s.now().UTC()
	chargeID := latestCharge(intent)
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          orderID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.OrderStatuses, lifecycle.Pay),
			Set: map[string]any{
				"status":    enums.OrderStatusFundsHeld.String(),
				"paid_at":   now,
				"charge_id": nullable(chargeID),
			},
			Guards: []dbpkg.Guard{{Expr: "payment_intent_id = ?", Args: []any{intent.ID}}},
		})
		if err != nil {
			return ledger.WriteError(err, "mark order paid")
		}
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.warn(ctx, "payment for unknown shop order acknowledged")
				return nil
			}
			return ledger.LoadError(err, "order")
		}
		if !moved {
			res := lifecycle.OrderStatuses.Eval(order.Status, lifecycle.Pay)
			if res.Err == nil && deref(order.PaymentIntentID) == intent.ID {
				s.recorder.NoOp(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Pay.String(), order.Status.String())
				return nil
			}
			if res.Err == nil {
				res.Err = pkgerrors.New(pkgerrors.CodeStateConflict, "order is bound to another payment intent")
			}
			s.recorder.Rejected(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Pay.String(), order.Status.String(), res.Err)
			s.logError(ctx, "captured payment could not be applied to the order; refund manually", res.Err)
			return nil
		}
		s.recorder.Applied(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Pay.String(), enums.OrderStatusProcessing.String(), enums.OrderStatusFundsHeld.String())
		return s.outbox.Emit(ctx, tx, settlement.OrderEvent(enums.EventOrderPaid, *order, settlement.SystemActor))
	})
}

// handleFailed rolls a job selection back so the buyer can pick again. The
// offer keeps the intent reference: a failed intent can still succeed on a
// retried card and payOffer then restores the selection. Shop orders hold no
// contended resource, so only an explicit cancel closes them.
func (s *Service) handleFailed(ctx context.Context, intent *stripe.PaymentIntent, canceled bool) error {
	ctx = s.withField(ctx, "payment_intent_id", intent.ID)
	ref := parseRef(intent.Metadata)
	switch {
	case ref.offer():
		return s.rollbackOffer(ctx, intent, ref, canceled)
	case ref.shop() && canceled:
		return s.cancelShopOrder(ctx, intent, ref.orderID)
	case ref.shop():
		s.info(ctx, "shop payment attempt failed; order stays open for retry")
		return nil
	default:
		return nil
	}
}

func (s *Service) rollbackOffer(ctx context.Context, intent *stripe.PaymentIntent, ref intentRef, canceled bool) error {
	set := map[string]any{"status": enums.OfferStatusOpen.String()}
	if canceled {
		set["payment_intent_id"] = nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOffers,
			ID:          ref.offerID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Offers, lifecycle.PaymentFailed),
			Set:         set,
			Guards: []dbpkg.Guard{
				{Expr: "payment_intent_id = ?", Args: []any{intent.ID}},
				{Expr: "paid_at IS NULL"},
			},
		})
		if err != nil {
			return ledger.WriteError(err, "roll back offer")
		}
		if !moved {
			// stale event: the offer was unselected, paid or bound to a newer intent
			s.recorder.NoOp(ctx, lifecycle.Offers.Entity(), lifecycle.PaymentFailed.String(), "")
			return nil
		}
		s.recorder.Applied(ctx, lifecycle.Offers.Entity(), lifecycle.PaymentFailed.String(), enums.OfferStatusSelected.String(), enums.OfferStatusOpen.String())

		moved, err = repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableJobs,
			ID:          ref.jobID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Jobs, lifecycle.PaymentFailed),
			Set: map[string]any{
				"status":            enums.JobStatusOpen.String(),
				"selected_offer_id": nil,
			},
			Guards: []dbpkg.Guard{{Expr: "selected_offer_id = ?", Args: []any{ref.offerID}}},
		})
		if err != nil {
			return ledger.WriteError(err, "roll back job")
		}
		if moved {
			s.recorder.Applied(ctx, lifecycle.Jobs.Entity(), lifecycle.PaymentFailed.String(), enums.JobStatusAwaitingPayment.String(), enums.JobStatusOpen.String())
		}
		return nil
	})
}

func (s *Service) cancelShopOrder(ctx context.Context, intent *stripe.PaymentIntent, orderID uuid.UUID) error {
	now := s.now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          orderID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.OrderStatuses, lifecycle.Cancel),
			Set: map[string]any{
				"status":      enums.OrderStatusCanceled.String(),
				"canceled_at": now,
			},
			Guards: []dbpkg.Guard{{Expr: "payment_intent_id = ?", Args: []any{intent.ID}}},
		})
		if err != nil {
			return ledger.WriteError(err, "cancel order")
		}
		if !moved {
			s.recorder.NoOp(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Cancel.String(), "")
			return nil
		}
		s.recorder.Applied(ctx, lifecycle.OrderStatuses.Entity(), lifecycle.Cancel.String(), enums.OrderStatusProcessing.String(), enums.OrderStatusCanceled.String())
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return ledger.LoadError(err, "order")
		}
		return s.outbox.Emit(ctx, tx, settlement.OrderEvent(enums.EventOrderCanceled, *order, settlement.SystemActor))
	})
}

func latestCharge(intent *stripe.PaymentIntent) string {
	if intent.LatestCharge == nil {
		return ""
	}
	return intent.LatestCharge.ID
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
