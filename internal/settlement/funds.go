package settlement

import (
	"context"
	"errors"

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

var heldStatuses = dbpkg.Strings(enums.OrderStatusFundsHeld, enums.OrderStatusShipped)

// ReleaseFunds transfers the net amount to the seller's connected account.
// A released order returns unchanged; the gateway is called at most once per
// order because the transfer carries the idempotency key release:<order_id>.
func (s *service) ReleaseFunds(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error) {
	ctx = s.logCtx(ctx, orderID)
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(actor, order, partyBuyer); err != nil {
		return nil, err
	}
	if order.TransferID != nil || order.PayoutStatus == enums.PayoutReleased {
		s.recorder.NoOp(ctx, lifecycle.Payout.Entity(), lifecycle.Release.String(), order.PayoutStatus.String())
		dto := ToDTO(*order)
		return &dto, nil
	}
	if err := s.checkRelease(actor, order); err != nil {
		s.recorder.Rejected(ctx, lifecycle.Payout.Entity(), lifecycle.Release.String(), order.PayoutStatus.String(), err)
		return nil, err
	}

	account, err := s.repo.FindConnectedAccount(ctx, order.SellerID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.LoadError(err, "connected account")
	}
	if account == nil || !account.CanReceiveTransfers() {
		return nil, pkgerrors.New(pkgerrors.CodeSupplierNotOnboarded, "seller cannot receive payouts yet")
	}
	net, err := checkout.NetPayout(order.GrossAmountCents, order.PlatformFeeCents)
	if err != nil {
		return nil, err
	}

	if settled, err := s.claim(ctx, actor, order, enums.ClaimRelease); err != nil || settled != nil {
		return settledDTO(settled, err)
	}

	transferID, err := s.gateway.CreateTransfer(ctx, stripe.TransferInput{
		AmountCents:       net,
		Currency:          order.Currency.String(),
		DestinationID:     account.StripeAccountID,
		SourceTransaction: deref(order.ChargeID),
		TransferGroup:     transferGroup(order),
		Metadata: map[string]string{
			"order_id":  order.ID.String(),
			"seller_id": order.SellerID.String(),
		},
		IdempotencyKey: "release:" + order.ID.String(),
	})
	if err != nil {
		s.unclaim(ctx, order.ID, enums.ClaimRelease)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transfer")
	}

	now := s.now().UTC()
	var result models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          order.ID,
			StateColumn: "payout_status",
			From:        lifecycle.Sources(lifecycle.Payout, lifecycle.Release),
			Set: map[string]any{
				"payout_status":    enums.PayoutReleased.String(),
				"status":           enums.OrderStatusReleased.String(),
				"transfer_id":      transferID,
				"released_at":      now,
				"settlement_claim": nil,
			},
			Guards: []dbpkg.Guard{
				{Expr: "status IN ?", Args: []any{heldStatuses}},
				{Expr: "transfer_id IS NULL"},
				{Expr: "refunded_at IS NULL"},
			},
		})
		if err != nil {
			return ledger.WriteError(err, "finalize release")
		}
		fresh, err := s.loadOrder(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		result = *fresh
		if !moved {
			if fresh.TransferID != nil && *fresh.TransferID == transferID {
				s.recorder.NoOp(ctx, lifecycle.Payout.Entity(), lifecycle.Release.String(), fresh.PayoutStatus.String())
				return nil
			}
			// money left the platform but the row moved elsewhere; needs a human
			s.logError(s.withField(ctx, "transfer_id", transferID), "release transfer created for an order that is no longer held", errors.New(fresh.PayoutStatus.String()))
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed during release")
		}
		s.recorder.Applied(ctx, lifecycle.Payout.Entity(), lifecycle.Release.String(), order.PayoutStatus.String(), enums.PayoutReleased.String())
		if err := s.closeJob(ctx, repo, *fresh); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventOrderReleased, *fresh, actor)
	})
	if err != nil {
		return nil, err
	}

	if s.invoices != nil {
		if err := s.invoices.EnsureForOrder(ctx, result.ID); err != nil {
			s.logError(ctx, "invoice issuance after release failed", err)
		}
	}
	dto := ToDTO(result)
	return &dto, nil
}

func (s *service) checkRelease(actor auth.Identity, order *models.Order) error {
	if res := lifecycle.Payout.Eval(order.PayoutStatus, lifecycle.Release); res.Err != nil {
		return res.Err
	}
	if _, err := lifecycle.OrderStatuses.Next(order.Status, lifecycle.Release); err != nil {
		return err
	}
	// only a human admin resolves a dispute in the seller's favor
	if order.FulfillmentStatus == enums.FulfillmentDisputed && actor.Role != enums.RoleAdmin {
		return pkgerrors.New(pkgerrors.CodeInDispute, "order is in dispute")
	}
	if order.SettlementClaim != nil && *order.SettlementClaim == enums.ClaimRefund {
		return pkgerrors.New(pkgerrors.CodeSettlementInProgress, "a refund is in progress")
	}
	return nil
}

// Refund returns the buyer's money. Buyers may only refund a disputed order;
// admins and the auto-refund sweep may refund any order whose funds are held.
func (s *service) Refund(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error) {
	ctx = s.logCtx(ctx, orderID)
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(actor, order, partyBuyer); err != nil {
		return nil, err
	}
	if order.RefundID != nil || order.PayoutStatus == enums.PayoutRefunded {
		s.recorder.NoOp(ctx, lifecycle.Payout.Entity(), lifecycle.Refund.String(), order.PayoutStatus.String())
		dto := ToDTO(*order)
		return &dto, nil
	}
	if err := s.checkRefund(actor, order); err != nil {
		s.recorder.Rejected(ctx, lifecycle.Payout.Entity(), lifecycle.Refund.String(), order.PayoutStatus.String(), err)
		return nil, err
	}

	if settled, err := s.claim(ctx, actor, order, enums.ClaimRefund); err != nil || settled != nil {
		return settledDTO(settled, err)
	}

	refundID, err := s.gateway.CreateRefund(ctx, stripe.RefundInput{
		ChargeID:        deref(order.ChargeID),
		PaymentIntentID: deref(order.PaymentIntentID),
		Metadata:        map[string]string{"order_id": order.ID.String()},
		IdempotencyKey:  "refund:" + order.ID.String(),
	})
	if err != nil && !errors.Is(err, stripe.ErrAlreadyRefunded) {
		s.unclaim(ctx, order.ID, enums.ClaimRefund)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
	}

	result, err := s.finalizeRefund(ctx, actor, order.ID, refundID)
	if err != nil {
		return nil, err
	}
	dto := ToDTO(*result)
	return &dto, nil
}

func (s *service) checkRefund(actor auth.Identity, order *models.Order) error {
	if res := lifecycle.Payout.Eval(order.PayoutStatus, lifecycle.Refund); res.Err != nil {
		return res.Err
	}
	if order.TransferID != nil {
		return pkgerrors.New(pkgerrors.CodeAlreadyReleased, "funds were released")
	}
	if _, err := lifecycle.OrderStatuses.Next(order.Status, lifecycle.Refund); err != nil {
		return err
	}
	switch actor.Role {
	case enums.RoleAdmin:
	case enums.RoleSystem:
		if order.FulfillmentStatus != enums.FulfillmentInProgress {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "fulfillment was reported")
		}
	default:
		if order.FulfillmentStatus != enums.FulfillmentDisputed {
			return pkgerrors.New(pkgerrors.CodeForbidden, "buyers can only refund a disputed order")
		}
	}
	if order.SettlementClaim != nil && *order.SettlementClaim == enums.ClaimRelease {
		return pkgerrors.New(pkgerrors.CodeSettlementInProgress, "funds are being released")
	}
	return nil
}

// ApplyExternalRefund records a refund that happened at the gateway, whether
// issued here or from the processor's dashboard. Unknown charges are ignored.
func (s *service) ApplyExternalRefund(ctx context.Context, chargeID, refundID string) error {
	order, err := s.repo.FindOrderByCharge(ctx, chargeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return ledger.LoadError(err, "order")
	}
	ctx = s.logCtx(ctx, order.ID)
	if order.PayoutStatus == enums.PayoutRefunded {
		s.recorder.NoOp(ctx, lifecycle.Payout.Entity(), lifecycle.Refund.String(), order.PayoutStatus.String())
		return nil
	}
	if order.PayoutStatus == enums.PayoutReleased || order.TransferID != nil {
		s.warn(s.withField(ctx, "charge_id", chargeID), "charge refunded after funds were released")
		return nil
	}
	_, err = s.finalizeRefund(ctx, SystemActor, order.ID, refundID)
	return err
}

// finalizeRefund records the refund, cancels the offer and reopens the job in
// one transaction.
func (s *service) finalizeRefund(ctx context.Context, actor auth.Identity, orderID uuid.UUID, refundID string) (*models.Order, error) {
	now := s.now().UTC()
	var result models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		set := map[string]any{
			"payout_status":    enums.PayoutRefunded.String(),
			"status":           enums.OrderStatusRefunded.String(),
			"refunded_at":      now,
			"settlement_claim": nil,
		}
		if refundID != "" {
			set["refund_id"] = refundID
		}
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          orderID,
			StateColumn: "payout_status",
			From:        lifecycle.Sources(lifecycle.Payout, lifecycle.Refund),
			Set:         set,
			Guards: []dbpkg.Guard{
				{Expr: "status IN ?", Args: []any{heldStatuses}},
				{Expr: "transfer_id IS NULL"},
				{Expr: "released_at IS NULL"},
			},
		})
		if err != nil {
			return ledger.WriteError(err, "finalize refund")
		}
		fresh, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		result = *fresh
		if !moved {
			res := lifecycle.Payout.Eval(fresh.PayoutStatus, lifecycle.Refund)
			if res.Err != nil {
				return res.Err
			}
			if res.Next == fresh.PayoutStatus {
				s.recorder.NoOp(ctx, lifecycle.Payout.Entity(), lifecycle.Refund.String(), fresh.PayoutStatus.String())
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed during refund")
		}
		s.recorder.Applied(ctx, lifecycle.Payout.Entity(), lifecycle.Refund.String(), enums.PayoutHold.String(), enums.PayoutRefunded.String())
		if err := s.reopenJob(ctx, repo, *fresh); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventOrderRefunded, *fresh, actor)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// claim marks the order as owned by one money movement before the gateway is
// called. Re-claiming with the same action succeeds so a retry after a crash
// reaches the gateway again with the same idempotency key. When a concurrent
// caller already finished the same movement the settled order is returned.
func (s *service) claim(ctx context.Context, actor auth.Identity, order *models.Order, claim enums.SettlementClaim) (*models.Order, error) {
	guards := []dbpkg.Guard{
		{Expr: "status IN ?", Args: []any{heldStatuses}},
		{Expr: "(settlement_claim IS NULL OR settlement_claim = ?)", Args: []any{string(claim)}},
	}
	switch {
	case claim == enums.ClaimRelease && actor.Role != enums.RoleAdmin:
		guards = append(guards, dbpkg.Guard{Expr: "fulfillment_status <> ?", Args: []any{enums.FulfillmentDisputed.String()}})
	case claim == enums.ClaimRefund && actor.Role == enums.RoleSystem:
		guards = append(guards, dbpkg.Guard{Expr: "fulfillment_status = ?", Args: []any{enums.FulfillmentInProgress.String()}})
	}

	var moved bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		moved, err = s.repo.WithTx(tx).Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          order.ID,
			StateColumn: "payout_status",
			From:        dbpkg.Strings(enums.PayoutHold),
			Set:         map[string]any{"settlement_claim": string(claim)},
			Guards:      guards,
		})
		return err
	})
	if err != nil {
		return nil, ledger.WriteError(err, "claim order")
	}
	if moved {
		return nil, nil
	}

	fresh, err := s.loadOrder(ctx, s.repo, order.ID)
	if err != nil {
		return nil, err
	}
	check := s.checkRelease
	done := fresh.PayoutStatus == enums.PayoutReleased
	if claim == enums.ClaimRefund {
		check = s.checkRefund
		done = fresh.PayoutStatus == enums.PayoutRefunded
	}
	if done {
		return fresh, nil
	}
	if err := check(actor, fresh); err != nil {
		return nil, err
	}
	return nil, pkgerrors.New(pkgerrors.CodeSettlementInProgress, "order is being settled")
}

func settledDTO(order *models.Order, err error) (*OrderDTO, error) {
	if err != nil {
		return nil, err
	}
	dto := ToDTO(*order)
	return &dto, nil
}

// unclaim releases a claim after a failed gateway call so either action may retry.
func (s *service) unclaim(ctx context.Context, orderID uuid.UUID, claim enums.SettlementClaim) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.repo.WithTx(tx).Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          orderID,
			StateColumn: "payout_status",
			From:        dbpkg.Strings(enums.PayoutHold),
			Set:         map[string]any{"settlement_claim": nil},
			Guards: []dbpkg.Guard{
				{Expr: "settlement_claim = ?", Args: []any{string(claim)}},
				{Expr: "transfer_id IS NULL"},
				{Expr: "refund_id IS NULL"},
			},
		})
		return err
	})
	if err != nil {
		s.logError(ctx, "failed to clear settlement claim", err)
	}
}

func transferGroup(order *models.Order) string {
	if order.OfferID != nil {
		return "offer_" + order.OfferID.String()
	}
	return "order_" + order.ID.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
