package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/lifecycle"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fulfillmentStep is one move on the fulfillment axis.
type fulfillmentStep struct {
	action lifecycle.Action
	party  party
	event  enums.OutboxEventType
	// check rejects orders whose other axes forbid the move.
	check func(o *models.Order) error
	// set returns the columns written alongside the new fulfillment status.
	set func(o *models.Order, now time.Time) map[string]any
	// guards mirror check in the conditional update.
	guards []dbpkg.Guard
	// after runs inside the transaction once the order moved.
	after func(ctx context.Context, repo ledger.Repository, o models.Order) error
}

var paidStatuses = dbpkg.Strings(enums.OrderStatusFundsHeld, enums.OrderStatusShipped, enums.OrderStatusReleased)

func (s *service) ReportFulfillment(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error) {
	return s.applyFulfillment(ctx, actor, orderID, fulfillmentStep{
		action: lifecycle.Report,
		party:  partySeller,
		event:  enums.EventOrderReported,
		check: func(o *models.Order) error {
			if err := requireHeldFunds(o); err != nil {
				return err
			}
			return requireUnclaimed(o)
		},
		set: func(o *models.Order, now time.Time) map[string]any {
			autoRelease := now.Add(s.releaseGrace)
			return map[string]any{
				"status":          enums.OrderStatusShipped.String(),
				"reported_at":     now,
				"shipped_at":      now,
				"auto_release_at": autoRelease,
			}
		},
		guards: []dbpkg.Guard{
			{Expr: "status = ?", Args: []any{enums.OrderStatusFundsHeld.String()}},
			{Expr: "payout_status = ?", Args: []any{enums.PayoutHold.String()}},
			{Expr: "settlement_claim IS NULL"},
		},
	})
}

func (s *service) ConfirmFulfillment(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error) {
	return s.applyFulfillment(ctx, actor, orderID, fulfillmentStep{
		action: lifecycle.Confirm,
		party:  partyBuyer,
		event:  enums.EventOrderConfirmed,
		check:  requirePaid,
		set: func(_ *models.Order, now time.Time) map[string]any {
			return map[string]any{"confirmed_at": now}
		},
		guards: []dbpkg.Guard{{Expr: "status IN ?", Args: []any{paidStatuses}}},
	})
}

// OpenDispute contests a reported fulfillment. The job moves to mediation and
// auto-release stops considering the order.
func (s *service) OpenDispute(ctx context.Context, actor auth.Identity, orderID uuid.UUID, reason string) (*OrderDTO, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) > maxDisputeReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason must be at most 800 characters")
	}
	return s.applyFulfillment(ctx, actor, orderID, fulfillmentStep{
		action: lifecycle.Dispute,
		party:  partyBuyer,
		event:  enums.EventOrderDisputed,
		check: func(o *models.Order) error {
			if err := requireHeldFunds(o); err != nil {
				return err
			}
			if o.SettlementClaim != nil && *o.SettlementClaim == enums.ClaimRelease {
				return pkgerrors.New(pkgerrors.CodeSettlementInProgress, "funds are being released")
			}
			return nil
		},
		set: func(_ *models.Order, now time.Time) map[string]any {
			set := map[string]any{"dispute_opened_at": now}
			if reason != "" {
				set["dispute_reason"] = reason
			}
			return set
		},
		guards: []dbpkg.Guard{
			{Expr: "status IN ?", Args: []any{dbpkg.Strings(enums.OrderStatusFundsHeld, enums.OrderStatusShipped)}},
			{Expr: "payout_status = ?", Args: []any{enums.PayoutHold.String()}},
			{Expr: "(settlement_claim IS NULL OR settlement_claim <> ?)", Args: []any{enums.ClaimRelease.String()}},
		},
		after: s.mediateJob,
	})
}

func (s *service) applyFulfillment(ctx context.Context, actor auth.Identity, orderID uuid.UUID, step fulfillmentStep) (*OrderDTO, error) {
	ctx = s.logCtx(ctx, orderID)
	now := s.now().UTC()
	entity := lifecycle.Fulfillment.Entity()

	var result models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := authorizeParty(actor, order, step.party); err != nil {
			return err
		}

		res := lifecycle.Fulfillment.Eval(order.FulfillmentStatus, step.action)
		if res.Err != nil {
			s.recorder.Rejected(ctx, entity, step.action.String(), order.FulfillmentStatus.String(), res.Err)
			return res.Err
		}
		if res.Next == order.FulfillmentStatus {
			s.recorder.NoOp(ctx, entity, step.action.String(), order.FulfillmentStatus.String())
			result = *order
			return nil
		}
		if err := step.check(order); err != nil {
			s.recorder.Rejected(ctx, entity, step.action.String(), order.FulfillmentStatus.String(), err)
			return err
		}

		set := step.set(order, now)
		set["fulfillment_status"] = res.Next.String()
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOrders,
			ID:          order.ID,
			StateColumn: "fulfillment_status",
			From:        lifecycle.Sources(lifecycle.Fulfillment, step.action),
			Set:         set,
			Guards:      step.guards,
		})
		if err != nil {
			return ledger.WriteError(err, "order "+step.action.String())
		}
		fresh, err := s.loadOrder(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		if !moved {
			// another writer got there first; the fresh row decides
			retry := lifecycle.Fulfillment.Eval(fresh.FulfillmentStatus, step.action)
			switch {
			case retry.Err != nil:
				return retry.Err
			case retry.Next == fresh.FulfillmentStatus:
				s.recorder.NoOp(ctx, entity, step.action.String(), fresh.FulfillmentStatus.String())
				result = *fresh
				return nil
			}
			if err := step.check(fresh); err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}

		s.recorder.Applied(ctx, entity, step.action.String(), order.FulfillmentStatus.String(), res.Next.String())
		if step.after != nil {
			if err := step.after(ctx, repo, *fresh); err != nil {
				return err
			}
		}
		result = *fresh
		return s.emit(ctx, tx, step.event, *fresh, actor)
	})
	if err != nil {
		return nil, err
	}
	dto := ToDTO(result)
	return &dto, nil
}

// requirePaid rejects orders whose money never arrived or already went back.
func requirePaid(o *models.Order) error {
	switch o.Status {
	case enums.OrderStatusRefunded:
		return pkgerrors.New(pkgerrors.CodeAlreadyRefunded, "order was refunded")
	case enums.OrderStatusProcessing, enums.OrderStatusCanceled:
		return pkgerrors.New(pkgerrors.CodeNotPaid, "order is not paid")
	}
	return nil
}

// requireHeldFunds additionally rejects orders whose payout was already decided.
func requireHeldFunds(o *models.Order) error {
	if err := requirePaid(o); err != nil {
		return err
	}
	switch o.PayoutStatus {
	case enums.PayoutReleased:
		return pkgerrors.New(pkgerrors.CodeAlreadyReleased, "funds were released")
	case enums.PayoutRefunded:
		return pkgerrors.New(pkgerrors.CodeAlreadyRefunded, "funds were refunded")
	}
	return nil
}

// requireUnclaimed rejects orders a release or refund is already settling.
func requireUnclaimed(o *models.Order) error {
	if o.SettlementClaim != nil {
		return pkgerrors.New(pkgerrors.CodeSettlementInProgress, "funds are being "+claimVerb(*o.SettlementClaim))
	}
	return nil
}

func claimVerb(c enums.SettlementClaim) string {
	if c == enums.ClaimRefund {
		return "refunded"
	}
	return "released"
}
