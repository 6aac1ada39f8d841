// Package lifecycle centralizes the legal transitions of every settlement entity.
// Services evaluate these tables before writing and pass Sources(action) to
// db.CompareAndTransition as the expected pre-states.
package lifecycle

import (
	"fmt"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/statemachine"
)

// Action names an operation applied to an entity.
type Action string

const (
	Select        Action = "select"
	Unselect      Action = "unselect"
	Checkout      Action = "checkout"
	Pay           Action = "pay"
	PaymentFailed Action = "payment_failed"
	Mediate       Action = "mediate"
	Close         Action = "close"
	Reopen        Action = "reopen"
	Cancel        Action = "cancel"
	Ship          Action = "ship"
	Report        Action = "report"
	Confirm       Action = "confirm"
	Dispute       Action = "dispute"
	Release       Action = "release"
	Refund        Action = "refund"
)

func (a Action) String() string {
	return string(a)
}

func conflict(code pkgerrors.Code, msg string) error {
	return pkgerrors.New(code, msg)
}

func fallback[S ~string](entity string, byAction map[Action]pkgerrors.Code) func(S, Action) error {
	return func(state S, action Action) error {
		code, ok := byAction[action]
		if !ok {
			code = pkgerrors.CodeStateConflict
		}
		return pkgerrors.New(code, fmt.Sprintf("%s cannot %s from %s", entity, action, state))
	}
}

// Jobs governs the buyer's request.
var Jobs = statemachine.New[enums.JobStatus, Action]("job").
	Allow(Select, enums.JobStatusAwaitingPayment, enums.JobStatusOpen, enums.JobStatusAwarded).
	Deny(Select, conflict(pkgerrors.CodeOfferAlreadySelected, "another offer is already selected"), enums.JobStatusAwaitingPayment).
	Allow(Unselect, enums.JobStatusOpen, enums.JobStatusAwaitingPayment).
	Idle(Unselect, enums.JobStatusOpen, enums.JobStatusAwarded).
	Deny(Unselect, conflict(pkgerrors.CodeAlreadyPaid, "job is already paid"), enums.JobStatusPaid, enums.JobStatusMediated, enums.JobStatusClosed).
	Allow(Checkout, enums.JobStatusAwaitingPayment, enums.JobStatusOpen, enums.JobStatusAwaitingPayment).
	Allow(Pay, enums.JobStatusPaid, enums.JobStatusAwaitingPayment, enums.JobStatusOpen).
	Idle(Pay, enums.JobStatusPaid, enums.JobStatusMediated, enums.JobStatusClosed).
	Allow(PaymentFailed, enums.JobStatusOpen, enums.JobStatusAwaitingPayment).
	Idle(PaymentFailed, enums.JobStatusOpen).
	Allow(Mediate, enums.JobStatusMediated, enums.JobStatusPaid).
	Idle(Mediate, enums.JobStatusMediated).
	Allow(Close, enums.JobStatusClosed, enums.JobStatusPaid, enums.JobStatusMediated).
	Idle(Close, enums.JobStatusClosed).
	Allow(Reopen, enums.JobStatusOpen, enums.JobStatusPaid, enums.JobStatusMediated).
	Idle(Reopen, enums.JobStatusOpen).
	Otherwise(fallback[enums.JobStatus]("job", map[Action]pkgerrors.Code{
		Select:   pkgerrors.CodeRequestNotOpen,
		Checkout: pkgerrors.CodeJobWrongStatus,
		Pay:      pkgerrors.CodeJobWrongStatus,
	}))

// Offers governs a supplier bid up to payment. Fulfillment and payout live on the order.
var Offers = statemachine.New[enums.OfferStatus, Action]("offer").
	Allow(Select, enums.OfferStatusSelected, enums.OfferStatusOpen).
	Idle(Select, enums.OfferStatusSelected).
	Deny(Select, conflict(pkgerrors.CodeAlreadyPaid, "offer is already paid"), enums.OfferStatusPaid).
	Allow(Unselect, enums.OfferStatusOpen, enums.OfferStatusSelected).
	Idle(Unselect, enums.OfferStatusOpen, enums.OfferStatusCanceled).
	Deny(Unselect, conflict(pkgerrors.CodeAlreadyPaid, "offer is already paid"), enums.OfferStatusPaid).
	Idle(Checkout, enums.OfferStatusSelected).
	Deny(Checkout, conflict(pkgerrors.CodeAlreadyPaid, "offer is already paid"), enums.OfferStatusPaid).
	Allow(Pay, enums.OfferStatusPaid, enums.OfferStatusSelected).
	Idle(Pay, enums.OfferStatusPaid).
	Allow(PaymentFailed, enums.OfferStatusOpen, enums.OfferStatusSelected).
	Idle(PaymentFailed, enums.OfferStatusOpen).
	Allow(Cancel, enums.OfferStatusCanceled, enums.OfferStatusPaid).
	Idle(Cancel, enums.OfferStatusCanceled).
	Otherwise(fallback[enums.OfferStatus]("offer", map[Action]pkgerrors.Code{
		Select:   pkgerrors.CodeOfferNotOpen,
		Checkout: pkgerrors.CodeOfferNotSelected,
		Pay:      pkgerrors.CodeOfferNotSelected,
	}))

// OrderStatuses governs the coarse payment status of an order.
var OrderStatuses = statemachine.New[enums.OrderStatus, Action]("order").
	Allow(Pay, enums.OrderStatusFundsHeld, enums.OrderStatusProcessing).
	Idle(Pay, enums.OrderStatusFundsHeld, enums.OrderStatusShipped, enums.OrderStatusReleased).
	Deny(Pay, conflict(pkgerrors.CodeAlreadyRefunded, "order was refunded"), enums.OrderStatusRefunded).
	Allow(Ship, enums.OrderStatusShipped, enums.OrderStatusFundsHeld).
	Idle(Ship, enums.OrderStatusShipped, enums.OrderStatusReleased).
	Allow(Release, enums.OrderStatusReleased, enums.OrderStatusFundsHeld, enums.OrderStatusShipped).
	Idle(Release, enums.OrderStatusReleased).
	Deny(Release, conflict(pkgerrors.CodeAlreadyRefunded, "order was refunded"), enums.OrderStatusRefunded).
	Allow(Refund, enums.OrderStatusRefunded, enums.OrderStatusFundsHeld, enums.OrderStatusShipped).
	Idle(Refund, enums.OrderStatusRefunded).
	Deny(Refund, conflict(pkgerrors.CodeAlreadyReleased, "funds were released"), enums.OrderStatusReleased).
	Allow(Cancel, enums.OrderStatusCanceled, enums.OrderStatusProcessing).
	Idle(Cancel, enums.OrderStatusCanceled).
	Deny(Cancel, conflict(pkgerrors.CodeAlreadyPaid, "order is already paid"), enums.OrderStatusFundsHeld, enums.OrderStatusShipped, enums.OrderStatusReleased).
	Otherwise(fallback[enums.OrderStatus]("order", map[Action]pkgerrors.Code{
		Pay:     pkgerrors.CodeStateConflict,
		Ship:    pkgerrors.CodeNotPaid,
		Release: pkgerrors.CodeNotPaid,
		Refund:  pkgerrors.CodeNotPaid,
	}))

// Fulfillment governs the delivery axis of a paid order.
var Fulfillment = statemachine.New[enums.FulfillmentStatus, Action]("fulfillment").
	Allow(Report, enums.FulfillmentReported, enums.FulfillmentInProgress).
	Idle(Report, enums.FulfillmentReported).
	Deny(Report, conflict(pkgerrors.CodeAlreadyConfirmed, "fulfillment already confirmed"), enums.FulfillmentConfirmed).
	Deny(Report, conflict(pkgerrors.CodeInDispute, "order is in dispute"), enums.FulfillmentDisputed).
	Allow(Confirm, enums.FulfillmentConfirmed, enums.FulfillmentReported).
	Idle(Confirm, enums.FulfillmentConfirmed).
	Deny(Confirm, conflict(pkgerrors.CodeNotReportedYet, "fulfillment not reported yet"), enums.FulfillmentInProgress).
	Deny(Confirm, conflict(pkgerrors.CodeInDispute, "order is in dispute"), enums.FulfillmentDisputed).
	Allow(Dispute, enums.FulfillmentDisputed, enums.FulfillmentReported).
	Idle(Dispute, enums.FulfillmentDisputed).
	Deny(Dispute, conflict(pkgerrors.CodeNotReportedYet, "fulfillment not reported yet"), enums.FulfillmentInProgress).
	Deny(Dispute, conflict(pkgerrors.CodeAlreadyConfirmed, "fulfillment already confirmed"), enums.FulfillmentConfirmed).
	Otherwise(fallback[enums.FulfillmentStatus]("fulfillment", nil))

// Payout governs the funds axis of a paid order.
var Payout = statemachine.New[enums.PayoutStatus, Action]("payout").
	Allow(Release, enums.PayoutReleased, enums.PayoutHold).
	Idle(Release, enums.PayoutReleased).
	Deny(Release, conflict(pkgerrors.CodeAlreadyRefunded, "funds were refunded"), enums.PayoutRefunded).
	Allow(Refund, enums.PayoutRefunded, enums.PayoutHold).
	Idle(Refund, enums.PayoutRefunded).
	Deny(Refund, conflict(pkgerrors.CodeAlreadyReleased, "funds were released"), enums.PayoutReleased).
	Otherwise(fallback[enums.PayoutStatus]("payout", nil))

// Sources returns the pre-states of action as plain strings for a conditional update.
func Sources[S ~string](table *statemachine.Table[S, Action], action Action) []string {
	states := table.Sources(action)
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}
