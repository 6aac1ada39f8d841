package settlement

import (
	"context"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/lifecycle"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderEvent builds the outbox event describing order after a transition.
func OrderEvent(eventType enums.OutboxEventType, order models.Order, actor auth.Identity) outbox.DomainEvent {
	var ref *outbox.Actor
	if actor.UserID != uuid.Nil || actor.Role != "" {
		ref = &outbox.Actor{UserID: actor.UserID, Role: string(actor.Role)}
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         ref,
		Data: payloads.OrderSettlementEvent{
			OrderID:           order.ID,
			Source:            string(order.Source),
			JobID:             order.JobID,
			OfferID:           order.OfferID,
			Title:             order.Title,
			BuyerID:           order.BuyerID,
			BuyerEmail:        order.BuyerEmail,
			SellerID:          order.SellerID,
			SellerEmail:       order.SellerEmail,
			Status:            order.Status.String(),
			FulfillmentStatus: order.FulfillmentStatus.String(),
			PayoutStatus:      order.PayoutStatus.String(),
			GrossAmountCents:  order.GrossAmountCents,
			PlatformFeeCents:  order.PlatformFeeCents,
			NetAmountCents:    order.NetAmountCents(),
			Currency:          order.Currency.String(),
			DisputeReason:     order.DisputeReason,
			Automatic:         actor.Role == enums.RoleSystem,
		},
	}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order models.Order, actor auth.Identity) error {
	return s.outbox.Emit(ctx, tx, OrderEvent(eventType, order, actor))
}

// moveJob applies a follow-up job transition inside the order's transaction.
// The order transition already committed money, so a job that cannot move is
// recorded and skipped instead of failing the whole unit.
func (s *service) moveJob(ctx context.Context, repo ledger.Repository, order models.Order, action lifecycle.Action, set map[string]any) error {
	if order.JobID == nil {
		return nil
	}
	target, ok := lifecycle.Jobs.Target(action)
	if !ok {
		return nil
	}
	set["status"] = target.String()
	moved, err := repo.Transition(ctx, dbpkg.Transition{
		Table:       ledger.TableJobs,
		ID:          *order.JobID,
		StateColumn: "status",
		From:        lifecycle.Sources(lifecycle.Jobs, action),
		Set:         set,
	})
	if err != nil {
		return ledger.WriteError(err, "job "+action.String())
	}
	if moved {
		s.recorder.Applied(ctx, lifecycle.Jobs.Entity(), action.String(), "", target.String())
		return nil
	}
	job, err := repo.FindJob(ctx, *order.JobID)
	if err != nil {
		return ledger.LoadError(err, "job")
	}
	res := lifecycle.Jobs.Eval(job.Status, action)
	if res.Err != nil {
		s.recorder.Rejected(ctx, lifecycle.Jobs.Entity(), action.String(), job.Status.String(), res.Err)
		return nil
	}
	s.recorder.NoOp(ctx, lifecycle.Jobs.Entity(), action.String(), job.Status.String())
	return nil
}

func (s *service) closeJob(ctx context.Context, repo ledger.Repository, order models.Order) error {
	return s.moveJob(ctx, repo, order, lifecycle.Close, map[string]any{})
}

func (s *service) mediateJob(ctx context.Context, repo ledger.Repository, order models.Order) error {
	return s.moveJob(ctx, repo, order, lifecycle.Mediate, map[string]any{})
}

// reopenJob republishes the job after a refund and cancels the refunded offer
// so the supplier may bid again.
func (s *service) reopenJob(ctx context.Context, repo ledger.Repository, order models.Order) error {
	if order.OfferID != nil {
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOffers,
			ID:          *order.OfferID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Offers, lifecycle.Cancel),
			Set:         map[string]any{"status": enums.OfferStatusCanceled.String()},
		})
		if err != nil {
			return ledger.WriteError(err, "cancel refunded offer")
		}
		if moved {
			s.recorder.Applied(ctx, lifecycle.Offers.Entity(), lifecycle.Cancel.String(), enums.OfferStatusPaid.String(), enums.OfferStatusCanceled.String())
		}
	}
	return s.moveJob(ctx, repo, order, lifecycle.Reopen, map[string]any{
		"published":         true,
		"selected_offer_id": nil,
	})
}
