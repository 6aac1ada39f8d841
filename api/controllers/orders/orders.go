package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/api/validators"
	"github.com/angelmondragon/lackmarkt-backend/internal/settlement"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

type orderAction func(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*settlement.OrderDTO, error)

// Detail returns the order to its buyer, its seller or an admin.
func Detail(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return orderHandler(svc, logg, func(s settlement.Service) orderAction { return s.GetOrder })
}

// Report marks the order as shipped/fulfilled by the seller.
func Report(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return orderHandler(svc, logg, func(s settlement.Service) orderAction { return s.ReportFulfillment })
}

// Confirm records the buyer's receipt. Funds stay held until a release.
func Confirm(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return orderHandler(svc, logg, func(s settlement.Service) orderAction { return s.ConfirmFulfillment })
}

func Release(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return orderHandler(svc, logg, func(s settlement.Service) orderAction { return s.ReleaseFunds })
}

func Refund(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return orderHandler(svc, logg, func(s settlement.Service) orderAction { return s.Refund })
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"max=800"`
}

// Dispute freezes the order until an admin releases or refunds it.
func Dispute(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body disputeRequest
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.OpenDispute(withOrder(r.Context(), logg, orderID), actor, orderID, body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func orderHandler(svc settlement.Service, logg *logger.Logger, pick func(settlement.Service) orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := pick(svc)(withOrder(r.Context(), logg, orderID), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func actorAndOrder(r *http.Request) (auth.Identity, uuid.UUID, error) {
	actor, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		return auth.Identity{}, uuid.Nil, err
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return auth.Identity{}, uuid.Nil, err
	}
	return actor, orderID, nil
}

func withOrder(ctx context.Context, logg *logger.Logger, orderID uuid.UUID) context.Context {
	if logg == nil {
		return ctx
	}
	return logg.WithOrderID(ctx, orderID.String())
}
