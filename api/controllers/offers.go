package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/api/validators"
	"github.com/angelmondragon/lackmarkt-backend/internal/offers"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pagination"
	"github.com/google/uuid"
)

type submitOfferRequest struct {
	ItemAmountCents     int64   `json:"item_amount_cents" validate:"gte=0"`
	ShippingAmountCents int64   `json:"shipping_amount_cents" validate:"gte=0"`
	Message             *string `json:"message" validate:"omitempty,max=2000"`
}

// SubmitOffer records a supplier quote on a job.
func SubmitOffer(svc offers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offers service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body submitOfferRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		offer, err := svc.SubmitOffer(r.Context(), actor, offers.SubmitOfferInput{
			JobID:               jobID,
			ItemAmountCents:     body.ItemAmountCents,
			ShippingAmountCents: body.ShippingAmountCents,
			Message:             body.Message,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, offer)
	}
}

// ListOffers pages through a job's offers. Buyers see all, suppliers only their own.
func ListOffers(svc offers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offers service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListOffers(r.Context(), actor, jobID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type selectionFunc func(ctx context.Context, actor auth.Identity, jobID, offerID uuid.UUID) (*offers.SelectionResult, error)

// SelectOffer moves the job to offer_selected. Selecting an offer on a job that
// already has one swaps the selection.
func SelectOffer(svc offers.Service, logg *logger.Logger) http.HandlerFunc {
	return selectionHandler(svc, logg, func(s offers.Service) selectionFunc { return s.SelectOffer })
}

func UnselectOffer(svc offers.Service, logg *logger.Logger) http.HandlerFunc {
	return selectionHandler(svc, logg, func(s offers.Service) selectionFunc { return s.UnselectOffer })
}

func selectionHandler(svc offers.Service, logg *logger.Logger, pick func(offers.Service) selectionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offers service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offerID, err := validators.ParseUUIDParam(r, "offerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := pick(svc)(r.Context(), actor, jobID, offerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
