package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/api/validators"
	"github.com/angelmondragon/lackmarkt-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

// CreateCheckout opens (or reuses) the payment intent for a job's selected offer.
func CreateCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
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

		session, err := svc.CreateCheckout(r.Context(), actor, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

type shopCheckoutRequest struct {
	SellerID            string `json:"seller_id" validate:"required,uuid"`
	SellerEmail         string `json:"seller_email" validate:"required,email"`
	ArticleRef          string `json:"article_ref" validate:"required,max=128"`
	Title               string `json:"title" validate:"required,notblank,max=200"`
	ItemAmountCents     int64  `json:"item_amount_cents" validate:"gte=0"`
	ShippingAmountCents int64  `json:"shipping_amount_cents" validate:"gte=0"`
}

// CreateShopCheckout starts a direct purchase that creates its order up front.
func CreateShopCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body shopCheckoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerID, err := uuid.Parse(body.SellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller_id"))
			return
		}

		session, err := svc.CreateShopCheckout(r.Context(), actor, checkout.ShopCheckoutInput{
			SellerID:            sellerID,
			SellerEmail:         strings.TrimSpace(body.SellerEmail),
			ArticleRef:          validators.CleanText(body.ArticleRef, 128),
			Title:               validators.CleanText(body.Title, 200),
			ItemAmountCents:     body.ItemAmountCents,
			ShippingAmountCents: body.ShippingAmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}
