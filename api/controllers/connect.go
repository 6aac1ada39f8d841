package controllers

import (
	"net/http"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/internal/connect"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

// PayoutEligibility reports whether the caller can receive transfers.
func PayoutEligibility(svc connect.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "connect service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eligibility, err := svc.PayoutEligibility(r.Context(), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, eligibility)
	}
}
