package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/api/validators"
	"github.com/angelmondragon/lackmarkt-backend/internal/jobs"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

type createJobRequest struct {
	Kind         string  `json:"kind" validate:"omitempty,oneof=bidding lacquer_request"`
	Title        string  `json:"title" validate:"required,notblank,max=200"`
	Description  *string `json:"description" validate:"omitempty,max=4000"`
	DeliveryDate *string `json:"delivery_date"`
}

func (r createJobRequest) toInput() (jobs.CreateJobInput, error) {
	kind := enums.JobKindBidding
	if strings.TrimSpace(r.Kind) != "" {
		parsed, err := enums.ParseJobKind(r.Kind)
		if err != nil {
			return jobs.CreateJobInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind")
		}
		kind = parsed
	}

	input := jobs.CreateJobInput{
		Kind:        kind,
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
	}
	if r.DeliveryDate != nil && strings.TrimSpace(*r.DeliveryDate) != "" {
		date, err := time.Parse(time.DateOnly, strings.TrimSpace(*r.DeliveryDate))
		if err != nil {
			return jobs.CreateJobInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "delivery_date must be YYYY-MM-DD").
				WithDetails(map[string]any{"field": "delivery_date"})
		}
		input.DeliveryDate = &date
	}
	return input, nil
}

// CreateJob publishes a buyer job.
func CreateJob(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createJobRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := body.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.CreateJob(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, job)
	}
}

func GetJob(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
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

		job, err := svc.GetJob(r.Context(), actor, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}
