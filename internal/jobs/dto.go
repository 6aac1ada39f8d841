package jobs

import (
	"time"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/google/uuid"
)

// CreateJobInput is what a buyer publishes.
type CreateJobInput struct {
	Kind         enums.JobKind
	Title        string
	Description  *string
	DeliveryDate *time.Time
}

// JobDTO is the API view of a job.
type JobDTO struct {
	ID              uuid.UUID       `json:"id"`
	Kind            enums.JobKind   `json:"kind"`
	BuyerID         uuid.UUID       `json:"buyer_id"`
	Title           string          `json:"title"`
	Description     *string         `json:"description,omitempty"`
	DeliveryDate    *string         `json:"delivery_date,omitempty"`
	Status          enums.JobStatus `json:"status"`
	SelectedOfferID *uuid.UUID      `json:"selected_offer_id,omitempty"`
	Published       bool            `json:"published"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ToDTO maps a job row to its API view.
func ToDTO(job models.Job) JobDTO {
	dto := JobDTO{
		ID:              job.ID,
		Kind:            job.Kind,
		BuyerID:         job.BuyerID,
		Title:           job.Title,
		Description:     job.Description,
		Status:          job.Status,
		SelectedOfferID: job.SelectedOfferID,
		Published:       job.Published,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.DeliveryDate != nil {
		formatted := job.DeliveryDate.UTC().Format(time.DateOnly)
		dto.DeliveryDate = &formatted
	}
	return dto
}
