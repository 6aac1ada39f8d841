package offers

import (
	"time"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/google/uuid"
)

// SubmitOfferInput is a supplier bid on a job.
type SubmitOfferInput struct {
	JobID               uuid.UUID
	ItemAmountCents     int64
	ShippingAmountCents int64
	Message             *string
}

// OfferDTO is the API view of an offer.
type OfferDTO struct {
	ID                  uuid.UUID         `json:"id"`
	JobID               uuid.UUID         `json:"job_id"`
	SupplierID          uuid.UUID         `json:"supplier_id"`
	ItemAmountCents     int64             `json:"item_amount_cents"`
	ShippingAmountCents int64             `json:"shipping_amount_cents"`
	TotalAmountCents    int64             `json:"total_amount_cents"`
	Currency            enums.Currency    `json:"currency"`
	Message             *string           `json:"message,omitempty"`
	Status              enums.OfferStatus `json:"status"`
	ValidUntil          time.Time         `json:"valid_until"`
	PaidAt              *time.Time        `json:"paid_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// JobState is the slice of the job a selection changes.
type JobState struct {
	ID              uuid.UUID       `json:"id"`
	Status          enums.JobStatus `json:"status"`
	SelectedOfferID *uuid.UUID      `json:"selected_offer_id"`
}

// SelectionResult is returned by select and unselect.
type SelectionResult struct {
	Job   JobState `json:"job"`
	Offer OfferDTO `json:"offer"`
}

// OfferList is a page of active offers.
type OfferList struct {
	Offers     []OfferDTO `json:"offers"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func toDTO(o models.JobOffer) OfferDTO {
	return OfferDTO{
		ID:                  o.ID,
		JobID:               o.JobID,
		SupplierID:          o.SupplierID,
		ItemAmountCents:     o.ItemAmountCents,
		ShippingAmountCents: o.ShippingAmountCents,
		TotalAmountCents:    o.TotalAmountCents,
		Currency:            o.Currency,
		Message:             o.Message,
		Status:              o.Status,
		ValidUntil:          o.ValidUntil,
		PaidAt:              o.PaidAt,
		CreatedAt:           o.CreatedAt,
	}
}

func jobState(j models.Job) JobState {
	return JobState{ID: j.ID, Status: j.Status, SelectedOfferID: j.SelectedOfferID}
}
