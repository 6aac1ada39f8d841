package settlement

import (
	"time"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderDTO is the API view of an order with both settlement axes.
type OrderDTO struct {
	ID                uuid.UUID               `json:"id"`
	Source            enums.OrderSource       `json:"source"`
	BuyerID           uuid.UUID               `json:"buyer_id"`
	SellerID          uuid.UUID               `json:"seller_id"`
	JobID             *uuid.UUID              `json:"job_id,omitempty"`
	OfferID           *uuid.UUID              `json:"offer_id,omitempty"`
	ArticleRef        *string                 `json:"article_ref,omitempty"`
	Title             string                  `json:"title"`
	GrossAmountCents  int64                   `json:"gross_amount_cents"`
	PlatformFeeCents  int64                   `json:"platform_fee_cents"`
	NetAmountCents    int64                   `json:"net_amount_cents"`
	Currency          enums.Currency          `json:"currency"`
	Status            enums.OrderStatus       `json:"status"`
	FulfillmentStatus enums.FulfillmentStatus `json:"fulfillment_status"`
	PayoutStatus      enums.PayoutStatus      `json:"payout_status"`
	TransferID        *string                 `json:"transfer_id,omitempty"`
	RefundID          *string                 `json:"refund_id,omitempty"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	ReportedAt        *time.Time              `json:"reported_at,omitempty"`
	ShippedAt         *time.Time              `json:"shipped_at,omitempty"`
	AutoReleaseAt     *time.Time              `json:"auto_release_at,omitempty"`
	ConfirmedAt       *time.Time              `json:"confirmed_at,omitempty"`
	DisputeOpenedAt   *time.Time              `json:"dispute_opened_at,omitempty"`
	DisputeReason     *string                 `json:"dispute_reason,omitempty"`
	ReleasedAt        *time.Time              `json:"released_at,omitempty"`
	RefundedAt        *time.Time              `json:"refunded_at,omitempty"`
	CanceledAt        *time.Time              `json:"canceled_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
}

// ToDTO maps an order row to its API view.
func ToDTO(o models.Order) OrderDTO {
	return OrderDTO{
		ID:                o.ID,
		Source:            o.Source,
		BuyerID:           o.BuyerID,
		SellerID:          o.SellerID,
		JobID:             o.JobID,
		OfferID:           o.OfferID,
		ArticleRef:        o.ArticleRef,
		Title:             o.Title,
		GrossAmountCents:  o.GrossAmountCents,
		PlatformFeeCents:  o.PlatformFeeCents,
		NetAmountCents:    o.NetAmountCents(),
		Currency:          o.Currency,
		Status:            o.Status,
		FulfillmentStatus: o.FulfillmentStatus,
		PayoutStatus:      o.PayoutStatus,
		TransferID:        o.TransferID,
		RefundID:          o.RefundID,
		PaidAt:            o.PaidAt,
		ReportedAt:        o.ReportedAt,
		ShippedAt:         o.ShippedAt,
		AutoReleaseAt:     o.AutoReleaseAt,
		ConfirmedAt:       o.ConfirmedAt,
		DisputeOpenedAt:   o.DisputeOpenedAt,
		DisputeReason:     o.DisputeReason,
		ReleasedAt:        o.ReleasedAt,
		RefundedAt:        o.RefundedAt,
		CanceledAt:        o.CanceledAt,
		CreatedAt:         o.CreatedAt,
	}
}

// SweepResult summarizes one auto-release or auto-refund pass.
type SweepResult struct {
	Scanned int
	Applied int
	Skipped int
	Failed  int
}
