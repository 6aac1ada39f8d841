package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// Order is the settlement record for a paid job offer or a shop purchase.
type Order struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Source            enums.OrderSource       `gorm:"column:source;type:text;not null"`
	BuyerID           uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	BuyerEmail        string                  `gorm:"column:buyer_email;not null;default:''"`
	SellerID          uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	SellerEmail       string                  `gorm:"column:seller_email;not null;default:''"`
	JobID             *uuid.UUID              `gorm:"column:job_id;type:uuid"`
	OfferID           *uuid.UUID              `gorm:"column:offer_id;type:uuid"`
	ArticleRef        *string                 `gorm:"column:article_ref"`
	Title             string                  `gorm:"column:title;not null;default:''"`
	GrossAmountCents  int64                   `gorm:"column:gross_amount_cents;not null"`
	PlatformFeeCents  int64                   `gorm:"column:platform_fee_cents;not null"`
	Currency          enums.Currency          `gorm:"column:currency;type:text;not null;default:'eur'"`
	PaymentIntentID   *string                 `gorm:"column:payment_intent_id"`
	ChargeID          *string                 `gorm:"column:charge_id"`
	TransferID        *string                 `gorm:"column:transfer_id"`
	RefundID          *string                 `gorm:"column:refund_id"`
	Status            enums.OrderStatus       `gorm:"column:status;type:text;not null;default:'processing'"`
	FulfillmentStatus enums.FulfillmentStatus `gorm:"column:fulfillment_status;type:text;not null;default:'in_progress'"`
	PayoutStatus      enums.PayoutStatus      `gorm:"column:payout_status;type:text;not null;default:'hold'"`
	SettlementClaim   *enums.SettlementClaim  `gorm:"column:settlement_claim;type:text"`
	PaidAt            *time.Time              `gorm:"column:paid_at"`
	ReportedAt        *time.Time              `gorm:"column:reported_at"`
	ShippedAt         *time.Time              `gorm:"column:shipped_at"`
	AutoReleaseAt     *time.Time              `gorm:"column:auto_release_at"`
	ConfirmedAt       *time.Time              `gorm:"column:confirmed_at"`
	DisputeOpenedAt   *time.Time              `gorm:"column:dispute_opened_at"`
	DisputeReason     *string                 `gorm:"column:dispute_reason"`
	ReleasedAt        *time.Time              `gorm:"column:released_at"`
	RefundedAt        *time.Time              `gorm:"column:refunded_at"`
	CanceledAt        *time.Time              `gorm:"column:canceled_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// NetAmountCents is the seller payout: gross minus the fee stored at checkout.
func (o Order) NetAmountCents() int64 {
	return o.GrossAmountCents - o.PlatformFeeCents
}

// Billable reports whether an invoice may be issued for the order.
func (o Order) Billable() bool {
	if o.PayoutStatus == enums.PayoutReleased {
		return true
	}
	return o.FulfillmentStatus == enums.FulfillmentConfirmed && o.PayoutStatus == enums.PayoutHold && o.Status.PaymentReceived()
}
