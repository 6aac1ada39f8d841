package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// JobOffer is a supplier's priced bid. TotalAmountCents always equals item plus shipping.
type JobOffer struct {
	ID                  uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID               uuid.UUID         `gorm:"column:job_id;type:uuid;not null"`
	SupplierID          uuid.UUID         `gorm:"column:supplier_id;type:uuid;not null"`
	SupplierEmail       string            `gorm:"column:supplier_email;not null;default:''"`
	BuyerID             uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	ItemAmountCents     int64             `gorm:"column:item_amount_cents;not null"`
	ShippingAmountCents int64             `gorm:"column:shipping_amount_cents;not null;default:0"`
	TotalAmountCents    int64             `gorm:"column:total_amount_cents;not null"`
	Currency            enums.Currency    `gorm:"column:currency;type:text;not null;default:'eur'"`
	PlatformFeeCents    *int64            `gorm:"column:platform_fee_cents"`
	Message             *string           `gorm:"column:message"`
	Status              enums.OfferStatus `gorm:"column:status;type:text;not null;default:'open'"`
	ValidUntil          time.Time         `gorm:"column:valid_until;not null"`
	PaymentIntentID     *string           `gorm:"column:payment_intent_id"`
	ChargeID            *string           `gorm:"column:charge_id"`
	PaidAt              *time.Time        `gorm:"column:paid_at"`
	CreatedAt           time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (JobOffer) TableName() string { return "job_offers" }

// ActiveAt reports whether the offer is still listed to the buyer at now.
func (o JobOffer) ActiveAt(now time.Time) bool {
	if o.Status == enums.OfferStatusPaid {
		return true
	}
	return (o.Status == enums.OfferStatusOpen || o.Status == enums.OfferStatusSelected) && o.ValidUntil.After(now)
}
