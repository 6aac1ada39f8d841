package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectedAccount mirrors a seller's Stripe Connect account capabilities.
type ConnectedAccount struct {
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	StripeAccountID  string    `gorm:"column:stripe_account_id;not null;unique"`
	BusinessName     *string   `gorm:"column:business_name"`
	ChargesEnabled   bool      `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled   bool      `gorm:"column:payouts_enabled;not null;default:false"`
	DetailsSubmitted bool      `gorm:"column:details_submitted;not null;default:false"`
	TransfersActive  bool      `gorm:"column:transfers_active;not null;default:false"`
	RefreshedAt      time.Time `gorm:"column:refreshed_at;not null"`
}

func (ConnectedAccount) TableName() string { return "connected_accounts" }

// CanReceiveTransfers reports whether a platform transfer to this account can succeed.
func (a ConnectedAccount) CanReceiveTransfers() bool {
	return a.TransfersActive
}
