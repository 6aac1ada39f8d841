package checkout

import (
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/google/uuid"
)

// Session is what the client needs to confirm the payment.
type Session struct {
	JobID            *uuid.UUID     `json:"job_id,omitempty"`
	OfferID          *uuid.UUID     `json:"offer_id,omitempty"`
	OrderID          *uuid.UUID     `json:"order_id,omitempty"`
	PaymentIntentID  string         `json:"payment_intent_id"`
	ClientSecret     string         `json:"client_secret"`
	AmountCents      int64          `json:"amount_cents"`
	PlatformFeeCents int64          `json:"platform_fee_cents"`
	Currency         enums.Currency `json:"currency"`
	Reused           bool           `json:"reused"`
}

// ShopCheckoutInput describes a direct shop purchase.
type ShopCheckoutInput struct {
	SellerID            uuid.UUID
	SellerEmail         string
	ArticleRef          string
	Title               string
	ItemAmountCents     int64
	ShippingAmountCents int64
}
