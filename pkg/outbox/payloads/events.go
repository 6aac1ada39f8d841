package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OfferSubmittedEvent notifies the buyer about a new bid on their job.
type OfferSubmittedEvent struct {
	JobID            uuid.UUID `json:"job_id"`
	JobTitle         string    `json:"job_title"`
	OfferID          uuid.UUID `json:"offer_id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	BuyerEmail       string    `json:"buyer_email"`
	SupplierID       uuid.UUID `json:"supplier_id"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	Currency         string    `json:"currency"`
	ValidUntil       time.Time `json:"valid_until"`
}

// OfferSelectedEvent notifies the supplier that the buyer picked their offer.
type OfferSelectedEvent struct {
	JobID            uuid.UUID `json:"job_id"`
	JobTitle         string    `json:"job_title"`
	OfferID          uuid.UUID `json:"offer_id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	SupplierID       uuid.UUID `json:"supplier_id"`
	SupplierEmail    string    `json:"supplier_email"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	Currency         string    `json:"currency"`
}

// OrderSettlementEvent is shared by every order transition. Recipients are
// derived from the event type by the notification worker.
type OrderSettlementEvent struct {
	OrderID           uuid.UUID  `json:"order_id"`
	Source            string     `json:"source"`
	JobID             *uuid.UUID `json:"job_id,omitempty"`
	OfferID           *uuid.UUID `json:"offer_id,omitempty"`
	Title             string     `json:"title"`
	BuyerID           uuid.UUID  `json:"buyer_id"`
	BuyerEmail        string     `json:"buyer_email"`
	SellerID          uuid.UUID  `json:"seller_id"`
	SellerEmail       string     `json:"seller_email"`
	Status            string     `json:"status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	PayoutStatus      string     `json:"payout_status"`
	GrossAmountCents  int64      `json:"gross_amount_cents"`
	PlatformFeeCents  int64      `json:"platform_fee_cents"`
	NetAmountCents    int64      `json:"net_amount_cents"`
	Currency          string     `json:"currency"`
	DisputeReason     *string    `json:"dispute_reason,omitempty"`
	Automatic         bool       `json:"automatic"`
}

// InvoiceIssuedEvent tells the seller an invoice is available for download.
type InvoiceIssuedEvent struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	OrderID        uuid.UUID `json:"order_id"`
	Number         string    `json:"number"`
	SellerID       uuid.UUID `json:"seller_id"`
	SellerEmail    string    `json:"seller_email"`
	BuyerEmail     string    `json:"buyer_email"`
	NetAmountCents int64     `json:"net_amount_cents"`
	Currency       string    `json:"currency"`
}
