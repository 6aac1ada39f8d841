package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// Invoice is an immutable billing snapshot for exactly one order.
type Invoice struct {
	ID               uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID      `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_invoices_order_id"`
	Number           string         `gorm:"column:number;not null;unique"`
	SellerID         uuid.UUID      `gorm:"column:seller_id;type:uuid;not null"`
	BuyerID          uuid.UUID      `gorm:"column:buyer_id;type:uuid;not null"`
	GrossAmountCents int64          `gorm:"column:gross_amount_cents;not null"`
	PlatformFeeCents int64          `gorm:"column:platform_fee_cents;not null"`
	NetAmountCents   int64          `gorm:"column:net_amount_cents;not null"`
	Currency         enums.Currency `gorm:"column:currency;type:text;not null"`
	PDFPath          string         `gorm:"column:pdf_path;not null"`
	IssuedAt         time.Time      `gorm:"column:issued_at;not null"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Invoice) TableName() string { return "invoices" }
