package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/google/uuid"
)

type InvoiceDTO struct {
	ID               uuid.UUID `json:"id"`
	OrderID          uuid.UUID `json:"order_id"`
	Number           string    `json:"number"`
	SellerID         uuid.UUID `json:"seller_id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	GrossAmountCents int64     `json:"gross_amount_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	NetAmountCents   int64     `json:"net_amount_cents"`
	Currency         string    `json:"currency"`
	IssuedAt         time.Time `json:"issued_at"`
}

type DownloadDTO struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toDTO(inv models.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:               inv.ID,
		OrderID:          inv.OrderID,
		Number:           inv.Number,
		SellerID:         inv.SellerID,
		BuyerID:          inv.BuyerID,
		GrossAmountCents: inv.GrossAmountCents,
		PlatformFeeCents: inv.PlatformFeeCents,
		NetAmountCents:   inv.NetAmountCents,
		Currency:         inv.Currency.String(),
		IssuedAt:         inv.IssuedAt,
	}
}

// FormatNumber renders <prefix>-<year>-<6-digit sequence>, e.g. LM-2026-000042.
func FormatNumber(prefix string, issuedAt time.Time, seq int64) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "LM"
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, issuedAt.UTC().Year(), seq)
}

func objectPath(orderID uuid.UUID, number string) string {
	return fmt.Sprintf("invoices/%s/%s.pdf", orderID, number)
}
