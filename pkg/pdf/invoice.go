// Package pdf renders invoice documents.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// Party identifies an issuer or recipient on the document.
type Party struct {
	Name    string
	Address string
	TaxID   string
	Email   string
}

// InvoiceDocument is everything printed on an invoice. Amounts are minor units.
type InvoiceDocument struct {
	Number           string
	IssuedAt         time.Time
	OrderID          string
	Title            string
	Currency         string
	GrossAmountCents int64
	PlatformFeeCents int64
	NetAmountCents   int64
	Platform         Party
	Seller           Party
	Buyer            Party
}

func (d InvoiceDocument) validate() error {
	if strings.TrimSpace(d.Number) == "" {
		return errors.New("invoice number required")
	}
	if d.NetAmountCents != d.GrossAmountCents-d.PlatformFeeCents {
		return fmt.Errorf("net %d does not match gross %d minus fee %d", d.NetAmountCents, d.GrossAmountCents, d.PlatformFeeCents)
	}
	return nil
}

// RenderInvoice produces the PDF bytes. Output is stable for identical input.
func RenderInvoice(doc InvoiceDocument) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}

	p := fpdf.New("P", "mm", "A4", "")
	p.SetTitle("Invoice "+doc.Number, true)
	p.SetCreator(doc.Platform.Name, true)
	p.SetCreationDate(doc.IssuedAt)
	p.SetModificationDate(doc.IssuedAt)
	tr := p.UnicodeTranslatorFromDescriptor("")
	p.AddPage()

	p.SetFont("Helvetica", "B", 18)
	p.CellFormat(0, 10, tr("Rechnung / Invoice"), "", 1, "L", false, 0, "")

	p.SetFont("Helvetica", "", 10)
	p.CellFormat(0, 6, tr("Number: "+doc.Number), "", 1, "L", false, 0, "")
	p.CellFormat(0, 6, "Date: "+doc.IssuedAt.UTC().Format("2006-01-02"), "", 1, "L", false, 0, "")
	p.CellFormat(0, 6, "Order: "+doc.OrderID, "", 1, "L", false, 0, "")
	p.Ln(4)

	writeParty(p, tr, "Platform", doc.Platform)
	writeParty(p, tr, "Seller", doc.Seller)
	writeParty(p, tr, "Buyer", doc.Buyer)

	if doc.Title != "" {
		p.SetFont("Helvetica", "B", 11)
		p.MultiCell(0, 6, tr(doc.Title), "", "L", false)
		p.Ln(2)
	}

	p.SetFont("Helvetica", "B", 10)
	p.CellFormat(120, 8, "Item", "B", 0, "L", false, 0, "")
	p.CellFormat(0, 8, "Amount", "B", 1, "R", false, 0, "")
	p.SetFont("Helvetica", "", 10)
	rows := []struct {
		label string
		cents int64
	}{
		{"Gross amount paid by buyer", doc.GrossAmountCents},
		{"Platform fee", -doc.PlatformFeeCents},
	}
	for _, row := range rows {
		p.CellFormat(120, 7, row.label, "", 0, "L", false, 0, "")
		p.CellFormat(0, 7, FormatAmount(row.cents, doc.Currency), "", 1, "R", false, 0, "")
	}
	p.SetFont("Helvetica", "B", 10)
	p.CellFormat(120, 8, "Net payout to seller", "T", 0, "L", false, 0, "")
	p.CellFormat(0, 8, FormatAmount(doc.NetAmountCents, doc.Currency), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeParty(p *fpdf.Fpdf, tr func(string) string, label string, party Party) {
	if party.Name == "" && party.Email == "" {
		return
	}
	p.SetFont("Helvetica", "B", 10)
	p.CellFormat(0, 6, label, "", 1, "L", false, 0, "")
	p.SetFont("Helvetica", "", 10)
	for _, line := range []string{party.Name, party.Address, party.Email} {
		if line != "" {
			p.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
		}
	}
	if party.TaxID != "" {
		p.CellFormat(0, 5, tr("VAT ID: "+party.TaxID), "", 1, "L", false, 0, "")
	}
	p.Ln(3)
}

// FormatAmount prints minor units as a two-decimal amount with an upper-case currency.
func FormatAmount(cents int64, currency string) string {
	return decimal.New(cents, -2).StringFixed(2) + " " + enums.Currency(currency).Code()
}
