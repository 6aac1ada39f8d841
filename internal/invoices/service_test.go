package invoices

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/ledger/ledgertest"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

type counterNumbers struct {
	next   int64
	before func()
}

func (c *counterNumbers) Next(context.Context) (int64, error) {
	if c.before != nil {
		c.before()
	}
	c.next++
	return c.next, nil
}

type memoryStorage struct {
	objects map[string][]byte
	uploads int
}

func (m *memoryStorage) Upload(_ context.Context, _, object, _ string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[object] = data
	m.uploads++
	return nil
}

func (m *memoryStorage) Exists(_ context.Context, _, object string) (bool, error) {
	_, ok := m.objects[object]
	return ok, nil
}

func (m *memoryStorage) SignedReadURL(bucket, object string, ttl time.Duration) (string, error) {
	return "https://storage.googleapis.com/" + bucket + "/" + object + "?ttl=" + ttl.String(), nil
}

type fixture struct {
	svc     *service
	conn    *gorm.DB
	numbers *counterNumbers
	storage *memoryStorage
	buyer   auth.Identity
	seller  auth.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := ledgertest.Open(t)
	numbers := &counterNumbers{next: 41}
	storage := &memoryStorage{objects: map[string][]byte{}}
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(conn),
		Ledger:  ledger.NewRepository(conn),
		Numbers: numbers,
		Tx:      ledgertest.Client(conn),
		Outbox:  ledgertest.Outbox(conn),
		Storage: storage,
		Bucket:  "invoices",
		URLTTL:  10 * time.Minute,
		Invoice: config.InvoiceConfig{NumberPrefix: "LM", IssuerName: "Lackmarkt GmbH"},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	return &fixture{
		svc:     impl,
		conn:    conn,
		numbers: numbers,
		storage: storage,
		buyer:   auth.Identity{UserID: uuid.New(), Role: enums.RoleUser},
		seller:  auth.Identity{UserID: uuid.New(), Role: enums.RoleUser},
	}
}

func (f *fixture) releasedOrder(t *testing.T) *models.Order {
	t.Helper()
	return ledgertest.SeedOrder(t, f.conn, f.buyer.UserID, f.seller.UserID, func(o *models.Order) {
		released := time.Now().UTC()
		transfer := "tr_1"
		o.Status = enums.OrderStatusReleased
		o.PayoutStatus = enums.PayoutReleased
		o.FulfillmentStatus = enums.FulfillmentConfirmed
		o.ReleasedAt = &released
		o.TransferID = &transfer
	})
}

func countInvoices(t *testing.T, conn *gorm.DB, orderID uuid.UUID) int64 {
	t.Helper()
	var count int64
	if err := conn.Model(&models.Invoice{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	return count
}

func TestEnsureInvoiceIssuesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.releasedOrder(t)

	first, err := f.svc.EnsureInvoice(ctx, f.seller, order.ID)
	if err != nil {
		t.Fatalf("EnsureInvoice: %v", err)
	}
	if first.Number != "LM-2026-000042" {
		t.Fatalf("unexpected invoice number %q", first.Number)
	}
	if first.GrossAmountCents != 8500 || first.PlatformFeeCents != 595 || first.NetAmountCents != 7905 {
		t.Fatalf("snapshot must match the order: %+v", first)
	}
	pdfBytes := f.storage.objects["invoices/"+order.ID.String()+"/LM-2026-000042.pdf"]
	if !bytes.HasPrefix(pdfBytes, []byte("%PDF")) {
		t.Fatalf("expected a pdf artifact, got %d bytes", len(pdfBytes))
	}

	second, err := f.svc.EnsureInvoice(ctx, f.buyer, order.ID)
	if err != nil {
		t.Fatalf("repeat EnsureInvoice: %v", err)
	}
	if second.ID != first.ID || f.storage.uploads != 1 || f.numbers.next != 42 {
		t.Fatalf("repeat call must return the stored invoice without side effects")
	}
	if got := ledgertest.CountOutbox(t, f.conn, enums.EventInvoiceIssued); got != 1 {
		t.Fatalf("expected one invoice_issued event, got %d", got)
	}
}

func TestEnsureInvoiceRejectsUnbillableOrders(t *testing.T) {
	f := newFixture(t)
	order := ledgertest.SeedOrder(t, f.conn, f.buyer.UserID, f.seller.UserID)

	_, err := f.svc.EnsureInvoice(context.Background(), f.buyer, order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotBillable) {
		t.Fatalf("expected NOT_BILLABLE, got %v", err)
	}
	if err := f.svc.EnsureForOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("EnsureForOrder should skip unbillable orders, got %v", err)
	}
	if got := countInvoices(t, f.conn, order.ID); got != 0 {
		t.Fatalf("no invoice may be written, got %d", got)
	}
}

func TestEnsureInvoiceRestrictsToParties(t *testing.T) {
	f := newFixture(t)
	order := f.releasedOrder(t)

	_, err := f.svc.EnsureInvoice(context.Background(), auth.Identity{UserID: uuid.New()}, order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if _, err := f.svc.EnsureInvoice(context.Background(), auth.Identity{Role: enums.RoleAdmin}, order.ID); err != nil {
		t.Fatalf("admin should read invoices, got %v", err)
	}
}

func TestEnsureInvoiceLosingRaceReturnsWinner(t *testing.T) {
	f := newFixture(t)
	order := f.releasedOrder(t)
	winner := &models.Invoice{
		OrderID:          order.ID,
		Number:           "LM-2026-000007",
		SellerID:         order.SellerID,
		BuyerID:          order.BuyerID,
		GrossAmountCents: order.GrossAmountCents,
		PlatformFeeCents: order.PlatformFeeCents,
		NetAmountCents:   order.NetAmountCents(),
		Currency:         order.Currency,
		PDFPath:          objectPath(order.ID, "LM-2026-000007"),
		IssuedAt:         time.Now().UTC(),
	}
	// a concurrent caller inserts between our lookup and our insert
	f.numbers.before = func() {
		if err := NewRepository(f.conn).Create(context.Background(), winner); err != nil {
			t.Fatalf("insert winner: %v", err)
		}
	}

	got, err := f.svc.EnsureInvoice(context.Background(), f.seller, order.ID)
	if err != nil {
		t.Fatalf("EnsureInvoice: %v", err)
	}
	if got.ID != winner.ID || got.Number != "LM-2026-000007" {
		t.Fatalf("expected the winning invoice, got %+v", got)
	}
	if n := countInvoices(t, f.conn, order.ID); n != 1 {
		t.Fatalf("expected exactly one invoice row, got %d", n)
	}
	if f.storage.uploads != 0 {
		t.Fatalf("loser must not write an artifact, got %d uploads", f.storage.uploads)
	}
}

func TestDownloadURLRegeneratesMissingArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.releasedOrder(t)

	invoice, err := f.svc.EnsureInvoice(ctx, f.seller, order.ID)
	if err != nil {
		t.Fatalf("EnsureInvoice: %v", err)
	}
	path := objectPath(order.ID, invoice.Number)
	delete(f.storage.objects, path)

	link, err := f.svc.DownloadURL(ctx, f.buyer, order.ID)
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	if link.InvoiceID != invoice.ID || link.URL == "" {
		t.Fatalf("unexpected link %+v", link)
	}
	regenerated, ok := f.storage.objects[path]
	if !ok || f.storage.uploads != 2 {
		t.Fatalf("artifact should be regenerated, uploads=%d", f.storage.uploads)
	}
	if !bytes.HasPrefix(regenerated, []byte("%PDF")) {
		t.Fatal("regenerated artifact should be a pdf")
	}

	if _, err := f.svc.DownloadURL(ctx, f.buyer, order.ID); err != nil {
		t.Fatalf("second DownloadURL: %v", err)
	}
	if f.storage.uploads != 2 {
		t.Fatalf("existing artifact must not be re-uploaded, uploads=%d", f.storage.uploads)
	}
}

func TestFormatNumber(t *testing.T) {
	issued := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := FormatNumber("lm", issued, 42); got != "LM-2026-000042" {
		t.Fatalf("unexpected number %q", got)
	}
	if got := FormatNumber("", issued, 1234567); got != "LM-2026-1234567" {
		t.Fatalf("unexpected number %q", got)
	}
}
