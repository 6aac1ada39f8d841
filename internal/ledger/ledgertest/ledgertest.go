// Package ledgertest opens an in-memory sqlite ledger for service tests.
package ledgertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
)

var schema = []string{
	`CREATE TABLE jobs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  buyer_email TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL,
  description TEXT,
  delivery_date DATETIME,
  status TEXT NOT NULL DEFAULT 'open',
  selected_offer_id TEXT,
  published INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE job_offers (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  supplier_id TEXT NOT NULL,
  supplier_email TEXT NOT NULL DEFAULT '',
  buyer_id TEXT NOT NULL,
  item_amount_cents INTEGER NOT NULL,
  shipping_amount_cents INTEGER NOT NULL DEFAULT 0,
  total_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'eur',
  platform_fee_cents INTEGER,
  message TEXT,
  status TEXT NOT NULL DEFAULT 'open',
  valid_until DATETIME NOT NULL,
  payment_intent_id TEXT,
  charge_id TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (total_amount_cents = item_amount_cents + shipping_amount_cents)
);`,
	`CREATE UNIQUE INDEX ux_job_offers_active_supplier ON job_offers (job_id, supplier_id)
  WHERE status IN ('open', 'selected', 'paid');`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  buyer_email TEXT NOT NULL DEFAULT '',
  seller_id TEXT NOT NULL,
  seller_email TEXT NOT NULL DEFAULT '',
  job_id TEXT,
  offer_id TEXT,
  article_ref TEXT,
  title TEXT NOT NULL DEFAULT '',
  gross_amount_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'eur',
  payment_intent_id TEXT,
  charge_id TEXT,
  transfer_id TEXT,
  refund_id TEXT,
  status TEXT NOT NULL DEFAULT 'processing',
  fulfillment_status TEXT NOT NULL DEFAULT 'in_progress',
  payout_status TEXT NOT NULL DEFAULT 'hold',
  settlement_claim TEXT,
  paid_at DATETIME,
  reported_at DATETIME,
  shipped_at DATETIME,
  auto_release_at DATETIME,
  confirmed_at DATETIME,
  dispute_opened_at DATETIME,
  dispute_reason TEXT,
  released_at DATETIME,
  refunded_at DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (NOT (released_at IS NOT NULL AND refunded_at IS NOT NULL))
);`,
	`CREATE UNIQUE INDEX ux_orders_offer_id ON orders (offer_id) WHERE offer_id IS NOT NULL;`,
	`CREATE TABLE invoices (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  number TEXT NOT NULL UNIQUE,
  seller_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  gross_amount_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL,
  net_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  pdf_path TEXT NOT NULL,
  issued_at DATETIME NOT NULL,
  created_at DATETIME,
  CONSTRAINT ux_invoices_order_id UNIQUE (order_id)
);`,
	`CREATE TABLE connected_accounts (
  user_id TEXT PRIMARY KEY,
  stripe_account_id TEXT NOT NULL UNIQUE,
  business_name TEXT,
  charges_enabled INTEGER NOT NULL DEFAULT 0,
  payouts_enabled INTEGER NOT NULL DEFAULT 0,
  details_submitted INTEGER NOT NULL DEFAULT 0,
  transfers_active INTEGER NOT NULL DEFAULT 0,
  refreshed_at DATETIME NOT NULL
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  event_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  read_at DATETIME,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_notifications_event_user ON notifications (event_id, user_id);`,
}

// Open returns an isolated in-memory database with the settlement tables.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Client wraps conn as a transaction runner.
func Client(conn *gorm.DB) *dbpkg.Client {
	return dbpkg.Wrap(conn)
}

// Outbox returns an emitter writing to conn's outbox_events table.
func Outbox(conn *gorm.DB) *outbox.Service {
	return outbox.NewService(outbox.NewRepository(conn), nil)
}

// SeedJob inserts an open job owned by buyer.
func SeedJob(t *testing.T, conn *gorm.DB, buyer uuid.UUID, mutate ...func(*models.Job)) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:         uuid.New(),
		Kind:       enums.JobKindBidding,
		BuyerID:    buyer,
		BuyerEmail: "buyer@example.com",
		Title:      "Powder coat 12 rims",
		Status:     enums.JobStatusOpen,
		Published:  true,
	}
	for _, fn := range mutate {
		fn(job)
	}
	if err := conn.WithContext(context.Background()).Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

// SeedOffer inserts an offer on job from supplier.
func SeedOffer(t *testing.T, conn *gorm.DB, job *models.Job, supplier uuid.UUID, mutate ...func(*models.JobOffer)) *models.JobOffer {
	t.Helper()
	offer := &models.JobOffer{
		ID:                  uuid.New(),
		JobID:               job.ID,
		SupplierID:          supplier,
		SupplierEmail:       "supplier@example.com",
		BuyerID:             job.BuyerID,
		ItemAmountCents:     8000,
		ShippingAmountCents: 500,
		TotalAmountCents:    8500,
		Currency:            enums.CurrencyEUR,
		Status:              enums.OfferStatusOpen,
		ValidUntil:          time.Now().UTC().Add(7 * 24 * time.Hour),
	}
	for _, fn := range mutate {
		fn(offer)
	}
	if err := conn.Create(offer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return offer
}

// SeedOrder inserts a paid job-offer order with funds held.
func SeedOrder(t *testing.T, conn *gorm.DB, buyer, seller uuid.UUID, mutate ...func(*models.Order)) *models.Order {
	t.Helper()
	paidAt := time.Now().UTC().Add(-time.Hour)
	intent := "pi_" + uuid.NewString()[:8]
	charge := "ch_" + uuid.NewString()[:8]
	order := &models.Order{
		ID:                uuid.New(),
		Source:            enums.OrderSourceJobOffer,
		BuyerID:           buyer,
		BuyerEmail:        "buyer@example.com",
		SellerID:          seller,
		SellerEmail:       "supplier@example.com",
		Title:             "Powder coat 12 rims",
		GrossAmountCents:  8500,
		PlatformFeeCents:  595,
		Currency:          enums.CurrencyEUR,
		PaymentIntentID:   &intent,
		ChargeID:          &charge,
		Status:            enums.OrderStatusFundsHeld,
		FulfillmentStatus: enums.FulfillmentInProgress,
		PayoutStatus:      enums.PayoutHold,
		PaidAt:            &paidAt,
	}
	for _, fn := range mutate {
		fn(order)
	}
	if err := conn.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// SeedConnectedAccount inserts an onboarded seller account.
func SeedConnectedAccount(t *testing.T, conn *gorm.DB, seller uuid.UUID, transfersActive bool) *models.ConnectedAccount {
	t.Helper()
	account := &models.ConnectedAccount{
		UserID:           seller,
		StripeAccountID:  "acct_" + uuid.NewString()[:8],
		ChargesEnabled:   true,
		PayoutsEnabled:   transfersActive,
		DetailsSubmitted: true,
		TransfersActive:  transfersActive,
		RefreshedAt:      time.Now().UTC(),
	}
	if err := conn.Create(account).Error; err != nil {
		t.Fatalf("seed connected account: %v", err)
	}
	return account
}

// Reload fetches a fresh copy of a row by id.
func Reload[T any](t *testing.T, conn *gorm.DB, id uuid.UUID) *T {
	t.Helper()
	var row T
	if err := conn.Where("id = ?", id).First(&row).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	return &row
}

// CountOutbox counts queued events of the given type.
func CountOutbox(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return count
}
