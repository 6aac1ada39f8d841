// Package invoices issues exactly one invoice per settled order: an immutable
// row holding the money snapshot plus a PDF artifact in object storage.
package invoices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pdf"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const pdfContentType = "application/pdf"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// objectStore is the slice of the GCS client used for artifacts.
type objectStore interface {
	Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) error
	Exists(ctx context.Context, bucket, object string) (bool, error)
	SignedReadURL(bucket, object string, ttl time.Duration) (string, error)
}

type Service interface {
	EnsureInvoice(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*InvoiceDTO, error)
	DownloadURL(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*DownloadDTO, error)
	EnsureForOrder(ctx context.Context, orderID uuid.UUID) error
}

type ServiceParams struct {
	Repo    Repository
	Ledger  ledger.Repository
	Numbers NumberSource
	Tx      txRunner
	Outbox  outboxPublisher
	Storage objectStore
	Bucket  string
	URLTTL  time.Duration
	Invoice config.InvoiceConfig
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	ledger  ledger.Repository
	numbers NumberSource
	tx      txRunner
	outbox  outboxPublisher
	storage objectStore
	bucket  string
	urlTTL  time.Duration
	issuer  config.InvoiceConfig
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("invoice repository required")
	case params.Ledger == nil:
		return nil, errors.New("ledger repository required")
	case params.Numbers == nil:
		return nil, errors.New("invoice number source required")
	case params.Tx == nil:
		return nil, errors.New("transaction runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case params.Storage == nil:
		return nil, errors.New("object storage required")
	}
	ttl := params.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		numbers: params.Numbers,
		tx:      params.Tx,
		outbox:  params.Outbox,
		storage: params.Storage,
		bucket:  params.Bucket,
		urlTTL:  ttl,
		issuer:  params.Invoice,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

func (s *service) EnsureInvoice(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*InvoiceDTO, error) {
	order, err := s.authorizedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.ensure(ctx, order)
	if err != nil {
		return nil, err
	}
	dto := toDTO(*invoice)
	return &dto, nil
}

// EnsureForOrder issues the invoice after a release. Orders that are not
// billable yet are skipped silently.
func (s *service) EnsureForOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return ledger.LoadError(err, "order")
	}
	if !order.Billable() {
		return nil
	}
	_, err = s.ensure(ctx, order)
	return err
}

// DownloadURL signs a short-lived link to the artifact, re-rendering it first
// when the object is gone.
func (s *service) DownloadURL(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*DownloadDTO, error) {
	order, err := s.authorizedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.ensure(ctx, order)
	if err != nil {
		return nil, err
	}
	exists, err := s.storage.Exists(ctx, s.bucket, invoice.PDFPath)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check invoice artifact")
	}
	if !exists {
		s.warn(ctx, invoice, "invoice artifact missing; regenerating")
		if err := s.upload(ctx, order, invoice); err != nil {
			return nil, err
		}
	}
	signed, err := s.storage.SignedReadURL(s.bucket, invoice.PDFPath, s.urlTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign invoice url")
	}
	return &DownloadDTO{
		InvoiceID: invoice.ID,
		URL:       signed,
		ExpiresAt: s.now().UTC().Add(s.urlTTL),
	}, nil
}

// ensure returns the order's invoice, creating it on first use. The unique
// order index decides concurrent creators; the loser returns the winner's row.
func (s *service) ensure(ctx context.Context, order *models.Order) (*models.Invoice, error) {
	existing, err := s.repo.FindByOrder(ctx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.LoadError(err, "invoice")
	}
	if !order.Billable() {
		return nil, pkgerrors.New(pkgerrors.CodeNotBillable, "order is not billable yet").
			WithDetails(map[string]any{"payout_status": order.PayoutStatus, "fulfillment_status": order.FulfillmentStatus})
	}

	seq, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate invoice number")
	}
	issuedAt := s.now().UTC()
	number := FormatNumber(s.issuer.NumberPrefix, issuedAt, seq)
	invoice := &models.Invoice{
		ID:               uuid.New(),
		OrderID:          order.ID,
		Number:           number,
		SellerID:         order.SellerID,
		BuyerID:          order.BuyerID,
		GrossAmountCents: order.GrossAmountCents,
		PlatformFeeCents: order.PlatformFeeCents,
		NetAmountCents:   order.NetAmountCents(),
		Currency:         order.Currency,
		PDFPath:          objectPath(order.ID, number),
		IssuedAt:         issuedAt,
	}

	errLost := errors.New("invoice already issued")
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, invoice); err != nil {
			if dbpkg.IsUniqueViolation(err, orderIndex) {
				return errLost
			}
			return ledger.WriteError(err, "create invoice")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Data: payloads.InvoiceIssuedEvent{
				InvoiceID:      invoice.ID,
				OrderID:        order.ID,
				Number:         invoice.Number,
				SellerID:       order.SellerID,
				SellerEmail:    order.SellerEmail,
				BuyerEmail:     order.BuyerEmail,
				NetAmountCents: invoice.NetAmountCents,
				Currency:       invoice.Currency.String(),
			},
		})
	})
	if errors.Is(err, errLost) {
		winner, findErr := s.repo.FindByOrder(ctx, order.ID)
		if findErr != nil {
			return nil, ledger.LoadError(findErr, "invoice")
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}

	// the row is the source of truth; a failed upload is repaired on download
	if err := s.upload(ctx, order, invoice); err != nil {
		s.logError(ctx, invoice, "invoice artifact upload failed", err)
	}
	return invoice, nil
}

func (s *service) upload(ctx context.Context, order *models.Order, invoice *models.Invoice) error {
	body, err := pdf.RenderInvoice(s.document(ctx, order, invoice))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render invoice")
	}
	if err := s.storage.Upload(ctx, s.bucket, invoice.PDFPath, pdfContentType, bytes.NewReader(body)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload invoice")
	}
	return nil
}

// document takes number, date and amounts from the stored row, so a re-render
// prints the same figures as the original artifact.
func (s *service) document(ctx context.Context, order *models.Order, invoice *models.Invoice) pdf.InvoiceDocument {
	seller := pdf.Party{Email: order.SellerEmail}
	if account, err := s.ledger.FindConnectedAccount(ctx, order.SellerID); err == nil && account.BusinessName != nil {
		seller.Name = *account.BusinessName
	}
	return pdf.InvoiceDocument{
		Number:           invoice.Number,
		IssuedAt:         invoice.IssuedAt,
		OrderID:          order.ID.String(),
		Title:            order.Title,
		Currency:         invoice.Currency.String(),
		GrossAmountCents: invoice.GrossAmountCents,
		PlatformFeeCents: invoice.PlatformFeeCents,
		NetAmountCents:   invoice.NetAmountCents,
		Platform: pdf.Party{
			Name:    s.issuer.IssuerName,
			Address: s.issuer.IssuerAddress,
			TaxID:   s.issuer.IssuerTaxID,
		},
		Seller: seller,
		Buyer:  pdf.Party{Email: order.BuyerEmail},
	}
}

func (s *service) authorizedOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, ledger.LoadError(err, "order")
	}
	if actor.IsAdmin() || actor.UserID == order.BuyerID || actor.UserID == order.SellerID {
		return order, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the order's parties may access its invoice")
}

func (s *service) warn(ctx context.Context, invoice *models.Invoice, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "invoice_number", invoice.Number), msg)
}

func (s *service) logError(ctx context.Context, invoice *models.Invoice, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithField(ctx, "invoice_number", invoice.Number), fmt.Sprintf("%s (order %s)", msg, invoice.OrderID), err)
}
