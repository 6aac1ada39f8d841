package invoices

import (
	"context"
	"fmt"

	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var orderIndex = dbpkg.Unique{Name: "ux_invoices_order_id", Columns: []string{"invoices.order_id"}}

// Repository persists invoice rows. Rows are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	Create(ctx context.Context, invoice *models.Invoice) error
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repositoryImpl) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(invoice).Error
}

// NumberSource hands out the running invoice sequence.
type NumberSource interface {
	Next(ctx context.Context) (int64, error)
}

// SequenceNumbers draws numbers from the invoice_number_seq Postgres sequence.
// Numbers consumed by a losing concurrent insert leave gaps.
type SequenceNumbers struct {
	db *gorm.DB
}

func NewSequenceNumbers(db *gorm.DB) *SequenceNumbers {
	return &SequenceNumbers{db: db}
}

func (s *SequenceNumbers) Next(ctx context.Context) (int64, error) {
	var next int64
	if err := s.db.WithContext(ctx).Raw("SELECT nextval('invoice_number_seq')").Scan(&next).Error; err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return next, nil
}
