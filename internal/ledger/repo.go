package ledger

import (
	"context"
	"errors"
	"time"

	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Table names used by compare-and-transition callers.
const (
	TableJobs   = "jobs"
	TableOffers = "job_offers"
	TableOrders = "orders"
)

// Repository is the settlement ledger: jobs, offers, orders and the sellers'
// connected accounts. State changes only go through Transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateJob(ctx context.Context, job *models.Job) error
	FindJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	CreateOffer(ctx context.Context, offer *models.JobOffer) error
	FindOffer(ctx context.Context, id uuid.UUID) (*models.JobOffer, error)
	ListActiveOffers(ctx context.Context, jobID uuid.UUID, now time.Time, params pagination.Params) ([]models.JobOffer, string, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderByOffer(ctx context.Context, offerID uuid.UUID) (*models.Order, error)
	FindOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error)
	FindOrderByCharge(ctx context.Context, chargeID string) (*models.Order, error)
	ListReleaseDue(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	ListRefundDue(ctx context.Context, paidBefore time.Time, limit int) ([]models.Order, error)

	FindConnectedAccount(ctx context.Context, userID uuid.UUID) (*models.ConnectedAccount, error)
	FindConnectedAccountByStripeID(ctx context.Context, stripeAccountID string) (*models.ConnectedAccount, error)
	UpsertConnectedAccount(ctx context.Context, account *models.ConnectedAccount) error

	Transition(ctx context.Context, t dbpkg.Transition) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) CreateOffer(ctx context.Context, offer *models.JobOffer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(offer).Error
}

func (r *repository) FindOffer(ctx context.Context, id uuid.UUID) (*models.JobOffer, error) {
	var offer models.JobOffer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&offer).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

// ListActiveOffers lists offers newest first. Expiry is a read filter: open
// and selected offers past valid_until are hidden, paid offers never are.
func (r *repository) ListActiveOffers(ctx context.Context, jobID uuid.UUID, now time.Time, params pagination.Params) ([]models.JobOffer, string, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, "", err
	}

	query := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Where("(status IN ? AND valid_until > ?) OR status = ?",
			dbpkg.Strings(enums.OfferStatusOpen, enums.OfferStatusSelected), now.UTC(), enums.OfferStatusPaid.String())

	var rows []models.JobOffer
	if err := pagination.Seek(query, cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(o models.JobOffer) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return rows, next, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOrder(ctx, "id = ?", id)
}

func (r *repository) FindOrderByOffer(ctx context.Context, offerID uuid.UUID) (*models.Order, error) {
	return r.findOrder(ctx, "offer_id = ?", offerID)
}

func (r *repository) FindOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	return r.findOrder(ctx, "payment_intent_id = ?", paymentIntentID)
}

func (r *repository) FindOrderByCharge(ctx context.Context, chargeID string) (*models.Order, error) {
	return r.findOrder(ctx, "charge_id = ?", chargeID)
}

func (r *repository) findOrder(ctx context.Context, where string, arg any) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where(where, arg).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ListReleaseDue returns held orders whose auto-release time passed, skipping
// disputes and orders claimed for a refund.
func (r *repository) ListReleaseDue(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("payout_status = ?", enums.PayoutHold.String()).
		Where("status IN ?", dbpkg.Strings(releasableStatuses...)).
		Where("auto_release_at IS NOT NULL AND auto_release_at <= ?", now.UTC()).
		Where("dispute_opened_at IS NULL AND fulfillment_status <> ?", enums.FulfillmentDisputed.String()).
		Where("settlement_claim IS NULL OR settlement_claim = ?", enums.ClaimRelease.String()).
		Order("auto_release_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListRefundDue returns paid orders that never reported fulfillment.
func (r *repository) ListRefundDue(ctx context.Context, paidBefore time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("payout_status = ?", enums.PayoutHold.String()).
		Where("status = ?", enums.OrderStatusFundsHeld.String()).
		Where("fulfillment_status = ?", enums.FulfillmentInProgress.String()).
		Where("paid_at IS NOT NULL AND paid_at <= ?", paidBefore.UTC()).
		Where("settlement_claim IS NULL OR settlement_claim = ?", enums.ClaimRefund.String()).
		Order("paid_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

var releasableStatuses = []enums.OrderStatus{enums.OrderStatusFundsHeld, enums.OrderStatusShipped}

func (r *repository) FindConnectedAccount(ctx context.Context, userID uuid.UUID) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindConnectedAccountByStripeID(ctx context.Context, stripeAccountID string) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	if err := r.db.WithContext(ctx).Where("stripe_account_id = ?", stripeAccountID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpsertConnectedAccount(ctx context.Context, account *models.ConnectedAccount) error {
	if account == nil || account.UserID == uuid.Nil {
		return errors.New("connected account user id required")
	}
	if account.RefreshedAt.IsZero() {
		account.RefreshedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_account_id",
			"business_name",
			"charges_enabled",
			"payouts_enabled",
			"details_submitted",
			"transfers_active",
			"refreshed_at",
		}),
	}).Create(account).Error
}

func (r *repository) Transition(ctx context.Context, t dbpkg.Transition) (bool, error) {
	if _, ok := t.Set["updated_at"]; !ok && len(t.Set) > 0 {
		t.Set["updated_at"] = time.Now().UTC()
	}
	return dbpkg.CompareAndTransition(ctx, r.db, t)
}
