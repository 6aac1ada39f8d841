package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pagination"
)

// Repository stores in-app notifications.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, q listQuery) ([]models.Notification, string, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

type listQuery struct {
	UserID     uuid.UUID
	Limit      int
	After      *pagination.Cursor
	UnreadOnly bool
	Type       enums.NotificationType
}

type markOutcome int

const (
	markMissing markOutcome = iota
	markAlreadyRead
	markUpdated
)

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Create is a no-op when the same event already notified the user.
func (r *gormRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(n).Error
}

func (r *gormRepository) List(ctx context.Context, q listQuery) ([]models.Notification, string, error) {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", q.UserID)
	if q.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}

	var rows []models.Notification
	if err := pagination.Seek(query, q.After, q.Limit).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, q.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return rows, next, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
	var outcome markOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Notification
		err := tx.Select("id", "read_at").
			Where("id = ? AND user_id = ?", notificationID, userID).
			Take(&n).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			outcome = markMissing
			return nil
		case err != nil:
			return err
		case !n.Unread():
			outcome = markAlreadyRead
			return nil
		}
		outcome = markUpdated
		return tx.Model(&models.Notification{}).
			Where("id = ? AND read_at IS NULL", notificationID).
			UpdateColumn("read_at", now).Error
	})
	return outcome, err
}

func (r *gormRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}
