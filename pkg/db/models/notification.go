package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// Notification is one inbox entry. (EventID, UserID) is unique, so a
// redelivered settlement event cannot notify the same user twice.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null" json:"userId"`
	EventID   uuid.UUID              `gorm:"column:event_id;type:uuid;not null" json:"eventId"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null" json:"type"`
	Title     string                 `gorm:"column:title;type:text;not null" json:"title"`
	Message   string                 `gorm:"column:message;type:text;not null" json:"message"`
	Link      *string                `gorm:"column:link;type:text" json:"link,omitempty"`
	ReadAt    *time.Time             `gorm:"column:read_at;type:timestamptz" json:"readAt,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;type:timestamptz;default:now()" json:"createdAt"`
}

func (n Notification) Unread() bool { return n.ReadAt == nil }
