package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// Job is a buyer's published request. Bidding jobs and lacquer requests share this table.
type Job struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Kind            enums.JobKind   `gorm:"column:kind;type:text;not null"`
	BuyerID         uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null"`
	BuyerEmail      string          `gorm:"column:buyer_email;not null;default:''"`
	Title           string          `gorm:"column:title;not null"`
	Description     *string         `gorm:"column:description"`
	DeliveryDate    *time.Time      `gorm:"column:delivery_date;type:date"`
	Status          enums.JobStatus `gorm:"column:status;type:text;not null;default:'open'"`
	SelectedOfferID *uuid.UUID      `gorm:"column:selected_offer_id;type:uuid"`
	Published       bool            `gorm:"column:published;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }
