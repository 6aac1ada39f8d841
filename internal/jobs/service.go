package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/google/uuid"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
)

// Service publishes and reads buyer jobs.
type Service interface {
	CreateJob(ctx context.Context, actor auth.Identity, input CreateJobInput) (*JobDTO, error)
	GetJob(ctx context.Context, actor auth.Identity, jobID uuid.UUID) (*JobDTO, error)
}

type service struct {
	repo ledger.Repository
	now  func() time.Time
}

// NewService wires the job service.
func NewService(repo ledger.Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) CreateJob(ctx context.Context, actor auth.Identity, input CreateJobInput) (*JobDTO, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Kind == "" {
		input.Kind = enums.JobKindBidding
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid job kind")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required and limited to 200 characters")
	}
	if input.Description != nil && len(*input.Description) > maxDescriptionLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description too long")
	}
	if input.DeliveryDate != nil {
		day := truncateDay(*input.DeliveryDate)
		if !day.After(truncateDay(s.now().UTC())) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery date must be in the future")
		}
		input.DeliveryDate = &day
	}

	job := &models.Job{
		ID:           uuid.New(),
		Kind:         input.Kind,
		BuyerID:      actor.UserID,
		BuyerEmail:   actor.Email,
		Title:        title,
		Description:  input.Description,
		DeliveryDate: input.DeliveryDate,
		Status:       enums.JobStatusOpen,
		Published:    true,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, ledger.WriteError(err, "create job")
	}
	dto := ToDTO(*job)
	return &dto, nil
}

func (s *service) GetJob(ctx context.Context, actor auth.Identity, jobID uuid.UUID) (*JobDTO, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, ledger.LoadError(err, "job")
	}
	// unpublished jobs are only visible to their owner
	if !job.Published && job.BuyerID != actor.UserID && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	dto := ToDTO(*job)
	return &dto, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
