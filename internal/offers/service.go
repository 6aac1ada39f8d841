package offers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/lifecycle"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/checkout"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	dbpkg "github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pagination"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxMessageLength = 2000

var activeOfferIndex = dbpkg.Unique{
	Name:    "ux_job_offers_active_supplier",
	Columns: []string{"job_offers.job_id", "job_offers.supplier_id"},
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// intentCanceler voids a pending payment intent before a selection is rolled back.
type intentCanceler interface {
	CancelPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// Service is the offer engine: submission, listing, selection and rollback.
type Service interface {
	SubmitOffer(ctx context.Context, actor auth.Identity, input SubmitOfferInput) (*OfferDTO, error)
	ListOffers(ctx context.Context, actor auth.Identity, jobID uuid.UUID, params pagination.Params) (*OfferList, error)
	SelectOffer(ctx context.Context, actor auth.Identity, jobID, offerID uuid.UUID) (*SelectionResult, error)
	UnselectOffer(ctx context.Context, actor auth.Identity, jobID, offerID uuid.UUID) (*SelectionResult, error)
}

// ServiceParams groups the offer engine dependencies.
type ServiceParams struct {
	Repo       ledger.Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Gateway    intentCanceler
	Settlement config.SettlementConfig
	Recorder   ledger.Recorder
}

type service struct {
	repo     ledger.Repository
	tx       txRunner
	outbox   outboxPublisher
	gateway  intentCanceler
	validity time.Duration
	currency enums.Currency
	recorder ledger.Recorder
	now      func() time.Time
}

// NewService validates dependencies and builds the offer engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	validity := params.Settlement.OfferValidity()
	if validity <= 0 {
		return nil, fmt.Errorf("offer validity must be positive")
	}
	currency, err := enums.ParseCurrency(params.Settlement.Currency)
	if err != nil {
		return nil, err
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		gateway:  params.Gateway,
		validity: validity,
		currency: currency,
		recorder: params.Recorder,
		now:      time.Now,
	}, nil
}

func (s *service) SubmitOffer(ctx context.Context, actor auth.Identity, input SubmitOfferInput) (*OfferDTO, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.JobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}
	if input.ItemAmountCents <= 0 || input.ShippingAmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "item amount must be positive and shipping non-negative")
	}
	total := input.ItemAmountCents + input.ShippingAmountCents
	if total > checkout.MaxAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "offer total exceeds the processor limit")
	}
	if input.Message != nil {
		trimmed := strings.TrimSpace(*input.Message)
		if len(trimmed) > maxMessageLength {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "message too long")
		}
		input.Message = &trimmed
	}

	now := s.now().UTC()
	var created models.JobOffer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		job, err := repo.FindJob(ctx, input.JobID)
		if err != nil {
			return ledger.LoadError(err, "job")
		}
		if job.BuyerID == actor.UserID {
			return pkgerrors.New(pkgerrors.CodeSelfOfferForbidden, "buyers cannot bid on their own job")
		}
		if !job.Status.AcceptsOffers() || !job.Published {
			return pkgerrors.New(pkgerrors.CodeRequestNotOpen, "job is not accepting offers")
		}

		validUntil := ValidUntil(now, s.validity, job.DeliveryDate)
		if !validUntil.After(now) {
			return pkgerrors.New(pkgerrors.CodeValidation, "delivery date is too close to accept offers")
		}

		created = models.JobOffer{
			ID:                  uuid.New(),
			JobID:               job.ID,
			SupplierID:          actor.UserID,
			SupplierEmail:       actor.Email,
			BuyerID:             job.BuyerID,
			ItemAmountCents:     input.ItemAmountCents,
			ShippingAmountCents: input.ShippingAmountCents,
			TotalAmountCents:    total,
			Currency:            s.currency,
			Message:             input.Message,
			Status:              enums.OfferStatusOpen,
			ValidUntil:          validUntil,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := repo.CreateOffer(ctx, &created); err != nil {
			if dbpkg.IsUniqueViolation(err, activeOfferIndex) {
				return pkgerrors.New(pkgerrors.CodeAlreadyOffered, "supplier already has an active offer on this job")
			}
			return ledger.WriteError(err, "create offer")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOfferSubmitted,
			AggregateType: enums.AggregateOffer,
			AggregateID:   created.ID,
			Actor:         actorRef(actor),
			Data: payloads.OfferSubmittedEvent{
				JobID:            job.ID,
				JobTitle:         job.Title,
				OfferID:          created.ID,
				BuyerID:          job.BuyerID,
				BuyerEmail:       job.BuyerEmail,
				SupplierID:       actor.UserID,
				TotalAmountCents: total,
				Currency:         created.Currency.String(),
				ValidUntil:       validUntil,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(created)
	return &dto, nil
}

func (s *service) ListOffers(ctx context.Context, actor auth.Identity, jobID uuid.UUID, params pagination.Params) (*OfferList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, ledger.LoadError(err, "job")
	}
	if job.BuyerID != actor.UserID && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the job owner can list offers")
	}
	rows, next, err := s.repo.ListActiveOffers(ctx, jobID, s.now().UTC(), params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "list offers")
	}
	list := &OfferList{Offers: make([]OfferDTO, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		list.Offers = append(list.Offers, toDTO(row))
	}
	return list, nil
}

func (s *service) SelectOffer(ctx context.Context, actor auth.Identity, jobID, offerID uuid.UUID) (*SelectionResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	now := s.now().UTC()
	var result SelectionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		job, offer, err := loadPair(ctx, repo, jobID, offerID)
		if err != nil {
			return err
		}
		if job.BuyerID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the job owner can select an offer")
		}

		if job.SelectedOfferID != nil && *job.SelectedOfferID == offer.ID && offer.Status == enums.OfferStatusSelected {
			s.recorder.NoOp(ctx, lifecycle.Offers.Entity(), lifecycle.Select.String(), offer.Status.String())
			result = SelectionResult{Job: jobState(*job), Offer: toDTO(*offer)}
			return nil
		}
		if job.SelectedOfferID != nil {
			return pkgerrors.New(pkgerrors.CodeOfferAlreadySelected, "unselect the current offer first")
		}
		if _, err := lifecycle.Jobs.Next(job.Status, lifecycle.Select); err != nil {
			return err
		}
		if _, err := lifecycle.Offers.Next(offer.Status, lifecycle.Select); err != nil {
			return err
		}
		if !offer.ActiveAt(now) {
			return pkgerrors.New(pkgerrors.CodeOfferNotOpen, "offer has expired")
		}

		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOffers,
			ID:          offer.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Offers, lifecycle.Select),
			Set:         map[string]any{"status": enums.OfferStatusSelected.String()},
			Guards:      []dbpkg.Guard{{Expr: "valid_until > ?", Args: []any{now}}},
		})
		if err != nil {
			return ledger.WriteError(err, "select offer")
		}
		if !moved {
			return s.staleOffer(ctx, repo, offer.ID, lifecycle.Select)
		}

		moved, err = repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableJobs,
			ID:          job.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Jobs, lifecycle.Select),
			Set: map[string]any{
				"status":            enums.JobStatusAwaitingPayment.String(),
				"selected_offer_id": offer.ID,
			},
			Guards: []dbpkg.Guard{{Expr: "selected_offer_id IS NULL"}},
		})
		if err != nil {
			return ledger.WriteError(err, "select offer on job")
		}
		if !moved {
			// lost the race against another selection; the offer update rolls back with us
			return pkgerrors.New(pkgerrors.CodeOfferAlreadySelected, "another offer was selected concurrently")
		}

		s.recorder.Applied(ctx, lifecycle.Offers.Entity(), lifecycle.Select.String(), offer.Status.String(), enums.OfferStatusSelected.String())
		s.recorder.Applied(ctx, lifecycle.Jobs.Entity(), lifecycle.Select.String(), job.Status.String(), enums.JobStatusAwaitingPayment.String())

		offer.Status = enums.OfferStatusSelected
		job.Status = enums.JobStatusAwaitingPayment
		job.SelectedOfferID = &offer.ID
		result = SelectionResult{Job: jobState(*job), Offer: toDTO(*offer)}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOfferSelected,
			AggregateType: enums.AggregateOffer,
			AggregateID:   offer.ID,
			Actor:         actorRef(actor),
			Data: payloads.OfferSelectedEvent{
				JobID:            job.ID,
				JobTitle:         job.Title,
				OfferID:          offer.ID,
				BuyerID:          job.BuyerID,
				SupplierID:       offer.SupplierID,
				SupplierEmail:    offer.SupplierEmail,
				TotalAmountCents: offer.TotalAmountCents,
				Currency:         offer.Currency.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UnselectOffer rolls a selection back before payment. Repeating it on an
// already-open pair succeeds without changes.
func (s *service) UnselectOffer(ctx context.Context, actor auth.Identity, jobID, offerID uuid.UUID) (*SelectionResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	job, offer, err := loadPair(ctx, s.repo, jobID, offerID)
	if err != nil {
		return nil, err
	}
	if job.BuyerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the job owner can unselect an offer")
	}
	if offer.PaidAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyPaid, "offer is already paid")
	}
	if res := lifecycle.Offers.Eval(offer.Status, lifecycle.Unselect); res.Err != nil {
		return nil, res.Err
	}
	selected := job.SelectedOfferID != nil && *job.SelectedOfferID == offer.ID
	if offer.Status != enums.OfferStatusSelected && !selected {
		s.recorder.NoOp(ctx, lifecycle.Offers.Entity(), lifecycle.Unselect.String(), offer.Status.String())
		return &SelectionResult{Job: jobState(*job), Offer: toDTO(*offer)}, nil
	}

	// void the pending intent first so the buyer cannot pay for an unselected offer
	if offer.PaymentIntentID != nil && *offer.PaymentIntentID != "" {
		intent, err := s.gateway.CancelPaymentIntent(ctx, *offer.PaymentIntentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payment intent")
		}
		if intent.Settled() {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyPaid, "payment already in progress")
		}
	}

	var result SelectionResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableOffers,
			ID:          offer.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Offers, lifecycle.Unselect),
			Set: map[string]any{
				"status":            enums.OfferStatusOpen.String(),
				"payment_intent_id": nil,
			},
			Guards: []dbpkg.Guard{{Expr: "paid_at IS NULL"}},
		})
		if err != nil {
			return ledger.WriteError(err, "unselect offer")
		}
		if moved {
			s.recorder.Applied(ctx, lifecycle.Offers.Entity(), lifecycle.Unselect.String(), enums.OfferStatusSelected.String(), enums.OfferStatusOpen.String())
		} else if err := s.staleOffer(ctx, repo, offer.ID, lifecycle.Unselect); err != nil {
			return err
		}

		moved, err = repo.Transition(ctx, dbpkg.Transition{
			Table:       ledger.TableJobs,
			ID:          job.ID,
			StateColumn: "status",
			From:        lifecycle.Sources(lifecycle.Jobs, lifecycle.Unselect),
			Set: map[string]any{
				"status":            enums.JobStatusOpen.String(),
				"selected_offer_id": nil,
			},
			Guards: []dbpkg.Guard{{Expr: "selected_offer_id = ?", Args: []any{offer.ID}}},
		})
		if err != nil {
			return ledger.WriteError(err, "unselect offer on job")
		}
		if moved {
			s.recorder.Applied(ctx, lifecycle.Jobs.Entity(), lifecycle.Unselect.String(), job.Status.String(), enums.JobStatusOpen.String())
		}

		freshJob, err := repo.FindJob(ctx, job.ID)
		if err != nil {
			return ledger.LoadError(err, "job")
		}
		if !moved && freshJob.SelectedOfferID != nil && *freshJob.SelectedOfferID == offer.ID {
			if _, err := lifecycle.Jobs.Next(freshJob.Status, lifecycle.Unselect); err != nil {
				return err
			}
		}
		freshOffer, err := repo.FindOffer(ctx, offer.ID)
		if err != nil {
			return ledger.LoadError(err, "offer")
		}
		result = SelectionResult{Job: jobState(*freshJob), Offer: toDTO(*freshOffer)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// staleOffer re-evaluates an offer whose conditional update matched no row.
// It returns nil when the offer already sits where action would put it.
func (s *service) staleOffer(ctx context.Context, repo ledger.Repository, offerID uuid.UUID, action lifecycle.Action) error {
	fresh, err := repo.FindOffer(ctx, offerID)
	if err != nil {
		return ledger.LoadError(err, "offer")
	}
	res := lifecycle.Offers.Eval(fresh.Status, action)
	switch {
	case res.Err != nil:
		s.recorder.Rejected(ctx, lifecycle.Offers.Entity(), action.String(), fresh.Status.String(), res.Err)
		return res.Err
	case fresh.PaidAt != nil:
		return pkgerrors.New(pkgerrors.CodeAlreadyPaid, "offer is already paid")
	case res.Next == fresh.Status:
		s.recorder.NoOp(ctx, lifecycle.Offers.Entity(), action.String(), fresh.Status.String())
		return nil
	}
	// still in a source state, so a guard failed
	if action == lifecycle.Select {
		return pkgerrors.New(pkgerrors.CodeOfferNotOpen, "offer has expired")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "offer changed concurrently")
}

func loadPair(ctx context.Context, repo ledger.Repository, jobID, offerID uuid.UUID) (*models.Job, *models.JobOffer, error) {
	if jobID == uuid.Nil || offerID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "job id and offer id required")
	}
	job, err := repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, nil, ledger.LoadError(err, "job")
	}
	offer, err := repo.FindOffer(ctx, offerID)
	if err != nil {
		return nil, nil, ledger.LoadError(err, "offer")
	}
	if offer.JobID != job.ID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	return job, offer, nil
}

func actorRef(actor auth.Identity) *outbox.Actor {
	return &outbox.Actor{UserID: actor.UserID, Role: string(actor.Role)}
}
