// Package settlement drives paid orders through fulfillment and payout:
// report, confirm, dispute, release and refund, plus the timer sweeps.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxDisputeReasonLength = 800

// SystemActor is the identity the sweeps act under.
var SystemActor = auth.Identity{Role: enums.RoleSystem}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type moneyGateway interface {
	CreateTransfer(ctx context.Context, input stripe.TransferInput) (string, error)
	CreateRefund(ctx context.Context, input stripe.RefundInput) (string, error)
}

// InvoiceEnsurer issues the invoice once funds are released. Failures are logged
// and retried lazily on the next invoice read.
type InvoiceEnsurer interface {
	EnsureForOrder(ctx context.Context, orderID uuid.UUID) error
}

// Service is the settlement state machine.
type Service interface {
	GetOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error)
	ReportFulfillment(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error)
	ConfirmFulfillment(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error)
	OpenDispute(ctx context.Context, actor auth.Identity, orderID uuid.UUID, reason string) (*OrderDTO, error)
	ReleaseFunds(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error)
	Refund(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error)
	ApplyExternalRefund(ctx context.Context, chargeID, refundID string) error
	AutoRelease(ctx context.Context) (SweepResult, error)
	AutoRefund(ctx context.Context) (SweepResult, error)
}

// ServiceParams groups settlement dependencies. Invoices is optional.
type ServiceParams struct {
	Repo       ledger.Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Gateway    moneyGateway
	Invoices   InvoiceEnsurer
	Settlement config.SettlementConfig
	Recorder   ledger.Recorder
	Logger     *logger.Logger
}

type service struct {
	repo         ledger.Repository
	tx           txRunner
	outbox       outboxPublisher
	gateway      moneyGateway
	invoices     InvoiceEnsurer
	releaseGrace time.Duration
	refundAge    time.Duration
	batchSize    int
	recorder     ledger.Recorder
	logg         *logger.Logger
	now          func() time.Time
}

// NewService validates dependencies and builds the settlement service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Settlement.AutoReleaseGrace() <= 0 || params.Settlement.AutoRefundAge() <= 0 {
		return nil, fmt.Errorf("settlement timers must be positive")
	}
	batch := params.Settlement.SweepBatchSize
	if batch <= 0 {
		batch = 200
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		outbox:       params.Outbox,
		gateway:      params.Gateway,
		invoices:     params.Invoices,
		releaseGrace: params.Settlement.AutoReleaseGrace(),
		refundAge:    params.Settlement.AutoRefundAge(),
		batchSize:    batch,
		recorder:     params.Recorder,
		logg:         params.Logger,
		now:          time.Now,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(actor, order, partyEither); err != nil {
		return nil, err
	}
	dto := ToDTO(*order)
	return &dto, nil
}

type party int

const (
	partyBuyer party = iota
	partySeller
	partyEither
)

// authorizeParty checks that actor is the required side of the order. Admins
// and the system sweeps may act for either side.
func authorizeParty(actor auth.Identity, order *models.Order, required party) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	isBuyer := order.BuyerID == actor.UserID
	isSeller := order.SellerID == actor.UserID
	switch required {
	case partyBuyer:
		if isBuyer {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can do this")
	case partySeller:
		if isSeller {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can do this")
	default:
		if isBuyer || isSeller {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
	}
}

func (s *service) loadOrder(ctx context.Context, repo ledger.Repository, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, ledger.LoadError(err, "order")
	}
	return order, nil
}

func (s *service) logCtx(ctx context.Context, orderID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithOrderID(ctx, orderID.String())
}

func (s *service) withField(ctx context.Context, key string, value any) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithField(ctx, key, value)
}

func (s *service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
