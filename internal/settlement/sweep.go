package settlement

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/google/uuid"
)

// AutoRelease releases every undisputed order whose auto_release_at passed.
func (s *service) AutoRelease(ctx context.Context) (SweepResult, error) {
	due, err := s.repo.ListReleaseDue(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list release due: %w", err)
	}
	return s.sweep(ctx, "auto_release", due, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.ReleaseFunds(ctx, SystemActor, id)
		return err
	})
}

// AutoRefund refunds held orders whose seller never reported fulfillment.
func (s *service) AutoRefund(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.refundAge)
	due, err := s.repo.ListRefundDue(ctx, cutoff, s.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list refund due: %w", err)
	}
	return s.sweep(ctx, "auto_refund", due, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.Refund(ctx, SystemActor, id)
		return err
	})
}

// sweep applies fn to each order. Domain conflicts mean another path already
// settled or blocked the order and are counted as skipped; everything else is
// collected so one bad order does not stop the batch.
func (s *service) sweep(ctx context.Context, name string, orders []models.Order, fn func(context.Context, uuid.UUID) error) (SweepResult, error) {
	result := SweepResult{Scanned: len(orders)}
	var errs error
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		orderCtx := s.withField(s.logCtx(ctx, order.ID), "sweep", name)
		err := fn(orderCtx, order.ID)
		switch {
		case err == nil:
			result.Applied++
		case isConflict(err):
			result.Skipped++
			s.warn(s.withField(orderCtx, "reason", err.Error()), "sweep skipped order")
		default:
			result.Failed++
			s.logError(orderCtx, "sweep failed for order", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
		}
	}
	return result, errs
}

func isConflict(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && pkgerrors.IsConflict(typed.Code())
}
