package ledger

import (
	"context"

	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/metrics"
)

// Recorder logs and counts transition outcomes. A zero Recorder is silent.
type Recorder struct {
	Logger  *logger.Logger
	Metrics *metrics.SettlementMetrics
}

func (r Recorder) Applied(ctx context.Context, entity, action, from, to string) {
	r.Metrics.IncTransition(entity, action, metrics.OutcomeApplied)
	if r.Logger == nil {
		return
	}
	r.Logger.Info(r.Logger.WithTransition(ctx, entity, action, from, to), "transition applied")
}

func (r Recorder) NoOp(ctx context.Context, entity, action, state string) {
	r.Metrics.IncTransition(entity, action, metrics.OutcomeNoOp)
	if r.Logger == nil {
		return
	}
	logCtx := r.Logger.WithTransition(ctx, entity, action, state, state)
	r.Logger.Info(r.Logger.WithField(logCtx, "noop", true), "transition skipped")
}

func (r Recorder) Rejected(ctx context.Context, entity, action, state string, err error) {
	r.Metrics.IncTransition(entity, action, metrics.OutcomeRejected)
	if r.Logger == nil {
		return
	}
	logCtx := r.Logger.WithTransition(ctx, entity, action, state, "")
	if typed := pkgerrors.As(err); typed != nil {
		logCtx = r.Logger.WithField(logCtx, "code", string(typed.Code()))
	}
	r.Logger.Warn(logCtx, "transition rejected")
}
