package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/lackmarkt-backend/pkg/health"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger *logger.Logger
	// Dependencies must all answer before the consumer starts.
	Dependencies health.Checks
	Consumer     consumer
}

// Service runs the notification consumer once its dependencies are reachable.
type Service struct {
	logg     *logger.Logger
	deps     health.Checks
	consumer consumer
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Consumer == nil:
		return nil, errors.New("notification consumer is required")
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, consumer: params.Consumer}, nil
}

// Run blocks on the consumer until ctx is canceled or it fails.
func (s *Service) Run(ctx context.Context) error {
	statuses, err := s.deps.Run(ctx)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "down", health.Down(err)), "worker dependencies unavailable", err)
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "checks", statuses), "worker dependencies ready")

	if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "notification consumer stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return ctx.Err()
}
