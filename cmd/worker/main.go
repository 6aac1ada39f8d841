package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/lackmarkt-backend/internal/notifications"
	"github.com/angelmondragon/lackmarkt-backend/pkg/bootstrap"
	"github.com/angelmondragon/lackmarkt-backend/pkg/health"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/registry"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pubsub"
	"github.com/angelmondragon/lackmarkt-backend/pkg/sendgrid"
)

func main() {
	p := bootstrap.Start("worker")
	defer p.Close()
	cfg, logg := p.Config, p.Logger

	dbClient := p.Database()
	redisClient := p.Redis()
	pubsubClient := p.PubSub(pubsub.ConsumerNeeds(cfg.PubSub))

	guard, err := idempotency.New(redisClient, notifications.IdempotencyScope, cfg.Eventing.ConsumerIdempotencyTTL)
	p.Check("idempotency guard", err)
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	p.Check("event registry", err)

	params := notifications.ConsumerParams{
		Repo:         notifications.NewRepository(dbClient.DB()),
		Subscription: pubsubClient.NotificationSubscription(),
		Idempotency:  guard,
		Registry:     eventRegistry,
		Logger:       logg,
	}
	if cfg.Sendgrid.APIKey != "" {
		mailer, err := sendgrid.NewClient(cfg.Sendgrid)
		p.Check("sendgrid client", err)
		params.Mailer = mailer
	} else {
		logg.Warn(context.Background(), "sendgrid api key not set, emails disabled")
	}
	consumer, err := notifications.NewConsumer(params)
	p.Check("notification consumer", err)

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: health.Checks{}.
			Add("database", dbClient).
			Add("redis", redisClient).
			Add("pubsub", pubsubClient),
		Consumer: consumer,
	})
	p.Check("worker service", err)

	ctx, stop := p.Signals()
	defer stop()
	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.Fatal("worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
