package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/lackmarkt-backend/pkg/bootstrap"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/registry"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pubsub"
)

func main() {
	p := bootstrap.Start("outbox-publisher")
	defer p.Close()
	cfg, logg := p.Config, p.Logger

	dbClient := p.Database()
	pubsubClient := p.PubSub(pubsub.PublisherNeeds(cfg.PubSub))

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	p.Check("event registry", err)
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   eventRegistry,
	})
	p.Check("outbox publisher", err)

	ctx, stop := p.Signals()
	defer stop()
	logg.Info(logg.WithField(ctx, "event_types", eventRegistry.Types()), "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.Fatal("outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
