package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/api/routes"
	"github.com/angelmondragon/lackmarkt-backend/internal/checkout"
	"github.com/angelmondragon/lackmarkt-backend/internal/connect"
	"github.com/angelmondragon/lackmarkt-backend/internal/invoices"
	"github.com/angelmondragon/lackmarkt-backend/internal/jobs"
	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/notifications"
	"github.com/angelmondragon/lackmarkt-backend/internal/offers"
	"github.com/angelmondragon/lackmarkt-backend/internal/settlement"
	stripewebhook "github.com/angelmondragon/lackmarkt-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/lackmarkt-backend/pkg/bootstrap"
	"github.com/angelmondragon/lackmarkt-backend/pkg/metrics"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	stripegw "github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	p := bootstrap.Start("api")
	defer p.Close()
	cfg, logg := p.Config, p.Logger

	dbClient := p.Database()
	redisClient := p.Redis()
	gcsClient := p.Storage()
	stripeClient := p.Stripe()

	registry := p.Metrics()
	settlementMetrics := metrics.NewSettlementMetrics(registry)
	gateway, err := stripegw.NewGateway(stripeClient, settlementMetrics)
	p.Check("payment gateway", err)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	recorder := ledger.Recorder{Logger: logg, Metrics: settlementMetrics}

	jobService, err := jobs.NewService(ledgerRepo)
	p.Check("job service", err)
	offerService, err := offers.NewService(offers.ServiceParams{
		Repo:       ledgerRepo,
		Tx:         dbClient,
		Outbox:     outboxService,
		Gateway:    gateway,
		Settlement: cfg.Settlement,
		Recorder:   recorder,
	})
	p.Check("offer service", err)
	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repo:       ledgerRepo,
		Tx:         dbClient,
		Gateway:    gateway,
		Settlement: cfg.Settlement,
		Recorder:   recorder,
		Logger:     logg,
	})
	p.Check("checkout service", err)
	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Repo:    invoices.NewRepository(dbClient.DB()),
		Ledger:  ledgerRepo,
		Numbers: invoices.NewSequenceNumbers(dbClient.DB()),
		Tx:      dbClient,
		Outbox:  outboxService,
		Storage: gcsClient,
		Bucket:  cfg.GCS.BucketName,
		URLTTL:  cfg.GCS.DownloadURLExpiry,
		Invoice: cfg.Invoice,
		Logger:  logg,
	})
	p.Check("invoice service", err)
	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repo:       ledgerRepo,
		Tx:         dbClient,
		Outbox:     outboxService,
		Gateway:    gateway,
		Invoices:   invoiceService,
		Settlement: cfg.Settlement,
		Recorder:   recorder,
		Logger:     logg,
	})
	p.Check("settlement service", err)
	connectService, err := connect.NewService(ledgerRepo, gateway, logg)
	p.Check("connect service", err)
	notificationService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	p.Check("notifications service", err)
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Repo:       ledgerRepo,
		Tx:         dbClient,
		Outbox:     outboxService,
		Refunds:    settlementService,
		Settlement: cfg.Settlement,
		Recorder:   recorder,
		Logger:     logg,
	})
	p.Check("stripe webhook service", err)
	webhookGuard, err := stripewebhook.NewEventGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	p.Check("stripe webhook guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:            dbClient,
			Redis:         redisClient,
			GCS:           gcsClient,
			Jobs:          jobService,
			Offers:        offerService,
			Checkout:      checkoutService,
			Settlement:    settlementService,
			Invoices:      invoiceService,
			Connect:       connectService,
			Notifications: notificationService,
			StripeWebhook: webhookService,
			StripeClient:  stripeClient,
			StripeGuard:   webhookGuard,
			Gatherer:      registry,
			HTTPMetrics:   metrics.NewHTTPMetrics(registry),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := p.Signals()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"addr": server.Addr, "stripe_env": stripeClient.Environment()})
	logg.Info(ctx, "starting api server")

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			p.Fatal("api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}
