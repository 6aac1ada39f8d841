package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/lackmarkt-backend/internal/cron"
	"github.com/angelmondragon/lackmarkt-backend/internal/invoices"
	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/settlement"
	"github.com/angelmondragon/lackmarkt-backend/pkg/bootstrap"
	"github.com/angelmondragon/lackmarkt-backend/pkg/instance"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/metrics"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	stripegw "github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	p := bootstrap.Start("cron-worker")
	defer p.Close()
	cfg, logg := p.Config, p.Logger

	dbClient := p.Database()
	redisClient := p.Redis()
	stripeClient := p.Stripe()
	gcsClient := p.Storage()

	registry := p.Metrics()
	cronMetrics := metrics.NewCronMetrics(registry)
	settlementMetrics := metrics.NewSettlementMetrics(registry)
	gateway, err := stripegw.NewGateway(stripeClient, settlementMetrics)
	p.Check("payment gateway", err)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	recorder := ledger.Recorder{Logger: logg, Metrics: settlementMetrics}

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

	sweepParams := cron.SettlementSweepJobParams{
		Logger:     logg,
		Settlement: settlementService,
		Metrics:    settlementMetrics,
	}
	autoRelease, err := cron.NewAutoReleaseJob(sweepParams)
	p.Check("auto release job", err)
	autoRefund, err := cron.NewAutoRefundJob(sweepParams)
	p.Check("auto refund job", err)
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		RetentionDays:    cfg.Outbox.RetentionDays,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	p.Check("outbox retention job", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), instance.ID(), 2*cfg.Cron.Interval)
	p.Check("cron lock", err)

	schedule := cron.NewSchedule(
		cron.Entry{Job: autoRelease},
		cron.Entry{Job: autoRefund},
		cron.Entry{Job: retention, Every: cfg.Cron.RetentionEvery},
	)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Schedule: schedule,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	p.Check("cron service", err)

	ctx, stop := p.Signals()
	defer stop()
	logg.Info(ctx, "starting cron worker")

	if cfg.Cron.MetricsAddr != "" {
		metricsServer := serveMetrics(ctx, cfg.Cron.MetricsAddr, registry, logg)
		p.OnClose("metrics listener", func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.Fatal("cron worker stopped unexpectedly", err)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// serveMetrics exposes the registry on addr until the server is shut down.
func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logg *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "cron metrics listener failed", err)
		}
	}()
	return server
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
