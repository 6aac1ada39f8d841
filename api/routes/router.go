package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/lackmarkt-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/lackmarkt-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/lackmarkt-backend/api/controllers/webhooks"
	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/internal/checkout"
	"github.com/angelmondragon/lackmarkt-backend/internal/connect"
	"github.com/angelmondragon/lackmarkt-backend/internal/invoices"
	"github.com/angelmondragon/lackmarkt-backend/internal/jobs"
	"github.com/angelmondragon/lackmarkt-backend/internal/notifications"
	"github.com/angelmondragon/lackmarkt-backend/internal/offers"
	"github.com/angelmondragon/lackmarkt-backend/internal/settlement"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/health"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/metrics"
)

type redisStore interface {
	middleware.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

type stripeSigner interface {
	SigningSecret() string
}

type stripeGuard interface {
	Once(ctx context.Context, id string, fn func(context.Context) error) (bool, error)
}

// Dependencies carries everything the HTTP surface needs. Nil services answer
// with INTERNAL_ERROR rather than panicking.
type Dependencies struct {
	DB    health.Pinger
	Redis redisStore
	GCS   health.Pinger

	Jobs          jobs.Service
	Offers        offers.Service
	Checkout      checkout.Service
	Settlement    settlement.Service
	Invoices      invoices.Service
	Connect       connect.Service
	Notifications notifications.Service

	StripeWebhook webhookcontrollers.StripeWebhookService
	StripeClient  stripeSigner
	StripeGuard   stripeGuard

	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var idempotencyStore middleware.IdempotencyStore
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
	}
	offerPolicy := middleware.NewRateLimitPolicy(
		"offer-submit",
		cfg.Settlement.OfferRateWindow,
		cfg.Settlement.OfferRateLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readinessChecks(deps), logg))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.Ping("public"))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, deps.StripeGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/ping", controllers.Ping("private"))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", controllers.CreateJob(deps.Jobs, logg))
			r.Route("/{jobId}", func(r chi.Router) {
				r.Get("/", controllers.GetJob(deps.Jobs, logg))
				r.Get("/offers", controllers.ListOffers(deps.Offers, logg))
				r.With(middleware.RateLimit(offerPolicy, deps.Redis, logg)).
					Post("/offers", controllers.SubmitOffer(deps.Offers, logg))
				r.Post("/offers/{offerId}/select", controllers.SelectOffer(deps.Offers, logg))
				r.Post("/offers/{offerId}/unselect", controllers.UnselectOffer(deps.Offers, logg))
				r.Post("/checkout", controllers.CreateCheckout(deps.Checkout, logg))
			})
		})

		r.Post("/shop/checkout", controllers.CreateShopCheckout(deps.Checkout, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", ordercontrollers.Detail(deps.Settlement, logg))
			r.Post("/report", ordercontrollers.Report(deps.Settlement, logg))
			r.Post("/confirm", ordercontrollers.Confirm(deps.Settlement, logg))
			r.Post("/dispute", ordercontrollers.Dispute(deps.Settlement, logg))
			r.Post("/release", ordercontrollers.Release(deps.Settlement, logg))
			r.Post("/refund", ordercontrollers.Refund(deps.Settlement, logg))
			r.Get("/invoice", ordercontrollers.Invoice(deps.Invoices, logg))
			r.Get("/invoice/download", ordercontrollers.InvoiceDownload(deps.Invoices, logg))
		})

		r.Get("/connect/account", controllers.PayoutEligibility(deps.Connect, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin, enums.RoleSystem))
		r.Get("/ping", controllers.Ping("admin"))
	})

	return r
}

func readinessChecks(deps Dependencies) health.Checks {
	checks := health.Checks{}.Add("db", deps.DB).Add("gcs", deps.GCS)
	if deps.Redis != nil {
		checks = checks.Add("redis", deps.Redis)
	}
	return checks
}
