package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmoralesb/storefront-backend/api/controllers"
	inventorycontrollers "github.com/dmoralesb/storefront-backend/api/controllers/inventory"
	webhookcontrollers "github.com/dmoralesb/storefront-backend/api/controllers/webhooks"
	"github.com/dmoralesb/storefront-backend/api/middleware"
	alertsvc "github.com/dmoralesb/storefront-backend/internal/alerts"
	invsvc "github.com/dmoralesb/storefront-backend/internal/inventory"
	"github.com/dmoralesb/storefront-backend/internal/reservations"
	paymentwebhook "github.com/dmoralesb/storefront-backend/internal/webhooks/payment"
	"github.com/dmoralesb/storefront-backend/pkg/config"
	"github.com/dmoralesb/storefront-backend/pkg/db"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
	"github.com/dmoralesb/storefront-backend/pkg/redis"
)

// Dependencies carries everything the HTTP surface needs. Optional fields
// (redis, webhook wiring, metrics) degrade individual routes, not the router.
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	DBPinger    db.Pinger
	RedisPinger redis.Pinger
	Idempotency redis.IdempotencyStore

	Coordinator  reservations.Coordinator
	Inventory    invsvc.Service
	Alerts       alertsvc.Service
	Webhook      webhookcontrollers.PaymentWebhookService
	WebhookGuard *paymentwebhook.IdempotencyGuard

	Metrics prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Service.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DBPinger, deps.RedisPinger))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.PaymentWebhook(deps.Webhook, cfg.Payment.WebhookSecret, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Idempotency != nil {
			r.Use(middleware.Idempotency(deps.Idempotency, logg))
		}

		r.Route("/cart", func(r chi.Router) {
			r.Post("/reserve", inventorycontrollers.ReserveCart(deps.Coordinator, logg))
			r.Post("/release", inventorycontrollers.ReleaseCart(deps.Coordinator, logg))
		})

		r.Post("/orders/process", inventorycontrollers.ProcessOrder(deps.Coordinator, logg))

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/stock", inventorycontrollers.GetStock(deps.Inventory, logg))
			r.Get("/movements", inventorycontrollers.ListMovements(deps.Inventory, logg))
			r.Post("/movements", inventorycontrollers.RecordMovement(deps.Inventory, logg))
			r.Post("/cleanup", inventorycontrollers.CleanupReservations(deps.Coordinator, logg))
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", inventorycontrollers.ListAlerts(deps.Alerts, logg))
				r.Post("/{alertId}/status", inventorycontrollers.SetAlertStatus(deps.Alerts, logg))
			})
		})
	})

	return r
}
