package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmoralesb/storefront-backend/api/routes"
	"github.com/dmoralesb/storefront-backend/internal/alerts"
	"github.com/dmoralesb/storefront-backend/internal/catalog"
	"github.com/dmoralesb/storefront-backend/internal/inventory"
	"github.com/dmoralesb/storefront-backend/internal/reservations"
	paymentwebhook "github.com/dmoralesb/storefront-backend/internal/webhooks/payment"
	"github.com/dmoralesb/storefront-backend/pkg/config"
	"github.com/dmoralesb/storefront-backend/pkg/db"
	"github.com/dmoralesb/storefront-backend/pkg/instance"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
	"github.com/dmoralesb/storefront-backend/pkg/metrics"
	"github.com/dmoralesb/storefront-backend/pkg/migrate"
	"github.com/dmoralesb/storefront-backend/pkg/redis"
)

const (
	shutdownTimeout = 15 * time.Second
	webhookDedupTTL = 7 * 24 * time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	reservationMetrics := metrics.NewReservationMetrics(registry)

	alertService, err := alerts.NewService(alerts.ServiceParams{
		Repository: alerts.NewRepository(dbClient.DB()),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create alert service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Tx:         dbClient,
		Repository: inventory.NewRepository(dbClient.DB()),
		Alerts:     alertService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	coordinator, err := reservations.NewCoordinator(reservations.CoordinatorParams{
		Tx:         dbClient,
		Repository: reservations.NewRepository(dbClient.DB()),
		Catalog:    catalog.NewRepository(dbClient.DB()),
		Ledger:     inventoryService,
		Config:     cfg.Reservation,
		Metrics:    reservationMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation coordinator", err)
		os.Exit(1)
	}

	webhookService, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{
		Coordinator: coordinator,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := paymentwebhook.NewIdempotencyGuard(redisClient, webhookDedupTTL, "payment-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Dependencies{
		Config:       cfg,
		Logger:       logg,
		DBPinger:     dbClient,
		RedisPinger:  redisClient,
		Idempotency:  redisClient,
		Coordinator:  coordinator,
		Inventory:    inventoryService,
		Alerts:       alertService,
		Webhook:      webhookService,
		WebhookGuard: webhookGuard,
		Metrics:      registry,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
