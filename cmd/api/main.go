package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/api/routes"
	"github.com/selimbenhamida/revend-backend/internal/cart"
	"github.com/selimbenhamida/revend-backend/internal/notifications"
	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/internal/payments"
	"github.com/selimbenhamida/revend-backend/internal/ratings"
	"github.com/selimbenhamida/revend-backend/internal/stock"
	stripewebhook "github.com/selimbenhamida/revend-backend/internal/webhooks/stripe"
	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/metrics"
	"github.com/selimbenhamida/revend-backend/pkg/migrate"
	"github.com/selimbenhamida/revend-backend/pkg/outbox"
	"github.com/selimbenhamida/revend-backend/pkg/redis"
	pkgstripe "github.com/selimbenhamida/revend-backend/pkg/stripe"
)

const (
	webhookIdempotencyTTL = 24 * time.Hour
	shutdownGrace         = 15 * time.Second
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

	dbClient, err := openDatabase(context.Background(), cfg, logg)
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	eventsService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	cartRepo := cart.NewRepository(dbClient.DB())
	cartService, err := cart.NewService(cartRepo, dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersService, err := orders.NewService(ordersRepo, cartRepo, dbClient, dbClient.DB(), eventsService, pipelineMetrics, logg, cfg.Checkout)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	intentClient := payments.NewStripeClient(stripeClient)
	paymentsService, err := payments.NewService(ordersService, intentClient, pipelineMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	ratingsService, err := ratings.NewService(ratings.NewRepository(dbClient.DB()), ordersRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ratings service", err)
		os.Exit(1)
	}

	notifyRepo := notifications.NewRepository(dbClient.DB())
	notifyService, err := notifications.NewService(notifyRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}
	dispatcher, err := notifications.NewDispatcher(notifyRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	committer, err := stock.NewCommitter(dbClient, pipelineMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock committer", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:            ordersService,
		Stripe:            intentClient,
		Committer:         committer,
		Dispatcher:        dispatcher,
		TransactionRunner: dbClient,
		Events:            eventsService,
		Metrics:           pipelineMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Stripe:      stripeClient,
			Cart:        cartService,
			Orders:      ordersService,
			Payments:    paymentsService,
			Ratings:     ratingsService,
			Notify:      notifyService,
			Dispatcher:  dispatcher,
			Webhook:     webhookService,
			WebhookIdem: webhookGuard,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}

// openDatabase honors the sqlite dev flag so the whole stack can run without
// a local postgres.
func openDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	if !cfg.Flags.UseSQLite {
		return db.New(ctx, cfg.DB, logg)
	}

	conn, err := gorm.Open(sqlite.Open("revend_dev.db"), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		return nil, err
	}
	logg.Warn(ctx, "using sqlite dev database")
	return db.FromConn(conn, cfg.DB.StatementTO), nil
}
