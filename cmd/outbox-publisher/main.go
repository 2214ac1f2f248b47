package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/migrate"
	"github.com/selimbenhamida/revend-backend/pkg/outbox"
	"github.com/selimbenhamida/revend-backend/pkg/outbox/registry"
	"github.com/selimbenhamida/revend-backend/pkg/pubsub"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})
	fatal := func(msg string, err error) {
		logg.Error(ctx, msg, err)
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fatal("failed to bootstrap database", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		fatal("failed to run dev migrations", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		fatal("failed to bootstrap pubsub", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		fatal("failed to build event registry", err)
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	})
	if err != nil {
		fatal("failed to create outbox publisher", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
	})
	logg.Info(runCtx, "starting outbox publisher")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "outbox publisher shutting down gracefully")
}
