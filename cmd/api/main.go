package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/partnerhubhq/partnerhub-backend/api/routes"
	"github.com/partnerhubhq/partnerhub-backend/internal/approvals"
	"github.com/partnerhubhq/partnerhub-backend/internal/consumers"
	"github.com/partnerhubhq/partnerhub-backend/pkg/config"
	"github.com/partnerhubhq/partnerhub-backend/pkg/db"
	"github.com/partnerhubhq/partnerhub-backend/pkg/eventbus"
	"github.com/partnerhubhq/partnerhub-backend/pkg/idempotency"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
	"github.com/partnerhubhq/partnerhub-backend/pkg/migrate"
	"github.com/partnerhubhq/partnerhub-backend/pkg/outbox"
	"github.com/partnerhubhq/partnerhub-backend/pkg/redis"
	"github.com/partnerhubhq/partnerhub-backend/pkg/retry"
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

	bus := eventbus.New(retry.NewExecutor(logg), logg)
	if err := consumers.NewAuditConsumer(logg).Register(bus); err != nil {
		logg.Error(context.Background(), "failed to register audit consumer", err)
		os.Exit(1)
	}
	if err := consumers.NewApprovalNotifier(logg).Register(bus); err != nil {
		logg.Error(context.Background(), "failed to register approval notifier", err)
		os.Exit(1)
	}

	outboxStore := outbox.NewStore(dbClient.DB())
	outboxService := outbox.NewService(outboxStore, logg)
	idempotencyService := idempotency.NewService(idempotency.NewStore(dbClient.DB()), cfg.Idempotency.TTL, logg)

	approvalsService, err := approvals.NewService(approvals.ServiceParams{
		DB:     dbClient,
		Repo:   approvals.NewRepository(dbClient.DB()),
		Outbox: outboxService,
		Store:  outboxStore,
		Bus:    bus,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create approvals service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, approvalsService, idempotencyService, outboxStore),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
