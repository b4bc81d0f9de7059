package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/parcelpeer-backend/internal/agreements"
	"github.com/angelmondragon/parcelpeer-backend/internal/couriers"
	"github.com/angelmondragon/parcelpeer-backend/internal/cron"
	"github.com/angelmondragon/parcelpeer-backend/internal/disputes"
	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/internal/packages"
	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
	"github.com/angelmondragon/parcelpeer-backend/pkg/metrics"
	"github.com/angelmondragon/parcelpeer-backend/pkg/migrate"
	"github.com/angelmondragon/parcelpeer-backend/pkg/outbox"
	"github.com/angelmondragon/parcelpeer-backend/pkg/redis"
	"github.com/angelmondragon/parcelpeer-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, false, logg)
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

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}
	provider, err := escrow.NewSquareProvider(squareClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow provider", err)
		os.Exit(1)
	}

	signer, err := qr.NewSigner(cfg.Escrow.QRSigningSecret)
	if err != nil {
		logg.Error(context.Background(), "failed to create qr signer", err)
		os.Exit(1)
	}
	qrRepo := qr.NewRepository(dbClient.DB())
	tokenService, err := qr.NewService(qr.ServiceParams{
		Repo:   qrRepo,
		Signer: signer,
		TTL:    cfg.Escrow.QRTokenTTL,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create qr service", err)
		os.Exit(1)
	}

	agreementsRepo := agreements.NewRepository(dbClient.DB())
	intentsRepo := escrow.NewIntentRepository(dbClient.DB())

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		Tx:         dbClient,
		Agreements: agreementsRepo,
		Packages:   packages.NewRepository(dbClient.DB()),
		Couriers:   couriers.NewRepository(dbClient.DB()),
		Disputes:   disputes.NewRepository(dbClient.DB()),
		Intents:    intentsRepo,
		Tokens:     tokenService,
		Provider:   provider,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Config:     cfg.Escrow,
		Logger:     logg,
		Metrics:    metrics.NewEscrowMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	autoReleaseJob, err := cron.NewAutoReleaseJob(cron.AutoReleaseJobParams{
		Logger:     logg,
		Agreements: agreementsRepo,
		Escrow:     escrowService,
		Config:     cfg.Escrow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auto-release job", err)
		os.Exit(1)
	}
	reconcileJob, err := cron.NewIntentReconcileJob(cron.IntentReconcileJobParams{
		Logger:  logg,
		Intents: intentsRepo,
		Escrow:  escrowService,
		Config:  cfg.Escrow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create intent reconcile job", err)
		os.Exit(1)
	}
	tokenExpiryJob, err := cron.NewTokenExpiryJob(cron.TokenExpiryJobParams{
		Logger: logg,
		Tokens: qrRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create token expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reconcileJob, autoReleaseJob, tokenExpiryJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
