package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/parcelpeer-backend/api/routes"
	"github.com/angelmondragon/parcelpeer-backend/internal/agreements"
	"github.com/angelmondragon/parcelpeer-backend/internal/couriers"
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
	tokenService, err := qr.NewService(qr.ServiceParams{
		Repo:   qr.NewRepository(dbClient.DB()),
		Signer: signer,
		TTL:    cfg.Escrow.QRTokenTTL,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create qr service", err)
		os.Exit(1)
	}

	disputesRepo := disputes.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		Tx:         dbClient,
		Agreements: agreements.NewRepository(dbClient.DB()),
		Packages:   packages.NewRepository(dbClient.DB()),
		Couriers:   couriers.NewRepository(dbClient.DB()),
		Disputes:   disputesRepo,
		Intents:    escrow.NewIntentRepository(dbClient.DB()),
		Tokens:     tokenService,
		Provider:   provider,
		Outbox:     outboxService,
		Config:     cfg.Escrow,
		Logger:     logg,
		Metrics:    metrics.NewEscrowMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	disputeService, err := disputes.NewService(disputes.ServiceParams{
		Tx:     dbClient,
		Repo:   disputesRepo,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispute service", err)
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
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, escrowService, disputeService, tokenService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
