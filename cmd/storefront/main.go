package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/storefront/storefront/internal/app"
	"github.com/storefront/storefront/internal/catalog"
	"github.com/storefront/storefront/internal/checkout"
	"github.com/storefront/storefront/internal/coupons"
	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/inventory"
	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/platform/cache"
	"github.com/storefront/storefront/internal/platform/db"
	"github.com/storefront/storefront/internal/shared"
	"github.com/storefront/storefront/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	verifier, err := identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway)
	if err != nil {
		logger.Error("init token verifier", slog.Any("error", err))
		os.Exit(1)
	}
	auth := identity.Middleware{Verifier: verifier, Logger: logger}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogService := catalog.NewService(
		catalog.NewRepository(pool),
		cache.NewVersioned(redisClient, "catalog", cfg.CacheTTL),
		auditLogger,
		logger,
	)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, metrics, logger, inventory.ServiceConfig{
		LowStockThreshold: cfg.LowStockThreshold,
	})
	couponService := coupons.NewService(coupons.NewRepository(pool), auditLogger, metrics, logger)
	checkoutService := checkout.NewService(checkout.NewRepository(pool), idempotencyStore, metrics, logger, checkout.ServiceConfig{
		Mode: cfg.CheckoutMode(),
	})
	logger.Info("checkout coordinator", slog.String("mode", string(checkoutService.Mode())))

	redisOpts := cfg.QueueRedis()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Identity:         auth,
		Metrics:          metrics,
		CatalogHandler:   catalog.NewHandler(logger, catalogService, auth),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, auth),
		CouponsHandler:   coupons.NewHandler(logger, couponService, auth),
		CheckoutHandler:  checkout.NewHandler(logger, checkoutService, auth),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger, auth),
		Ready: func(r *http.Request) error {
			if err := pool.Ping(r.Context()); err != nil {
				return err
			}
			return redisClient.Ping(r.Context()).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
