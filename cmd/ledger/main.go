package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/invoice-ledger/internal/app"
	"github.com/odyssey-erp/invoice-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/invoice-ledger/internal/audit/http"
	"github.com/odyssey-erp/invoice-ledger/internal/directory"
	"github.com/odyssey-erp/invoice-ledger/internal/dispatch"
	"github.com/odyssey-erp/invoice-ledger/internal/invoicing"
	"github.com/odyssey-erp/invoice-ledger/internal/observability"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/cache"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/db"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
	"github.com/odyssey-erp/invoice-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, read cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	dir := directory.NewRepository(pool)

	invoiceService := invoicing.NewService(invoicing.NewRepository(pool), dir, cfg.Invoicing(), logger,
		invoicing.WithCache(cache.NewVersioned(redisClient, "ledger:invoices", cfg.CacheTTL)),
		invoicing.WithAudit(auditLogger),
		invoicing.WithMetrics(metrics),
	)
	dispatchService := dispatch.NewService(dispatch.NewRepository(pool), dir, logger,
		dispatch.WithCache(cache.NewVersioned(redisClient, "ledger:dispatches", cfg.CacheTTL)),
		dispatch.WithAudit(auditLogger),
		dispatch.WithMetrics(metrics),
		dispatch.WithPrompter(jobClient),
	)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Tokens:          app.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer),
		InvoiceHandler:  invoicing.NewHandler(logger, invoiceService, idempotencyStore),
		DispatchHandler: dispatch.NewHandler(logger, dispatchService, idempotencyStore),
		AuditHandler:    audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		Metrics:         metrics,
		Checks: map[string]app.HealthCheck{
			"postgres": pool.Ping,
			"redis":    redisCheck(redisClient),
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func redisCheck(client *redis.Client) app.HealthCheck {
	return func(ctx context.Context) error {
		if client == nil {
			return redis.ErrClosed
		}
		return client.Ping(ctx).Err()
	}
}
