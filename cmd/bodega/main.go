package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/bodega-erp/bodega-erp/internal/app"
	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/observability"
	"github.com/bodega-erp/bodega-erp/internal/platform/cache"
	"github.com/bodega-erp/bodega-erp/internal/platform/db"
	"github.com/bodega-erp/bodega-erp/internal/pricing"
	"github.com/bodega-erp/bodega-erp/internal/procurement"
	"github.com/bodega-erp/bodega-erp/internal/proration"
	"github.com/bodega-erp/bodega-erp/internal/sales"
	"github.com/bodega-erp/bodega-erp/internal/shared"
	"github.com/bodega-erp/bodega-erp/internal/transfers"
	"github.com/bodega-erp/bodega-erp/jobs"
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
		logger.Warn("redis unavailable, price cache disabled", slog.Any("error", err))
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

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	validate := validator.New()
	metrics := observability.NewMetrics()

	inventoryRepo := inventory.NewRepository(pool)
	registry, err := inventory.LoadRegistry(ctx, inventoryRepo)
	if err != nil {
		logger.Error("load movement types", slog.Any("error", err))
		os.Exit(1)
	}
	engine := inventory.NewEngine(registry)
	inventoryService := inventory.NewService(inventoryRepo, engine, auditLogger, idempotencyStore)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, validate)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(logger, salesRepo, inventoryRepo, engine, auditLogger)
	salesHandler := sales.NewHandler(logger, salesService, validate)

	transfersRepo := transfers.NewRepository(pool)
	transfersService := transfers.NewService(logger, transfersRepo, engine, auditLogger)
	transfersHandler := transfers.NewHandler(logger, transfersService, validate)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(logger, procurementRepo, engine, auditLogger)
	procurementHandler := procurement.NewHandler(logger, procurementService, validate)

	prorationRepo := proration.NewRepository(pool)
	prorationService := proration.NewService(logger, prorationRepo, auditLogger)
	prorationHandler := proration.NewHandler(logger, prorationService, validate)

	priceCache := pricing.NewCache(redisClient, cfg.PriceCacheTTL)
	pricingRepo := pricing.NewRepository(pool)
	pricingService := pricing.NewService(logger, pricingRepo, prorationRepo, priceCache, auditLogger)
	pricingHandler := pricing.NewHandler(logger, pricingService, validate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventoryHandler,
		SalesHandler:       salesHandler,
		TransfersHandler:   transfersHandler,
		ProcurementHandler: procurementHandler,
		ProrationHandler:   prorationHandler,
		PricingHandler:     pricingHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
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
