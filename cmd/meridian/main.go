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

	"github.com/meridian-ims/meridian-ims/internal/app"
	"github.com/meridian-ims/meridian-ims/internal/catalog"
	"github.com/meridian-ims/meridian-ims/internal/inventory"
	"github.com/meridian-ims/meridian-ims/internal/notify"
	"github.com/meridian-ims/meridian-ims/internal/observability"
	"github.com/meridian-ims/meridian-ims/internal/platform/cache"
	"github.com/meridian-ims/meridian-ims/internal/platform/db"
	"github.com/meridian-ims/meridian-ims/internal/procurement"
	"github.com/meridian-ims/meridian-ims/internal/sequence"
	"github.com/meridian-ims/meridian-ims/internal/shared"
	"github.com/meridian-ims/meridian-ims/jobs"
)

// reportInvalidator retires cached snapshot reports whenever the ledger moves.
type reportInvalidator struct {
	cache  *cache.Versioned
	logger *slog.Logger
}

func (r reportInvalidator) HandleMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if err := r.cache.Bump(ctx); err != nil {
		r.logger.Warn("bump report cache", slog.String("movement", evt.Number), slog.Any("error", err))
	}
	return nil
}

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
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	reportCache := cache.NewVersioned(redisClient, cfg.ReportCacheTTL)
	if err := reportCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	publisher := notify.NewAsynqPublisher(asynqClient, logger)

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	gen := sequence.NewGenerator(cfg.SequencePadWidth)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	inventoryRepo := inventory.NewRepository(pool, gen)
	inventoryService := inventory.NewService(
		inventoryRepo,
		auditLogger,
		idempotencyStore,
		inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock},
		reportInvalidator{cache: reportCache, logger: logger},
	)
	replayEngine := inventory.NewReplayEngine(inventory.NewReplayRepo(pool), logger)
	lowStockEngine := inventory.NewLowStockEngine(pool)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, replayEngine, lowStockEngine, reportCache)

	procurementRepo := procurement.NewRepository(pool, gen, inventoryRepo)
	procurementService := procurement.NewService(
		procurementRepo,
		inventoryService,
		approvalRecorder,
		auditLogger,
		publisher,
		idempotencyStore,
	)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	notifyStore := notify.NewStore(pool)
	notifyHandler := notify.NewHandler(logger, notifyStore)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		CatalogHandler:     catalogHandler,
		InventoryHandler:   inventoryHandler,
		ProcurementHandler: procurementHandler,
		NotifyHandler:      notifyHandler,
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
