package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian-ims/internal/app"
	"github.com/meridian-ims/meridian-ims/internal/inventory"
	jobmetrics "github.com/meridian-ims/meridian-ims/internal/jobs"
	"github.com/meridian-ims/meridian-ims/internal/notify"
	"github.com/meridian-ims/meridian-ims/internal/platform/db"
	"github.com/meridian-ims/meridian-ims/internal/procurement"
	"github.com/meridian-ims/meridian-ims/internal/sequence"
	"github.com/meridian-ims/meridian-ims/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	dispatcher := notify.NewDispatcher(pool, logger)
	publisher := notify.NewAsynqPublisher(asynqClient, logger)

	replayEngine := inventory.NewReplayEngine(inventory.NewReplayRepo(pool), logger)
	reconciler := jobs.NewReconciler(replayEngine, metrics, logger)

	gen := sequence.NewGenerator(cfg.SequencePadWidth)
	procurementRepo := procurement.NewRepository(pool, gen, inventory.NewRepository(pool, gen))
	lowStockEngine := inventory.NewLowStockEngine(pool)
	scanner := jobs.NewLowStockScanner(lowStockEngine, procurementRepo, publisher, metrics, logger)

	now := time.Now().UTC()
	reconcileTask, err := jobs.NewLedgerReconcileTask(now)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask(now)
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskTypeDispatch, Handler: dispatcher.HandleDispatch},
			{Type: jobs.TaskLedgerReconcile, Handler: reconciler.Handle},
			{Type: jobs.TaskLowStockScan, Handler: scanner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 6 * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
