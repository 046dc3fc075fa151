package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/kabisa/timesync/internal/app"
	"github.com/kabisa/timesync/internal/catalog"
	"github.com/kabisa/timesync/internal/clockify"
	"github.com/kabisa/timesync/internal/observability"
	"github.com/kabisa/timesync/internal/odoo"
	"github.com/kabisa/timesync/internal/platform/db"
	"github.com/kabisa/timesync/internal/recon"
	"github.com/kabisa/timesync/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	session := odoo.NewSession(cfg.OdooURL, cfg.OdooLogin, cfg.OdooPassword, cfg.GatewayTimeout)
	if err := session.Login(ctx); err != nil {
		logger.Error("odoo login", slog.Any("error", err))
		os.Exit(1)
	}
	ledger := odoo.NewClient(session)

	source := clockify.NewClient(clockify.Config{
		BaseURL:     cfg.ClockifyURL,
		APIKey:      cfg.ClockifyKey,
		WorkspaceID: cfg.ClockifyWorkspace,
		ClientID:    cfg.ClockifyClientID,
		UserID:      cfg.ClockifyUser,
		Timeout:     cfg.GatewayTimeout,
	})

	links := recon.NewLinkStore(pool)
	processor := recon.NewProcessor(source, ledger, links, cfg.ClockifyClientID, logger, metrics)
	reconcileJob := recon.NewJob(processor, logger)
	sweepJob := recon.NewSweepJob(recon.NewSweep(source, ledger, logger), logger)
	catalogJob := catalog.NewJob(catalog.NewSyncer(ledger, source, logger), logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTimesheetReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskTimesheetSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskCatalogSync, Handler: catalogJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: jobs.NewTimesheetSweepTask(),
				Options: []asynq.Option{asynq.Queue(jobs.QueueBatch), asynq.MaxRetry(3)}},
			{Spec: cfg.CatalogSyncCron, Task: jobs.NewCatalogSyncTask(),
				Options: []asynq.Option{asynq.Queue(jobs.QueueBatch), asynq.MaxRetry(3)}},
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
