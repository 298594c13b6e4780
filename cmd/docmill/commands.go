package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfalcone/docmill/internal/api"
	"github.com/mfalcone/docmill/internal/checkpoint"
	"github.com/mfalcone/docmill/internal/config"
	"github.com/mfalcone/docmill/internal/db"
	"github.com/mfalcone/docmill/internal/extract"
	"github.com/mfalcone/docmill/internal/ingest"
	"github.com/mfalcone/docmill/internal/resource"
	"github.com/mfalcone/docmill/internal/scheduler"
)

// setup loads config, applies flag overrides, sizes the pools, and opens
// everything the pipeline needs.
func setup() (*config.Config, *sql.DB, *ingest.Manager, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	if flagInput != "" {
		cfg.InputDir = flagInput
	}
	if flagCheckpoint != "" {
		cfg.CheckpointPath = flagCheckpoint
	}
	if flagWorkers > 0 {
		cfg.Pipeline.Workers = flagWorkers
	}
	if flagWriters > 0 {
		cfg.Pipeline.Writers = flagWriters
	}
	if flagStatusAddr != "" {
		cfg.StatusAddr = flagStatusAddr
	}
	if cfg.InputDir == "" {
		return nil, nil, nil, errors.New("no input directory: set input_dir in config or pass --input")
	}

	if err := setupLogging(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, nil, nil, err
	}

	// Unset worker/writer counts come from declared host capacity.
	plan := resource.Detect()
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = plan.Workers
	}
	if cfg.Pipeline.Writers == 0 {
		cfg.Pipeline.Writers = plan.Writers
	}
	if cfg.Pipeline.WorkerMemLimitMB == 0 {
		cfg.Pipeline.WorkerMemLimitMB = plan.WorkerMemLimitMB
	}

	slog.Info("docmill starting",
		"version", version,
		"input", cfg.InputDir,
		"db", cfg.DBPath,
		"checkpoint", cfg.CheckpointPath,
		"workers", cfg.Pipeline.Workers,
		"writers", cfg.Pipeline.Writers,
		"worker_mem_limit_mb", cfg.Pipeline.WorkerMemLimitMB)

	database, err := db.Open(cfg.DBPath, cfg.Pipeline.Writers)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	if err := ingest.MarkStaleRunsFailed(database); err != nil {
		slog.Warn("mark stale runs", "error", err)
	}

	cp := checkpoint.New(cfg.CheckpointPath, cfg.Pipeline.SaveEvery)
	reg := extract.NewRegistry(cfg.Pipeline.MaxFileSizeMB)

	mgr := ingest.NewManager(database, cp, reg, ingest.Options{
		InputDir:          cfg.InputDir,
		IncludeExts:       cfg.IncludeExts,
		ExcludePaths:      cfg.ExcludePaths,
		Workers:           cfg.Pipeline.Workers,
		Writers:           cfg.Pipeline.Writers,
		WorkerMemLimitMB:  cfg.Pipeline.WorkerMemLimitMB,
		BatchSize:         cfg.Pipeline.BatchSize,
		FlushInterval:     cfg.Pipeline.FlushInterval,
		ExtractTimeout:    cfg.Pipeline.ExtractTimeout,
		MaxRetries:        cfg.Pipeline.MaxRetries,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		ReportInterval:    cfg.Pipeline.ReportInterval,
		ReportDir:         cfg.ReportDir,
	})
	return cfg, database, mgr, nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, database, mgr, err := setup()
	if err != nil {
		return err
	}
	defer database.Close()

	mode := ingest.ModeFresh
	switch {
	case flagRetry:
		mode = ingest.ModeRetryFailed
	case flagResume:
		mode = ingest.ModeResume
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		srv := api.New(cfg.StatusAddr, mgr, version)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("status server", "error", err)
			}
		}()
	}

	summary, err := mgr.Run(ctx, mode)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed; see %s", summary.Failed, summary.Total, summary.ReportPath)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, database, mgr, err := setup()
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Schedule == "" {
		return errors.New("watch mode needs a schedule: set schedule in config (cron expression)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New()
	if err := sched.SetJob(cfg.Schedule, func() {
		slog.Info("scheduled ingest triggered")
		if _, err := mgr.Run(ctx, ingest.ModeResume); err != nil {
			if errors.Is(err, ingest.ErrAlreadyRunning) {
				slog.Warn("previous ingest still running, skipping this slot")
				return
			}
			if !errors.Is(err, context.Canceled) {
				slog.Error("scheduled ingest failed", "error", err)
			}
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if next := sched.NextRunAt(); next != nil {
		slog.Info("watching", "cron", sched.CronExpr(), "next_run", next)
	}

	if cfg.StatusAddr != "" {
		srv := api.New(cfg.StatusAddr, mgr, version)
		if err := srv.Run(ctx); err != nil {
			return err
		}
		return nil
	}

	<-ctx.Done()
	slog.Info("docmill stopped")
	return nil
}
