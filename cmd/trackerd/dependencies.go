package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaybc/finance-tracker/internal/database"
	"github.com/shaybc/finance-tracker/internal/domain/categorization"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/normalizer"
	ingestrepo "github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/service"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/watcher"
	"github.com/shaybc/finance-tracker/pkg/archive"
	"github.com/shaybc/finance-tracker/pkg/config"
	"github.com/shaybc/finance-tracker/pkg/cron"
	"github.com/shaybc/finance-tracker/pkg/money"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	Categorization *categorization.Service
	Importer       *service.Importer
	Watcher        *watcher.Watcher
	Scheduler      *cron.Scheduler
}

// NewDependencies wires the full pipeline: database, repositories, services,
// watcher and scheduler.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	pool, err := database.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	ingestRepo := ingestrepo.New(pool)
	catRepo := categorization.NewRepository(pool)
	catService := categorization.NewService(catRepo, logger)

	norm := normalizer.New(normalizer.Config{
		DateGapDays:     cfg.Ingest.DateGapDays,
		DefaultCurrency: money.ILS,
	})

	importer := service.NewImporter(
		ingestRepo,
		norm,
		catService,
		archive.New(cfg.Ingest.ArchiveDir),
		logger,
	)

	probe := watcher.Probe{
		Settle:   cfg.Ingest.ProbeSettle,
		Interval: cfg.Ingest.ProbeInterval,
		Timeout:  cfg.Ingest.ProbeTimeout,
	}
	w := watcher.New(cfg.Ingest.InboxDir, probe, importer, logger)

	scheduler, err := cron.New(cfg.Ingest.RescanCron, w, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init rescan scheduler: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return &Dependencies{
		Config:         cfg,
		Logger:         logger,
		Pool:           pool,
		Categorization: catService,
		Importer:       importer,
		Watcher:        w,
		Scheduler:      scheduler,
	}, nil
}

// Close releases held resources.
func (d *Dependencies) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}
