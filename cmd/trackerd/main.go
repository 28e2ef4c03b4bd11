package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaybc/finance-tracker/internal/database"
	"github.com/shaybc/finance-tracker/internal/metrics"
	"github.com/shaybc/finance-tracker/pkg/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "trackerd",
		Short:         "Personal finance statement ingestion daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(logger),
		ingestCmd(logger),
		recategorizeCmd(logger),
		migrateCmd(logger),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// serveCmd runs the daemon: migrations, inbox watcher, rescan scheduler and
// the metrics endpoint, until interrupted.
func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the inbox and import statement files as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := database.Migrate(cfg.Database.DSN()); err != nil {
				return err
			}

			deps, err := NewDependencies(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := os.MkdirAll(cfg.Ingest.InboxDir, 0o755); err != nil {
				return fmt.Errorf("failed to create inbox dir: %w", err)
			}

			if cfg.Observability.MetricsEnabled {
				go serveMetrics(cfg.Observability.MetricsPort, logger)
			}

			deps.Scheduler.Start()
			defer deps.Scheduler.Stop()

			return deps.Watcher.Run(ctx)
		},
	}
}

// ingestCmd imports a single file and exits; handy for backfills and
// debugging a statement the watcher rejected.
func ingestCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Import one statement file and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			deps, err := NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			res, err := deps.Importer.ProcessFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.DuplicateFile {
				logger.Info("file already imported", "job", res.JobID)
				return nil
			}
			logger.Info("import finished",
				"job", res.JobID,
				"source", res.Source,
				"inserted", res.Counts.Inserted,
				"duplicates", res.Counts.Duplicates,
				"failed", res.Counts.Failed,
			)
			return nil
		},
	}
}

// recategorizeCmd reruns the rules over stored transactions.
func recategorizeCmd(logger *slog.Logger) *cobra.Command {
	var txnID string

	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Apply the current rules to uncategorized transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			deps, err := NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			if txnID != "" {
				id, err := uuid.Parse(txnID)
				if err != nil {
					return fmt.Errorf("invalid transaction id: %w", err)
				}
				return deps.Categorization.ApplyToTransaction(cmd.Context(), id)
			}

			n, err := deps.Categorization.ApplyToAllUncategorized(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("recategorization finished", "categorized", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&txnID, "transaction", "", "recategorize a single transaction by id")
	return cmd
}

// migrateCmd applies schema migrations and exits.
func migrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg.Database.DSN()); err != nil {
				return err
			}
			logger.Info("migrations completed")
			return nil
		},
	}
}

func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", "error", err)
	}
}
