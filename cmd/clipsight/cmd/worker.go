package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/modelservice"
	"github.com/clipsight/clipsight/internal/pipeline"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/queue"
	"github.com/clipsight/clipsight/internal/repository"
	"github.com/clipsight/clipsight/internal/vectorstore"
	"github.com/clipsight/clipsight/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the analysis worker",
	Long: `Run the long-lived analysis worker. The worker reserves jobs from
the queue up to the configured concurrency, executes the analysis
pipeline for each, and acknowledges or retries based on the outcome.

SIGINT or SIGTERM starts a graceful shutdown: reservation stops and
in-flight jobs are drained up to the shutdown timeout.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	store := repository.NewStore(db)

	q, err := queue.New(ctx, cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("connecting to queue: %w", err)
	}

	modelClient := modelservice.New(cfg.ModelService, logger)

	toolkit, err := media.New(cfg.Media, cfg.Worker.TempDir, logger)
	if err != nil {
		return fmt.Errorf("initializing media toolkit: %w", err)
	}

	deps := &core.Dependencies{
		Media:            toolkit,
		Models:           modelClient,
		Store:            store,
		FrameConcurrency: int64(cfg.Worker.FrameConcurrency),
		Logger:           logger,
	}

	if cfg.Vector.URL != "" {
		vs, err := vectorstore.New(ctx, cfg.Vector, logger)
		if err != nil {
			return fmt.Errorf("connecting to vector index: %w", err)
		}
		defer vs.Close()
		deps.Vectors = vs
	}

	engine := pipeline.New(deps)
	w := worker.New(cfg.Worker, cfg.Queue, q, engine, modelClient, toolkit.Sandbox(), logger)

	runErr := w.Run(ctx)

	if err := q.Shutdown(context.Background(), cfg.Worker.ShutdownTimeout); err != nil {
		logger.Error("queue shutdown failed", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
