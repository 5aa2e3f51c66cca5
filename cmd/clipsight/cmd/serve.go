package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/clipsight/clipsight/internal/http"
	"github.com/clipsight/clipsight/internal/http/handlers"
	"github.com/clipsight/clipsight/internal/modelservice"
	"github.com/clipsight/clipsight/internal/queue"
	"github.com/clipsight/clipsight/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the submitter API server",
	Long: `Run the submitter-facing HTTP API.

The server provides:
- POST   /api/v1/jobs      submit an analysis job
- GET    /api/v1/jobs/{id} scheduling state, progress, and result
- DELETE /api/v1/jobs/{id} cancel a non-terminal job
- GET    /health           dependency and host health
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if flagHost := changedFlag(cmd.Flags(), "host"); flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.New(ctx, cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("connecting to queue: %w", err)
	}
	defer q.Close()

	modelClient := modelservice.New(cfg.ModelService, logger)

	srv := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.NewJobHandler(q, logger).Register(srv.API())
	handlers.NewHealthHandler(version.Version, q, modelClient).Register(srv.API())

	return srv.ListenAndServe(ctx)
}
