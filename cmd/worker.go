package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"taxonomer/internal/app"
	"taxonomer/internal/worker"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background index-build worker",
	Long:  `Starts the Asynq worker process that runs taxonomy index builds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := startWorker(appInstance)
		if err != nil {
			return err
		}
		// Keep this process's index current for builds finished elsewhere.
		go appInstance.Watcher.Run(ctx)

		<-ctx.Done()
		log.Info("Shutdown signal received. Initiating graceful shutdown...")
		srv.Shutdown()
		log.Info("Worker shutdown complete.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// startWorker starts an asynq server processing index builds with the app's services.
func startWorker(appInstance *app.App) (*asynq.Server, error) {
	cfg := appInstance.Config

	srv := asynq.NewServer(
		appInstance.RedisOpt(),
		asynq.Config{
			Concurrency:  cfg.Worker.Concurrency,
			Queues:       cfg.Worker.Queues,
			ErrorHandler: asynq.ErrorHandlerFunc(worker.ErrorHandler),
			Logger:       log.StandardLogger(),
			BaseContext:  context.Background,
		},
	)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, appInstance.IndexingService)

	log.Infof("Starting Asynq worker server (Concurrency: %d, Queues: %v)...", cfg.Worker.Concurrency, cfg.Worker.Queues)
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start Asynq server: %w", err)
	}
	return srv, nil
}
