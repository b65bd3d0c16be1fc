package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"taxonomer/internal/apihandlers"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveAddr       string
	serveWithWorker bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Starts the HTTP API: build submission, task status and classification.
Builds run in workers; use --with-worker to process them in this process too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		cfg := appInstance.Config

		addr := cfg.Server.Address
		if serveAddr != "" {
			addr = serveAddr
		}
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var workerSrv *asynq.Server
		if serveWithWorker || cfg.Server.EmbeddedWorker {
			if workerSrv, err = startWorker(appInstance); err != nil {
				return err
			}
		}
		go appInstance.Watcher.Run(ctx)

		router := apihandlers.NewRouter(apihandlers.NewAPIHandler(appInstance))
		server := &http.Server{Addr: addr, Handler: router}

		errCh := make(chan error, 1)
		go func() {
			log.Infof("Starting taxonomer API server on %s", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to run API server: %w", err)
			}
		case <-ctx.Done():
			log.Info("Shutdown signal received, stopping API server...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("API server shutdown: %v", err)
		}
		if workerSrv != nil {
			workerSrv.Shutdown()
		}
		log.Info("taxonomer API server stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, e.g. ':8080' (default from server.address)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Also run the index-build worker in this process")
}
