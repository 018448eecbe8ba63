package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridscrape/coordinator/internal/api"
	"github.com/gridscrape/coordinator/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// serveCommand runs the operational HTTP API.
func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operational HTTP API (health, run progress, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			router := api.NewRouter(a.db, a.detector, a.checkpoints, a.metrics, a.cfg.Server, a.log)
			server := router.NewServer(a.cfg.Debug)

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("api server listening", logger.String("address", a.cfg.Server.Address))
				if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					errCh <- serveErr
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case serveErr := <-errCh:
				return fmt.Errorf("api server: %w", serveErr)
			case <-quit:
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown api server: %w", err)
			}

			a.log.Info("api server stopped")
			return nil
		},
	}
}
