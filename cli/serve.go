package cli

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
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the replay queue",
		Long: `Serve the REST API under /api and run the background reservation replay
queue. Shuts down gracefully on SIGINT/SIGTERM, waiting up to 30s for
in-flight requests and the running replay.

Examples:
  fulfillment serve
  fulfillment serve --port 3000 --config ./fulfillment.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmdContext(cmd), opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "HTTP port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	app, err := NewApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	port := app.Config.Server.Port
	if opts.Port > 0 {
		port = opts.Port
	}

	queue := api.NewReplayQueue(app.Engine, app.Logger.Named("replay-queue"))
	queue.Interval = app.Config.Replay.Interval
	queue.Start()
	defer queue.Stop()

	handler := api.NewHandler(app.Engine, queue, app.Logger.Named("api"))
	handler.AllowedOrigins = app.Config.Server.CORSOrigins
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		app.Logger.Info("server starting", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	app.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	app.Logger.Info("server stopped")
	return nil
}
