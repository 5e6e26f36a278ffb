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

	"github.com/freshkb/freshkb/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int
	var allowAllOrigins bool
	var skipBootstrap bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and freshness monitor",
		Long: `Start the freshkb server.

On startup every enabled source is re-fetched and indexed, then the
HTTP API begins serving and the background freshness monitor starts
sweeping sources against their TTLs. Stale sources with auto-refresh
enabled are re-ingested automatically.

Examples:
  freshkb serve
  freshkb serve --port 8080
  freshkb serve --no-bootstrap    # start with an empty index`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), port, allowAllOrigins, skipBootstrap)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default: from config)")
	cmd.Flags().BoolVar(&allowAllOrigins, "allow-all-origins", false, "Allow all CORS origins (dev mode)")
	cmd.Flags().BoolVar(&skipBootstrap, "no-bootstrap", false, "Skip re-ingesting sources on startup")

	return cmd
}

func runServe(ctx context.Context, port int, allowAllOrigins, skipBootstrap bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !skipBootstrap {
		if err := a.bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap index: %w", err)
		}
	}

	go func() {
		if err := a.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("freshness_monitor_stopped", "error", err)
		}
	}()

	srv := server.New(server.Config{Port: port, AllowAll: allowAllOrigins}, a.engine, a.registry, a.coord, a.monitor, a.metrics, a.logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
