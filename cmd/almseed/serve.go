package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	almhttp "github.com/fyrsmithlabs/almseed/internal/http"
)

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.http_host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.http_port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the session-based HTTP API and Prometheus metrics on /metrics.

Clients create a session with POST /api/v1/sessions and address every other
call to /api/v1/sessions/{id}/...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := current.cfg.Server
		if serveHost != "" {
			cfg.Host = serveHost
		}
		if servePort != 0 {
			cfg.Port = servePort
		}
		logger := current.logger.Underlying()

		srv, err := almhttp.NewServer(current.svc, logger, &almhttp.Config{Host: cfg.Host, Port: cfg.Port})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return <-errCh
	},
}
