package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playground web server",
	Long: `Start the playground HTTP server with REST API and WebSocket support.

The editor is available at the root URL. API endpoints are under /api and
Prometheus metrics under /metrics. The sandbox boots in the background; the
Run button is enabled once it is ready.

Examples:
  playground serve
  playground serve --port 9090 --backend docker`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.session.Initialize(ctx)
	a.logger.Info("booting sandbox", zap.String("backend", cfg.Sandbox.Backend))

	srv := server.New(server.Options{
		Session:      a.session,
		Log:          a.log,
		Orchestrator: a.orch,
		Store:        a.store,
		Metrics:      a.metrics,
		Logger:       a.logger.Named("http"),
		Backend:      cfg.Sandbox.Backend,
		InitialCode:  cfg.Playground.InitialCode,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
