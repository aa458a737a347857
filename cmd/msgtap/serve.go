package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/V4T54L/msgtap/internal/pkg/config"
	"github.com/V4T54L/msgtap/internal/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the message logger and its HTTP API",
	Long: `Starts the in-memory host, the message logger and two HTTP servers: the
API (logs, settings, diagnostics, host calls) and the admin server (/metrics).
Configuration comes from the environment and an optional .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.APIServerAddr = addr
		}
		if addr, _ := cmd.Flags().GetString("admin-addr"); addr != "" {
			cfg.AdminServerAddr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "API listen address (overrides API_SERVER_ADDR)")
	serveCmd.Flags().String("admin-addr", "", "Admin listen address (overrides ADMIN_SERVER_ADDR)")
}

// serve runs both servers until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.run(ctx)

	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: a.admin,
	}
	apiServer := &http.Server{
		Addr:        cfg.APIServerAddr,
		Handler:     a.api,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/logs/stream holds its response open.
	}

	serverErrors := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"admin": adminServer, "api": apiServer} {
		go func() {
			log.Info("starting server", "server", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down servers...")
	case runErr = <-serverErrors:
		log.Error("server failed", "error", runErr)
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		log.Error("message logger shutdown failed", "error", err)
	}

	log.Info("servers shut down gracefully")
	return runErr
}
