// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/unirate/unirate/internal/auth"
	"github.com/unirate/unirate/internal/auth/cleanup"
	authpg "github.com/unirate/unirate/internal/auth/postgres"
	"github.com/unirate/unirate/internal/config"
	"github.com/unirate/unirate/internal/httpapi"
	"github.com/unirate/unirate/internal/logging"
	"github.com/unirate/unirate/internal/notify"
	"github.com/unirate/unirate/internal/observability"
	"github.com/unirate/unirate/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth HTTP server",
		Long: `Start the HTTP server exposing login, token refresh, logout,
and password reset endpoints, along with the token cleanup worker.`,
		RunE: runServe,
	}

	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("listen-addr", config.DefaultListenAddr, "HTTP listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("reset-base-url", config.DefaultResetBaseURL, "base URL for password reset links")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("unirate", version, cfg.LogFormat)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting auth server",
		"listen_addr", cfg.ListenAddr,
		"log_format", cfg.LogFormat,
	)

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	users := authpg.NewUserRepository(pool)
	refreshTokens := authpg.NewRefreshTokenRepository(pool)
	resetTokens := authpg.NewPasswordResetRepository(pool)

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  []byte(cfg.Secrets.Access),
		RefreshSecret: []byte(cfg.Secrets.Refresh),
		ResetSecret:   []byte(cfg.Secrets.Reset),
	})
	if err != nil {
		return err
	}
	hasher := auth.NewArgon2idHasher()

	sessions, err := auth.NewSessionServiceWithLogger(users, refreshTokens, codec, hasher, logger)
	if err != nil {
		return err
	}

	resets, err := auth.NewPasswordResetService(
		users, resetTokens, codec, hasher,
		notify.NewLogNotifier(logger), cfg.ResetBaseURL, logger,
	)
	if err != nil {
		return err
	}

	// Observability server with readiness tied to database connectivity.
	var obsServer *observability.Server
	var cleanupMetrics *cleanup.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		})
		cleanupMetrics = cleanup.NewMetrics(obsServer.Registry())
	}

	worker, err := cleanup.NewWorker(cleanup.Config{
		Interval:     cfg.Cleanup.Interval,
		StartupDelay: cfg.Cleanup.StartupDelay,
	}, refreshTokens, resetTokens, cleanupMetrics)
	if err != nil {
		return err
	}
	worker.Start(ctx)
	defer worker.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	api := httpapi.NewServer(sessions, resets, worker, logger)
	if obsServer != nil {
		api.UseMetrics(obsServer.Metrics())
	}
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	slog.Info("auth server ready", "addr", cfg.ListenAddr)

	select {
	case err := <-errChan:
		return oops.Code("HTTP_SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		slog.Info("shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping HTTP server", "error", err)
	}

	worker.Stop()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
