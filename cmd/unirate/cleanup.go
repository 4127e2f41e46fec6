// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/unirate/unirate/internal/auth/cleanup"
	authpg "github.com/unirate/unirate/internal/auth/postgres"
	"github.com/unirate/unirate/internal/config"
	"github.com/unirate/unirate/internal/store"
)

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired tokens once and exit",
		Long: `Run a single cleanup sweep that deletes expired password reset
tokens and stale refresh tokens, then exit.`,
		RunE: runCleanup,
	}

	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")

	return cmd
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}

	ctx := cmd.Context()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()

	worker, err := cleanup.NewWorker(cleanup.Config{},
		authpg.NewRefreshTokenRepository(pool),
		authpg.NewPasswordResetRepository(pool),
		nil,
	)
	if err != nil {
		return err
	}

	result, err := worker.RunOnce(ctx)
	if err != nil {
		return err
	}

	cmd.Printf("Cleanup completed (reset tokens: %d, refresh tokens: %d)\n",
		result.ResetDeleted, result.RefreshDeleted)
	return nil
}
