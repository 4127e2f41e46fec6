// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Unirate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unirate",
		Short: "Unirate - authentication and session service",
		Long: `Unirate is the authentication and session service for the
Unirate platform: token issuance, refresh rotation, and password resets.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCleanupCmd())

	return cmd
}
