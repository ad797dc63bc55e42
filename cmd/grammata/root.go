// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Grammata CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grammata",
		Short: "Grammata - authentication and session service",
		Long: `Grammata is the authentication backend for the grammar trainer:
credential validation with progressive lockout, rolling sessions with an
absolute ceiling, and single-use password-reset tokens.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())

	return cmd
}
