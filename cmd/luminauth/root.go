// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the LuminAuth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "luminauth",
		Short: "LuminAuth - authentication backend for game-session proxies",
		Long: `LuminAuth is the authentication backend for multiplayer game-session
proxies: account storage over PostgreSQL or MongoDB, premium identity
linking, e-mail verification and lobby/limbo routing pools.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
