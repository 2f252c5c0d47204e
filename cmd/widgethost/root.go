// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/ufitools/widgethost/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the widgethost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "widgethost",
		Short: "widgethost - a sandboxed widget plugin host",
		Long: `widgethost discovers widget plugins, runs them against a
capability-checked host API on a single-threaded loop and renders
their views, opening isolated surfaces for full-screen plugins.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/widgethost/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewTelemetryCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads configuration for cmd, honouring flags set on it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.Options{
		File:    configFile,
		EnvFile: envFile,
		Flags:   cmd.Flags(),
	})
}
