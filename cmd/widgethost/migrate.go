// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ufitools/widgethost/internal/config"
	"github.com/ufitools/widgethost/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run storage migrations",
		Long: `Apply pending migrations to the PostgreSQL plugin storage and
report the schema version. Other drivers need no migrations.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		cmd.Printf("Storage driver %s needs no migrations\n", cfg.Storage.Driver)
		return nil
	}

	migrator, err := store.NewMigrator(cfg.Storage.DSN)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() { _ = migrator.Close() }()

	pending, err := migrator.Pending()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}
	cmd.Printf("Running %d pending migrations...\n", len(pending))
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	v, dirty, err := migrator.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read version").Wrap(err)
	}
	cmd.Printf("Migrations completed successfully (version %d, dirty %t)\n", v, dirty)
	return nil
}
