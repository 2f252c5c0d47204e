// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ufitools/widgethost/internal/telemetry"
)

// NewTelemetryCmd creates the telemetry subcommand.
func NewTelemetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telemetry [path]",
		Short: "Fetch one telemetry sample and print it",
		Long: `Fetch a telemetry sample the way plugins see it and print every
field. Identifier fields are masked unless --mask=false is given.
The path defaults to telemetry.path from the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.Telemetry.Path
			if len(args) == 1 {
				path = args[0]
			}
			fetcher, err := newTelemetry(cfg, telemetry.DefaultCollectors(), nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Telemetry.Timeout+time.Second)
			defer cancel()
			return printSample(ctx, cmd, fetcher, path, telemetry.NewMasker(cfg.Masking.Enabled))
		},
	}
}

func printSample(ctx context.Context, cmd *cobra.Command, f telemetry.Fetcher, path string, masker *telemetry.Masker) error {
	sample, err := f.Fetch(ctx, path)
	if err != nil {
		return oops.Code("TELEMETRY_FAILED").With("path", path).Wrap(err)
	}
	for _, field := range sample.Fields() {
		cmd.Printf("%-18s %s\n", field, masker.Display(sample, field))
	}
	return nil
}
