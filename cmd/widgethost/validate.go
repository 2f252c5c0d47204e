// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/view"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin-dir>...",
		Short: "Validate plugin manifests and view templates",
		Long: `Check that each plugin directory holds a well-formed manifest
and a view template that parses. Nothing is executed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, dir := range args {
		if err := validatePluginDir(dir); err != nil {
			failed++
			cmd.PrintErrf("FAIL %s: %v\n", dir, err)
			continue
		}
		cmd.Printf("ok   %s\n", dir)
	}
	if failed > 0 {
		return oops.Code("VALIDATION_FAILED").Errorf("%d of %d plugins invalid", failed, len(args))
	}
	return nil
}

func validatePluginDir(dir string) error {
	dp, err := plugin.LoadDir(dir)
	if err != nil {
		return err
	}
	src := dp.Manifest.Template
	if dp.Manifest.View != "" {
		data, err := os.ReadFile(filepath.Join(dp.Dir, dp.Manifest.View))
		if err != nil {
			return oops.With("view", dp.Manifest.View).Wrapf(err, "read view")
		}
		src = string(data)
	}
	if _, err := view.Parse(src); err != nil {
		return oops.With("plugin", dp.Manifest.Name).Wrapf(err, "parse view template")
	}
	return nil
}
