// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ufitools/widgethost/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin.yaml JSON Schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return oops.Code("SCHEMA_FAILED").Wrapf(err, "generate schema")
			}
			if out == "" {
				cmd.Println(string(schema))
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return oops.With("path", out).Wrapf(err, "create directory")
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return oops.With("path", out).Wrapf(err, "write schema")
			}
			cmd.Printf("Generated %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to this file instead of stdout")
	return cmd
}
