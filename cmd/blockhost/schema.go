// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/blockhost/blockhost/internal/library"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or write the library document JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := library.GenerateSchema()
			if err != nil {
				return oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
			}
			if out == "" {
				_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
				return err //nolint:wrapcheck // stdout write
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

	cmd.Flags().StringVarP(&out, "output", "o", "", "write the schema to this file instead of stdout")

	return cmd
}
