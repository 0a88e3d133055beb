// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockhost/blockhost/internal/library"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <library.yaml>...",
		Short: "Validate extension library documents without loading them",
		Long: `Validates library documents against the library JSON Schema and the
entry rules (ids, versions, host requirements, worker configuration).
Does NOT start workers or fetch remote URLs.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch library errors early:
  blockhost validate libraries/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			return runValidate(cmd, paths)
		},
	}
}

func runValidate(cmd *cobra.Command, paths []string) error {
	var failures []string
	for _, path := range paths {
		n, err := validateLibrary(path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("  %s: %s", path, library.FormatSchemaError(err)))
			continue
		}
		cmd.Printf("%s: %d extension(s) ok\n", path, n)
	}

	if len(failures) > 0 {
		for _, f := range failures {
			slog.Error("library validation failed", "detail", f)
		}
		return fmt.Errorf("validation failed: %d of %d libraries invalid", len(failures), len(paths))
	}

	slog.Info("all libraries valid", "count", len(paths))
	return nil
}

func validateLibrary(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	if err := library.ValidateSchema(data); err != nil {
		return 0, err //nolint:wrapcheck // formatted by the caller
	}
	doc, err := library.Parse(data)
	if err != nil {
		return 0, err //nolint:wrapcheck // library errors name the entry
	}
	return len(doc.Extensions), nil
}
