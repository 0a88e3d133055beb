// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/blockhost/blockhost/internal/config"
	"github.com/blockhost/blockhost/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the blockhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockhost",
		Short: "blockhost - a dynamic extension host for block programs",
		Long: `blockhost loads block extensions into a running block engine.
Extensions are builtins, sandboxed Lua scripts, or out-of-process plugin
binaries, and can be hot-swapped while programs that use them keep running.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/blockhost/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewLoadCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the config file and flag overrides for cmd, validates
// the result and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err //nolint:wrapcheck // config errors carry their own code
	}
	if err := cfg.Validate(); err != nil {
		return nil, err //nolint:wrapcheck // config errors carry their own code
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err //nolint:wrapcheck // validated above
	}
	logging.SetDefault("blockhost", version, cfg.Log.Format, level)
	return cfg, nil
}
