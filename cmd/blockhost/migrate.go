// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/blockhost/blockhost/internal/config"
	"github.com/blockhost/blockhost/internal/store"
)

// Migrator applies and inspects schema migrations.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(func(databaseURL string) (Migrator, error) {
		return store.NewMigrator(databaseURL)
	})
}

func newMigrateCmd(factory func(string) (Migrator, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the alias store schema",
		Long: `Apply, roll back and inspect the PostgreSQL migrations of the
extension URL alias store. The database URL comes from --database-url,
the config file, or DATABASE_URL.`,
	}

	withMigrator := func(run func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			databaseURL, err := getDatabaseURL(cfg)
			if err != nil {
				return err
			}
			m, err := factory(databaseURL)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
			}
			defer func() {
				if closeErr := m.Close(); closeErr != nil {
					slog.Warn("error closing migrator", "error", closeErr)
				}
			}()
			return run(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "migrate up").Wrap(err)
			}
			cmd.Println("Migrations applied successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (all, or the given number of steps)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			if len(args) == 0 {
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").Wrap(err)
				}
				cmd.Println("All migrations rolled back")
				return nil
			}
			steps, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			if steps <= 0 {
				return oops.Code("INVALID_VERSION").With("steps", steps).Errorf("steps must be positive")
			}
			if err := m.Steps(-steps); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").With("steps", steps).Wrap(err)
			}
			cmd.Printf("Rolled back %d migration(s)\n", steps)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return printStatus(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "force version").With("version", v).Wrap(err)
			}
			cmd.Printf("Schema version forced to %d\n", v)
			return nil
		}),
	})

	return cmd
}

func printStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read version").Wrap(err)
	}
	applied, err := m.AppliedMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list applied").Wrap(err)
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}

	state := "clean"
	if dirty {
		state = "dirty"
	}
	cmd.Printf("Version: %d (%s)\n", version, state)
	cmd.Printf("Applied: %d\n", len(applied))
	if len(pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	cmd.Printf("Pending: %d\n", len(pending))
	for _, v := range pending {
		name, _ := store.MigrationName(v)
		if name == "" {
			name = strconv.FormatUint(uint64(v), 10)
		}
		cmd.Printf("  %s\n", name)
	}
	return nil
}

// parseVersion parses a migration version or step count.
func parseVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("invalid version %q: must be an integer", s)
	}
	return v, nil
}

func getDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", oops.Code(config.CodeInvalid).Errorf("database URL is required (--database-url, database.url, or DATABASE_URL)")
	}
	return cfg.Database.URL, nil
}

// autoMigrate applies pending migrations before the host opens the store.
func autoMigrate(databaseURL string, factory func(string) (Migrator, error)) error {
	m, err := factory(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	pending, err := m.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}
	if len(pending) == 0 {
		slog.Debug("alias store schema up to date")
		return nil
	}
	slog.Info("applying migrations", "count", len(pending))
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto migrate").Wrap(err)
	}
	return nil
}
