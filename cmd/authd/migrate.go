// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/store"
)

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// migratorFactory opens a Migrator. Tests replace it.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back and inspect the embedded PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err //nolint:wrapcheck // coded by store
			}
			cmd.Println("Migrations applied")
			return printVersion(cmd.OutOrStdout(), m)
		}),
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			var err error
			if all {
				err = m.Down()
			} else {
				err = m.Steps(-1)
			}
			if err != nil {
				return err //nolint:wrapcheck // coded by store
			}
			cmd.Println("Rollback complete")
			return printVersion(cmd.OutOrStdout(), m)
		}),
	}
	down.Flags().Bool("all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return printVersion(cmd.OutOrStdout(), m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use this to
recover from a failed migration after fixing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err //nolint:wrapcheck // coded by store
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			status, err := m.Status()
			if err != nil {
				return err //nolint:wrapcheck // coded by store
			}
			return formatStatus(cmd.OutOrStdout(), status)
		}),
	})

	return cmd
}

// withMigrator opens a migrator from the resolved config for the duration
// of fn.
func withMigrator(fn func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store.URL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("database URL is required (set DATABASE_URL or --database-url)")
		}

		m, err := migratorFactory(cfg.Store.URL)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, m, args)
	}
}

// parseForceVersion parses a force target. Parsing stops at the first
// non-digit, so "3abc" is 3.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return v, nil
}

func printVersion(w io.Writer, m Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // coded by store
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	_, err = fmt.Fprintf(w, "Schema version: %d%s\n", v, suffix)
	return err //nolint:wrapcheck // terminal write
}

func formatStatus(w io.Writer, s store.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	name := s.Name
	if name == "" {
		name = "-"
	}
	dirty := "no"
	if s.Dirty {
		dirty = "yes"
	}
	fmt.Fprintf(tw, "VERSION\t%d\n", s.Version)
	fmt.Fprintf(tw, "NAME\t%s\n", name)
	fmt.Fprintf(tw, "DIRTY\t%s\n", dirty)
	if len(s.Pending) == 0 {
		fmt.Fprintf(tw, "PENDING\tnone\n")
	} else {
		pending := make([]string, len(s.Pending))
		for i, v := range s.Pending {
			pending[i] = fmt.Sprintf("%06d", v)
		}
		fmt.Fprintf(tw, "PENDING\t%s\n", strings.Join(pending, ", "))
	}
	return tw.Flush() //nolint:wrapcheck // terminal write
}
