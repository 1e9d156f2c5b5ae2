package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/developeragencia/conselhoscursor-sub003/config"
	"github.com/developeragencia/conselhoscursor-sub003/internal/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage postgres schema of the message log",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dsn, err := postgresDSN()
				if err != nil {
					return err
				}
				if err := postgres.MigrateUp(dsn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1 step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive number, got %q", args[0])
					}
					steps = n
				}
				dsn, err := postgresDSN()
				if err != nil {
					return err
				}
				if err := postgres.MigrateDown(dsn, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d step(s)\n", steps)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dsn, err := postgresDSN()
				if err != nil {
					return err
				}
				v, dirty, err := postgres.MigrationVersion(dsn)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}

func postgresDSN() (string, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return "", errors.New("postgres.dsn is not configured")
	}
	return cfg.Postgres.DSN, nil
}
