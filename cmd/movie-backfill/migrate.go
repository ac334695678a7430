package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/movie-backfill/internal/database"
	"github.com/Sternrassler/movie-backfill/pkg/logging"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for the movies and links schema. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		Long: `Revert migrations. WARNING: reverting the initial migration drops the movies table.

Examples:
  # Revert the latest migration
  movie-backfill migrate down --num-steps 1 --yes`,
		Args: cobra.NoArgs,
		RunE: runMigrateDown,
	}
	downCmd.Flags().UintP("num-steps", "n", 0, "Number of steps to revert (0 = all)")
	downCmd.Flags().BoolP("yes", "y", false, "Confirm the destructive operation")

	migrateCmd.AddCommand(upCmd, downCmd)
	return migrateCmd
}

func newMigrator(cmd *cobra.Command) (database.Migrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return database.NewFromConnectionString(cfg.Database.URL)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := database.Up(m); err != nil {
		return err
	}

	logMigrationVersion(m)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	if !yes {
		return errors.New("migrate down is destructive; pass --yes to confirm")
	}

	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := database.Down(m, int(steps)); err != nil {
		return err
	}

	logMigrationVersion(m)
	return nil
}

func logMigrationVersion(m database.Migrator) {
	logger := logging.NewLogger(logging.ComponentCLI)

	version, dirty, err := m.Version()
	if err != nil {
		logger.Info().Err(err).Msg("No migration applied")
		return
	}
	if dirty {
		logger.Warn().Uint("version", version).Msg("Schema is dirty, manual intervention may be required")
		return
	}
	logger.Info().Uint("version", version).Msg("Schema migrated")
}
