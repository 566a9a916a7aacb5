package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/agentkernel/agentkernel/cmd/server/config"
)

var flagMigrationsDir string
var flagMigrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagMigrateDown {
			return rollbackMigration(cfg)
		}
		return runMigrations(cfg)
	},
}

func init() {
	migrateCmd.Flags().StringVar(&flagMigrationsDir, "dir", "migrations", "directory containing migration files")
	migrateCmd.Flags().BoolVar(&flagMigrateDown, "down", false, "roll back the most recent migration instead of applying")
}

func migrator(cfg *config.Config) (*migrate.Migrate, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Database, cfg.Database.SSLMode,
	)
	dir := flagMigrationsDir
	if dir == "" {
		dir = "migrations"
	}
	return migrate.New("file://"+dir, dsn)
}

func runMigrations(cfg *config.Config) error {
	m, err := migrator(cfg)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("✅ Migrations applied")
	return nil
}

func rollbackMigration(cfg *config.Config) error {
	m, err := migrator(cfg)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migration: %w", err)
	}
	fmt.Println("✅ Rolled back one migration")
	return nil
}
