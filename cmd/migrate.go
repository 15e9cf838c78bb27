package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/support-chat/internal/config"
	"github.com/psds-microservice/support-chat/internal/database"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations (creates the database if missing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := migrateSetup()
		if err != nil {
			return err
		}
		if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrate up: ok")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := migrateSetup()
		if err != nil {
			return err
		}
		if err := database.MigrateDown(cfg.DatabaseURL(), log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrate down: ok")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := migrateSetup()
		if err != nil {
			return err
		}
		return database.MigrateStatus(cfg.DatabaseURL())
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func migrateSetup() (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
