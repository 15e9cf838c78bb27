package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/psds-microservice/support-chat/internal/config"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "support-chat",
	Short: "Support tickets with a live chat per ticket: backend API and terminal client",
	RunE:  runAPI,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(republishEventsCmd)
	rootCmd.AddCommand(ticketsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig reads .env from the working directory, its parent and the repo
// root when running from bin/.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env")
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.AppEnv == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}
