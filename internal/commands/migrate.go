package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stock-sync/internal/database"
	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/logger"
)

// migrateCmd applies the idempotent schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Apply the database schema. Every statement is idempotent, so
running migrate against an existing database is safe.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	defer mysqlClient.Close()

	if err := mysqlClient.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("Schema is up to date")
	return nil
}
