package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/config"
	"github.com/stewardhq/steward/db"
	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/logger"
)

// loadConfig resolves configuration honoring the global --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the database, honoring --db over config
func openDatabase(cmd *cobra.Command, cfg *config.Config) (*sql.DB, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = "steward.db"
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	return database, nil
}
