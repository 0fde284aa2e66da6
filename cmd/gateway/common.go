package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mind-engage/certprep/internal/config"
	"github.com/mind-engage/certprep/internal/db"
)

// loadConfig reads the environment and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv()
	if v, _ := cmd.Flags().GetString("db-driver"); v != "" {
		cfg.DBDriver = v
	}
	if v, _ := cmd.Flags().GetString("db-dsn"); v != "" {
		cfg.DBDSN = v
	}
	return cfg
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db open (%s): %w", cfg.DBDriver, err)
	}
	return dbh, nil
}
