package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/aadnode/internal/core/config"
	"github.com/solatis/aadnode/internal/core/db"
	"github.com/solatis/aadnode/internal/core/nvs"
)

const latestMigration = "002_partitions.sql"

// openDatabase opens the configured database, creating the directory of a
// SQLite file first.
func openDatabase() (*sqlx.DB, error) {
	dsn := config.DatabaseURL(dbURL)
	if u, err := url.Parse(dsn); err == nil && u.Scheme == "sqlite" {
		if dir := filepath.Dir(u.Host + u.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
	}
	database, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// openStore opens the database and refuses to run against an unmigrated schema.
func openStore() (*sqlx.DB, *db.Queries, *nvs.Store, error) {
	database, err := openDatabase()
	if err != nil {
		return nil, nil, nil, err
	}

	applied, err := db.Applied(database, latestMigration)
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	if !applied {
		database.Close()
		return nil, nil, nil, fmt.Errorf("migration %s not applied - run 'aadnode migrate' first", latestMigration)
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nvs.New(queries), nil
}
