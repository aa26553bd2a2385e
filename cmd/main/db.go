package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/markovbaj/markovbaj/pkg/markov"
)

// initDB opens the model database with whichever SQLite driver the binary was
// built with and makes sure the markov schema exists.
func initDB(dataSource string) (*sql.DB, error) {
	if dir := filepath.Dir(dataSource); dir != "." && dataSource != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, dataSource)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}

	if err = markov.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup markov schema: %w", err)
	}
	return db, nil
}
