// Package db opens relational connections and applies the engine's schema
// migrations. SQLite is the primary backend; Postgres connections are
// opened the same way but are provisioned externally.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Open opens a database connection for the given driver. For sqlite3 the
// DSN is a file path (or ":memory:") and engine tuning PRAGMAs are applied;
// for postgres it is a connection string.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(driver, dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "driver", driver, "dsn", dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// WAL mode for concurrent reads during writes
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Foreign keys drive the catalog delete cascade; without this
		// pragma SQLite silently ignores ON DELETE CASCADE.
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}

		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"driver", driver,
			"dsn", dsn,
		)
	}

	return db, nil
}

// OpenWithMigrations opens a SQLite database and applies all pending schema
// migrations. Postgres schemas are provisioned externally (DDL scripts are
// a collaborator, not part of the engine), so this helper is SQLite-only.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open("sqlite3", path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
