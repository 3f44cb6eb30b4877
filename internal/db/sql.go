// Package db holds the low-level clients for the service's stores: the
// relational database, the Qdrant vector store, and Redis.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the relational backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// OpenSQLite opens (and creates if needed) a SQLite database at path.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// WAL keeps readers unblocked during sync writes; busy_timeout avoids
		// spurious SQLITE_BUSY under concurrent ingestion.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	}

	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writes anyway; a single connection sidesteps
	// table-lock contention between pooled connections.
	database.SetMaxOpenConns(1)

	if path == ":memory:" {
		if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return database, nil
}

// OpenPostgres opens a PostgreSQL database via the pgx stdlib driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	database.SetMaxOpenConns(25)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(30 * time.Minute)

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return database, nil
}
