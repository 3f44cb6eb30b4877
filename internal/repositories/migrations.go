package repositories

import (
	"context"
	"fmt"

	"docsync/internal/db"
)

// migration is one schema step. Statements are dialect-keyed because SQLite
// and PostgreSQL disagree on types, serials, and full-text indexing.
type migration struct {
	version    int
	name       string
	statements map[db.Dialect][]string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_collections",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {`
				CREATE TABLE IF NOT EXISTS collections (
					id          TEXT PRIMARY KEY,
					name        TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					deleted     INTEGER NOT NULL DEFAULT 0,
					created_at  TIMESTAMP NOT NULL,
					updated_at  TIMESTAMP NOT NULL
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_name ON collections (lower(name))`,
			},
			db.DialectPostgres: {`
				CREATE TABLE IF NOT EXISTS collections (
					id          TEXT PRIMARY KEY,
					name        TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					deleted     BOOLEAN NOT NULL DEFAULT FALSE,
					created_at  TIMESTAMPTZ NOT NULL,
					updated_at  TIMESTAMPTZ NOT NULL
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_name ON collections (lower(name))`,
			},
		},
	},
	{
		version: 2,
		name:    "create_documents",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {`
				CREATE TABLE IF NOT EXISTS documents (
					id            TEXT PRIMARY KEY,
					collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
					doc_key       TEXT NOT NULL,
					name          TEXT NOT NULL,
					mime          TEXT NOT NULL DEFAULT '',
					size_bytes    INTEGER NOT NULL DEFAULT 0,
					content_hash  TEXT NOT NULL,
					content       TEXT NOT NULL,
					status        TEXT NOT NULL,
					created_at    TIMESTAMP NOT NULL,
					updated_at    TIMESTAMP NOT NULL,
					UNIQUE (collection_id, doc_key)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection_id)`,
				`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
			},
			db.DialectPostgres: {`
				CREATE TABLE IF NOT EXISTS documents (
					id            TEXT PRIMARY KEY,
					collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
					doc_key       TEXT NOT NULL,
					name          TEXT NOT NULL,
					mime          TEXT NOT NULL DEFAULT '',
					size_bytes    BIGINT NOT NULL DEFAULT 0,
					content_hash  TEXT NOT NULL,
					content       TEXT NOT NULL,
					status        TEXT NOT NULL,
					created_at    TIMESTAMPTZ NOT NULL,
					updated_at    TIMESTAMPTZ NOT NULL,
					UNIQUE (collection_id, doc_key)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection_id)`,
				`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
			},
		},
	},
	{
		version: 3,
		name:    "create_chunk_meta",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {`
				CREATE TABLE IF NOT EXISTS chunk_meta (
					point_id      TEXT PRIMARY KEY,
					doc_id        TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					collection_id TEXT NOT NULL,
					chunk_index   INTEGER NOT NULL,
					title_chain   TEXT NOT NULL DEFAULT '',
					content       TEXT NOT NULL,
					content_hash  TEXT NOT NULL,
					status        TEXT NOT NULL,
					synced_at     TIMESTAMP,
					error         TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX IF NOT EXISTS idx_chunk_meta_doc ON chunk_meta (doc_id)`,
				`CREATE INDEX IF NOT EXISTS idx_chunk_meta_collection ON chunk_meta (collection_id)`,
			},
			db.DialectPostgres: {`
				CREATE TABLE IF NOT EXISTS chunk_meta (
					point_id      TEXT PRIMARY KEY,
					doc_id        TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					collection_id TEXT NOT NULL,
					chunk_index   INTEGER NOT NULL,
					title_chain   TEXT NOT NULL DEFAULT '',
					content       TEXT NOT NULL,
					content_hash  TEXT NOT NULL,
					status        TEXT NOT NULL,
					synced_at     TIMESTAMPTZ,
					error         TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX IF NOT EXISTS idx_chunk_meta_doc ON chunk_meta (doc_id)`,
				`CREATE INDEX IF NOT EXISTS idx_chunk_meta_collection ON chunk_meta (collection_id)`,
			},
		},
	},
	{
		version: 4,
		name:    "create_sync_jobs",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {`
				CREATE TABLE IF NOT EXISTS sync_jobs (
					doc_id         TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
					status         TEXT NOT NULL,
					attempts       INTEGER NOT NULL DEFAULT 0,
					last_error     TEXT NOT NULL DEFAULT '',
					error_category TEXT NOT NULL DEFAULT '',
					prior_state    TEXT NOT NULL DEFAULT '',
					created_at     TIMESTAMP NOT NULL,
					updated_at     TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs (status)`,
			},
			db.DialectPostgres: {`
				CREATE TABLE IF NOT EXISTS sync_jobs (
					doc_id         TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
					status         TEXT NOT NULL,
					attempts       INTEGER NOT NULL DEFAULT 0,
					last_error     TEXT NOT NULL DEFAULT '',
					error_category TEXT NOT NULL DEFAULT '',
					prior_state    TEXT NOT NULL DEFAULT '',
					created_at     TIMESTAMPTZ NOT NULL,
					updated_at     TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs (status)`,
			},
		},
	},
	{
		version: 5,
		name:    "create_fulltext_index",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {
				`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
					point_id UNINDEXED,
					collection_id UNINDEXED,
					doc_id UNINDEXED,
					title_chain,
					content
				)`,
			},
			db.DialectPostgres: {
				`CREATE TABLE IF NOT EXISTS chunk_fts (
					point_id      TEXT PRIMARY KEY,
					collection_id TEXT NOT NULL,
					doc_id        TEXT NOT NULL,
					title_chain   TEXT NOT NULL DEFAULT '',
					content       TEXT NOT NULL,
					tsv           TSVECTOR GENERATED ALWAYS AS (
						to_tsvector('simple', coalesce(title_chain, '') || ' ' || content)
					) STORED
				)`,
				`CREATE INDEX IF NOT EXISTS idx_chunk_fts_tsv ON chunk_fts USING GIN (tsv)`,
				`CREATE INDEX IF NOT EXISTS idx_chunk_fts_doc ON chunk_fts (doc_id)`,
			},
		},
	},
	{
		version: 6,
		name:    "create_system_metrics",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {`
				CREATE TABLE IF NOT EXISTS system_metrics (
					id          INTEGER PRIMARY KEY AUTOINCREMENT,
					component   TEXT NOT NULL,
					name        TEXT NOT NULL,
					value       REAL NOT NULL,
					recorded_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_system_metrics_component ON system_metrics (component, recorded_at)`,
			},
			db.DialectPostgres: {`
				CREATE TABLE IF NOT EXISTS system_metrics (
					id          BIGSERIAL PRIMARY KEY,
					component   TEXT NOT NULL,
					name        TEXT NOT NULL,
					value       DOUBLE PRECISION NOT NULL,
					recorded_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_system_metrics_component ON system_metrics (component, recorded_at)`,
			},
		},
	},
	{
		version: 7,
		name:    "create_system_health",
		statements: map[db.Dialect][]string{
			db.DialectSQLite: {`
				CREATE TABLE IF NOT EXISTS system_health (
					component  TEXT PRIMARY KEY,
					healthy    INTEGER NOT NULL,
					detail     TEXT NOT NULL DEFAULT '',
					checked_at TIMESTAMP NOT NULL
				)`,
			},
			db.DialectPostgres: {`
				CREATE TABLE IF NOT EXISTS system_health (
					component  TEXT PRIMARY KEY,
					healthy    BOOLEAN NOT NULL,
					detail     TEXT NOT NULL DEFAULT '',
					checked_at TIMESTAMPTZ NOT NULL
				)`,
			},
		},
	},
}

// migrate applies pending migrations in order, each inside its own
// transaction, and records applied versions in schema_migrations.
func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := s.database.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		statements, ok := m.statements[s.dialect]
		if !ok {
			return fmt.Errorf("migration %d has no statements for dialect %s", m.version, s.dialect)
		}

		tx, err := s.database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`),
			m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		s.logger.Printf("Applied migration %d: %s", m.version, m.name)
	}
	return nil
}
