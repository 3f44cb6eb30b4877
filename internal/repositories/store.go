// Package repositories holds the persistence layer: the relational store
// (collections, documents, chunk metadata, sync jobs, metrics, keyword index)
// and the vector repository backed by Qdrant.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"docsync/internal/db"
	"docsync/internal/models"
	"docsync/internal/txn"
)

// CollectionRepository manages collection rows.
type CollectionRepository interface {
	CreateCollection(ctx context.Context, collection *models.Collection) error
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	GetCollectionByName(ctx context.Context, name string) (*models.Collection, error)
	ListCollections(ctx context.Context, includeDeleted bool, opts models.ListOptions) ([]*models.Collection, int64, error)
	UpdateCollection(ctx context.Context, collection *models.Collection) error
	MarkCollectionDeleted(ctx context.Context, id string) error
	PurgeCollection(ctx context.Context, id string) error
	GetCollectionStats(ctx context.Context, id string) (*models.CollectionStats, error)
}

// DocumentRepository manages document rows.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByKey(ctx context.Context, collectionID, key string) (*models.Document, error)
	ListDocuments(ctx context.Context, filter models.DocumentFilter, opts models.ListOptions) ([]*models.Document, int64, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocumentIDsByCollection(ctx context.Context, collectionID string) ([]string, error)
}

// ChunkRepository manages chunk metadata and the keyword index.
type ChunkRepository interface {
	UpsertChunkMeta(ctx context.Context, meta *models.ChunkMeta) error
	GetChunkMeta(ctx context.Context, pointID string) (*models.ChunkMeta, error)
	GetChunkMetaByPointIDs(ctx context.Context, pointIDs []string) (map[string]*models.ChunkMeta, error)
	ListChunkMetaByDoc(ctx context.Context, docID string) ([]*models.ChunkMeta, error)
	MarkChunkSynced(ctx context.Context, pointID string) error
	MarkChunkFailed(ctx context.Context, pointID, reason string) error
	DeleteChunkMetaByDoc(ctx context.Context, docID string) (int64, error)
	CountChunksByCollection(ctx context.Context, collectionID string) (int64, error)

	UpsertFullText(ctx context.Context, entry *models.FullTextEntry) error
	DeleteFullTextByDoc(ctx context.Context, docID string) error
	KeywordSearch(ctx context.Context, collectionID, query string, limit int) ([]models.KeywordHit, error)
}

// SyncJobRepository manages the durable per-document sync state.
type SyncJobRepository interface {
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	GetSyncJob(ctx context.Context, docID string) (*models.SyncJob, error)
	UpdateSyncJob(ctx context.Context, job *models.SyncJob) error
	DeleteSyncJob(ctx context.Context, docID string) error
	ListSyncJobsByStates(ctx context.Context, states ...models.SyncState) ([]*models.SyncJob, error)
	CountSyncJobsByState(ctx context.Context) (map[models.SyncState]int64, error)
	PruneSyncJobsBefore(ctx context.Context, state models.SyncState, cutoffUnix int64) (int64, error)
}

// MetricsRepository records point-in-time system measurements.
type MetricsRepository interface {
	RecordMetric(ctx context.Context, metric *models.SystemMetric) error
	ListRecentMetrics(ctx context.Context, component string, limit int) ([]*models.SystemMetric, error)
	PruneMetricsBefore(ctx context.Context, cutoffUnix int64) (int64, error)
	RecordHealth(ctx context.Context, health *models.SystemHealth) error
	ListHealth(ctx context.Context) ([]models.SystemHealth, error)
}

// RelationalStore is the full relational persistence surface.
type RelationalStore interface {
	CollectionRepository
	DocumentRepository
	ChunkRepository
	SyncJobRepository
	MetricsRepository

	Ping(ctx context.Context) error
	Close() error
	DB() *sql.DB
}

// StoreError represents errors from the relational store.
type StoreError struct {
	Operation string
	Err       error
	Message   string
}

func (e *StoreError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + ": " + e.Err.Error()
	}
	return e.Operation + ": unknown error"
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new store error.
func NewStoreError(operation string, err error, message string) *StoreError {
	return &StoreError{Operation: operation, Err: err, Message: message}
}

func collectionNotFound(id string) error {
	return models.Errorf(models.ErrNotFound, "collection not found: %s", id)
}

func documentNotFound(id string) error {
	return models.Errorf(models.ErrNotFound, "document not found: %s", id)
}

func syncJobNotFound(docID string) error {
	return models.Errorf(models.ErrNotFound, "sync job not found for document: %s", docID)
}

func chunkMetaNotFound(pointID string) error {
	return models.Errorf(models.ErrNotFound, "chunk not found: %s", pointID)
}

// SQLStore implements RelationalStore on SQLite or PostgreSQL. Methods pick up
// an in-flight transaction from ctx when one exists, so service code composes
// repository calls inside transactions without plumbing executors around.
type SQLStore struct {
	database *sql.DB
	dialect  db.Dialect
	logger   *log.Logger
}

// NewSQLStore wraps an open database, applying pending migrations.
func NewSQLStore(database *sql.DB, dialect db.Dialect, logger *log.Logger) (*SQLStore, error) {
	s := &SQLStore{database: database, dialect: dialect, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		return nil, NewStoreError("migrate", err, "")
	}
	return s, nil
}

// executor returns the ctx transaction's executor, or the pooled database.
func (s *SQLStore) executor(ctx context.Context) txn.Executor {
	return txn.ExecutorFromContext(ctx, s.database)
}

// rebind rewrites ? placeholders into $n for postgres. Queries are written
// once in ? form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != db.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.database.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.database.Close()
}

// DB exposes the raw handle for the transaction manager.
func (s *SQLStore) DB() *sql.DB {
	return s.database
}

var _ RelationalStore = (*SQLStore)(nil)
