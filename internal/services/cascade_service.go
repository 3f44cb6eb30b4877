package services

import (
	"context"
	"log"
	"time"

	"docsync/internal/models"
	"docsync/internal/ratelimit"
	"docsync/internal/repositories"
	"docsync/internal/txn"
)

// CascadeService deletes collections and documents across both stores.
// Ordering discipline: vectors first, database second. If the vector delete
// fails, no database row is touched, so every orphaned vector point always has
// a database row explaining it.
type CascadeService struct {
	store       repositories.RelationalStore
	vectors     repositories.VectorRepository
	limiter     *ratelimit.Limiter
	txns        *txn.Manager
	coordinator *IngestCoordinator
	deleteLimit ratelimit.Config
	logger      *log.Logger
}

// NewCascadeService wires the cascade deleter.
func NewCascadeService(
	store repositories.RelationalStore,
	vectors repositories.VectorRepository,
	limiter *ratelimit.Limiter,
	txns *txn.Manager,
	coordinator *IngestCoordinator,
	deleteLimit ratelimit.Config,
	logger *log.Logger,
) *CascadeService {
	return &CascadeService{
		store:       store,
		vectors:     vectors,
		limiter:     limiter,
		txns:        txns,
		coordinator: coordinator,
		deleteLimit: deleteLimit,
		logger:      logger,
	}
}

// DeleteCollection removes a collection, its documents, chunks, keyword
// entries, and vector points. Idempotent: deleting an absent collection
// succeeds.
func (s *CascadeService) DeleteCollection(ctx context.Context, collectionID string) error {
	started := time.Now()

	collection, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		if models.IsNotFound(err) {
			s.logger.Printf("Delete of absent collection %s is a no-op", collectionID)
			return nil
		}
		return err
	}

	// Soft-delete first so the collection stops accepting work and its name
	// stays reserved while the cascade runs.
	if !collection.Deleted {
		if err := s.store.MarkCollectionDeleted(ctx, collectionID); err != nil {
			return err
		}
	}

	docIDs, err := s.store.ListDocumentIDsByCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	for _, docID := range docIDs {
		s.coordinator.CancelPendingRetries(docID)
	}

	// Phase 1: vectors. A failure here halts the cascade before any database
	// row is removed.
	if res := s.limiter.Consume(BucketVectorDelete, 1, s.deleteLimit); !res.Allowed {
		return models.Errorf(models.ErrRateLimited,
			"vector delete rate limited, resets at %s", res.ResetAt.Format(time.RFC3339))
	}
	if err := s.vectors.DeleteByCollection(ctx, collectionID); err != nil {
		return err
	}
	vectorsDone := time.Now()

	// Phase 2: database, under a savepoint so a partial cascade never
	// commits.
	var chunksRemoved int64
	err = s.txns.ExecuteInTransaction(ctx, func(txCtx context.Context) error {
		spID, err := s.txns.CreateSavepoint(txCtx, "delete-collection-"+collectionID, map[string]interface{}{
			"collection_id": collectionID,
			"documents":     len(docIDs),
		})
		if err != nil {
			return err
		}

		for _, docID := range docIDs {
			removed, err := s.deleteDocumentRows(txCtx, docID)
			if err != nil {
				if rbErr := s.txns.RollbackToSavepoint(txCtx, spID); rbErr != nil {
					s.logger.Printf("Rollback to savepoint failed for collection %s: %v", collectionID, rbErr)
				}
				return err
			}
			chunksRemoved += removed
		}
		if err := s.store.PurgeCollection(txCtx, collectionID); err != nil {
			if rbErr := s.txns.RollbackToSavepoint(txCtx, spID); rbErr != nil {
				s.logger.Printf("Rollback to savepoint failed for collection %s: %v", collectionID, rbErr)
			}
			return err
		}
		return s.txns.ReleaseSavepoint(txCtx, spID)
	})
	if err != nil {
		return err
	}

	s.recordDeletionMetrics(ctx, "collection", len(docIDs), chunksRemoved,
		vectorsDone.Sub(started), time.Since(vectorsDone))
	s.logger.Printf("Collection %s deleted: %d documents, %d chunks (vectors %.0fms, db %.0fms)",
		collectionID, len(docIDs), chunksRemoved,
		vectorsDone.Sub(started).Seconds()*1000, time.Since(vectorsDone).Seconds()*1000)
	return nil
}

// DeleteDocument removes one document and its chunks and vector points.
// Same vectors-first ordering, smaller scope. Idempotent.
func (s *CascadeService) DeleteDocument(ctx context.Context, docID string) error {
	started := time.Now()

	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		if models.IsNotFound(err) {
			s.logger.Printf("Delete of absent document %s is a no-op", docID)
			return nil
		}
		return err
	}

	s.coordinator.CancelPendingRetries(docID)

	if res := s.limiter.Consume(BucketVectorDelete, 1, s.deleteLimit); !res.Allowed {
		return models.Errorf(models.ErrRateLimited,
			"vector delete rate limited, resets at %s", res.ResetAt.Format(time.RFC3339))
	}
	if err := s.vectors.DeleteByDocument(ctx, docID); err != nil {
		return err
	}
	vectorsDone := time.Now()

	var chunksRemoved int64
	err := s.txns.ExecuteInTransaction(ctx, func(txCtx context.Context) error {
		removed, err := s.deleteDocumentRows(txCtx, docID)
		chunksRemoved = removed
		return err
	})
	if err != nil {
		return err
	}

	s.recordDeletionMetrics(ctx, "document", 1, chunksRemoved,
		vectorsDone.Sub(started), time.Since(vectorsDone))
	s.logger.Printf("Document %s deleted: %d chunks", docID, chunksRemoved)
	return nil
}

// deleteDocumentRows removes a document's relational footprint inside the
// caller's transaction. The sync job and chunk metadata cascade off the
// document row; the keyword index is cleaned explicitly.
func (s *CascadeService) deleteDocumentRows(ctx context.Context, docID string) (int64, error) {
	if err := s.store.DeleteFullTextByDoc(ctx, docID); err != nil {
		return 0, err
	}
	removed, err := s.store.DeleteChunkMetaByDoc(ctx, docID)
	if err != nil {
		return 0, err
	}
	if err := s.store.DeleteDocument(ctx, docID); err != nil && !models.IsNotFound(err) {
		return removed, err
	}
	s.txns.RecordOperation(ctx, "delete_document", map[string]interface{}{
		"doc_id": docID, "chunks": removed,
	})
	return removed, nil
}

func (s *CascadeService) recordDeletionMetrics(ctx context.Context, scope string, docs int, chunks int64, vectorPhase, dbPhase time.Duration) {
	metrics := []models.SystemMetric{
		{Component: "cascade", Name: scope + "_docs_deleted", Value: float64(docs)},
		{Component: "cascade", Name: scope + "_chunks_deleted", Value: float64(chunks)},
		{Component: "cascade", Name: scope + "_vector_phase_ms", Value: vectorPhase.Seconds() * 1000},
		{Component: "cascade", Name: scope + "_db_phase_ms", Value: dbPhase.Seconds() * 1000},
	}
	for i := range metrics {
		if err := s.store.RecordMetric(ctx, &metrics[i]); err != nil {
			s.logger.Printf("Failed to record deletion metric: %v", err)
			return
		}
	}
}
