package services

import (
	"context"
	"log"

	"docsync/internal/models"
	"docsync/internal/repositories"
)

// DocumentService manages the document lifecycle. Documents are
// content-addressed: ingesting changed content under an existing key deletes
// the old document and mints a new one; metadata-only updates keep the id.
type DocumentService struct {
	store       repositories.RelationalStore
	machine     *SyncStateMachine
	coordinator *IngestCoordinator
	cascade     *CascadeService
	logger      *log.Logger
}

// NewDocumentService creates the document service.
func NewDocumentService(
	store repositories.RelationalStore,
	machine *SyncStateMachine,
	coordinator *IngestCoordinator,
	cascade *CascadeService,
	logger *log.Logger,
) *DocumentService {
	return &DocumentService{
		store:       store,
		machine:     machine,
		coordinator: coordinator,
		cascade:     cascade,
		logger:      logger,
	}
}

// IngestDocument accepts content for a (collection, key) pair and starts the
// sync pipeline. Behavior by prior state of the key:
//   - no prior document: create and sync.
//   - same content hash: metadata-only update, id stays, no resync.
//   - different content hash: the old document is cascade-deleted and a new
//     one is created under a new id.
func (s *DocumentService) IngestDocument(ctx context.Context, req *models.DocumentRequest) (*models.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, models.NewAppError(models.ErrValidation, err.Error(), err)
	}

	collection, err := s.store.GetCollection(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if collection.Deleted {
		return nil, models.Errorf(models.ErrNotFound, "collection not found: %s", req.CollectionID)
	}

	hash := models.HashContent(req.Content)

	existing, err := s.store.GetDocumentByKey(ctx, req.CollectionID, req.Key)
	if err != nil && !models.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		if existing.ContentHash == hash {
			// Same content: metadata-only update, id stable.
			existing.Name = req.Name
			existing.Mime = req.Mime
			if err := s.store.UpdateDocument(ctx, existing); err != nil {
				return nil, err
			}
			s.logger.Printf("Document %s metadata updated (content unchanged)", existing.ID)
			return existing, nil
		}
		// Content changed: hard-delete the old identity before minting the
		// new one.
		if err := s.cascade.DeleteDocument(ctx, existing.ID); err != nil {
			return nil, err
		}
		s.logger.Printf("Document %s replaced (content changed for key %s)", existing.ID, req.Key)
	}

	doc := &models.Document{
		ID:           models.NewDocumentID(hash),
		CollectionID: req.CollectionID,
		Key:          req.Key,
		Name:         req.Name,
		Mime:         req.Mime,
		SizeBytes:    int64(len(req.Content)),
		ContentHash:  hash,
		Content:      req.Content,
		Status:       models.DocumentStatusNew,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	if _, err := s.machine.CreateJob(ctx, doc.ID); err != nil {
		return nil, err
	}

	go func() {
		if err := s.coordinator.TriggerSync(context.Background(), doc.ID); err != nil {
			s.logger.Printf("Sync of document %s failed: %v", doc.ID, err)
		}
	}()
	return doc, nil
}

// GetDocument fetches one document.
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// ListDocuments returns a filtered page of documents.
func (s *DocumentService) ListDocuments(ctx context.Context, filter models.DocumentFilter, opts models.ListOptions) ([]*models.Document, *models.Pagination, error) {
	opts.Normalize()
	docs, total, err := s.store.ListDocuments(ctx, filter, opts)
	if err != nil {
		return nil, nil, err
	}
	pagination := models.NewPagination(opts.Page, opts.Limit, total)
	return docs, &pagination, nil
}

// DeleteDocument cascades the deletion across both stores. Idempotent.
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	return s.cascade.DeleteDocument(ctx, id)
}

// ResyncDocument re-runs the pipeline for a document. A dead or failed job is
// reset to NEW first; chunk-level idempotence skips work that already stuck.
func (s *DocumentService) ResyncDocument(ctx context.Context, id string) (*models.SyncJob, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}

	job, err := s.machine.GetJob(ctx, id)
	if err != nil {
		if !models.IsNotFound(err) {
			return nil, err
		}
		if job, err = s.machine.CreateJob(ctx, id); err != nil {
			return nil, err
		}
	}

	// Terminal and failed jobs restart from scratch; active ones coalesce
	// onto the running execution.
	if job.Status == models.SyncStateDead || job.Status == models.SyncStateSynced || job.Status == models.SyncStateFailed {
		s.coordinator.CancelPendingRetries(id)
		job.Status = models.SyncStateNew
		job.Attempts = 0
		job.LastError = ""
		job.ErrorCategory = ""
		job.PriorState = ""
		if err := s.store.UpdateSyncJob(ctx, job); err != nil {
			return nil, err
		}
		if err := s.store.UpdateDocumentStatus(ctx, id, models.DocumentStatusNew); err != nil {
			return nil, err
		}
	}

	go func() {
		if err := s.coordinator.TriggerSync(context.Background(), id); err != nil {
			s.logger.Printf("Resync of document %s failed: %v", id, err)
		}
	}()
	return job, nil
}

// GetSyncStatus reports a document's job and chunk progress.
func (s *DocumentService) GetSyncStatus(ctx context.Context, id string) (*models.SyncJob, []*models.ChunkMeta, error) {
	job, err := s.machine.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.store.ListChunkMetaByDoc(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, chunks, nil
}
