package services

import (
	"context"
	"errors"
	"log"
	"time"

	"docsync/internal/embedding"
	"docsync/internal/models"
	"docsync/internal/ratelimit"
	"docsync/internal/repositories"
	"docsync/internal/retry"
	"docsync/internal/splitter"
	"docsync/internal/txn"
)

// Rate limiter bucket keys for external calls.
const (
	BucketEmbedding    = "embedding"
	BucketVectorUpsert = "qdrant_upsert"
	BucketVectorDelete = "qdrant_delete"
)

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	BatchSize        int
	SplitOptions     splitter.Options
	Strategy         retry.Strategy
	EmbeddingLimit   ratelimit.Config
	UpsertLimit      ratelimit.Config
	EmbedTimeout     time.Duration
	VectorTimeout    time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// callBreaker runs op through a circuit breaker, counting only unavailable
// dependencies against the trip threshold. While the circuit is open, calls
// are rejected as DEPENDENCY_UNAVAILABLE without reaching the dependency.
func callBreaker(ctx context.Context, breaker *txn.CircuitBreaker, name string, op func(ctx context.Context) error) error {
	var opErr error
	err := breaker.Execute(ctx, func(bCtx context.Context) error {
		opErr = op(bCtx)
		if opErr != nil && models.Classify(opErr) == models.CategoryDependencyUnavailable {
			return opErr
		}
		return nil
	})
	if errors.Is(err, txn.ErrCircuitOpen) {
		return models.Errorf(models.ErrDependencyUnavailable, "%s circuit open, calls suspended", name)
	}
	return opErr
}

// IngestCoordinator orchestrates one document's sync: split, embed, upsert,
// finalize, under the state machine, with failures classified and handed to
// the retry scheduler.
type IngestCoordinator struct {
	store         repositories.RelationalStore
	vectors       repositories.VectorRepository
	provider      embedding.Provider
	limiter       *ratelimit.Limiter
	txns          *txn.Manager
	machine       *SyncStateMachine
	scheduler     *retry.Scheduler
	config        IngestConfig
	embedBreaker  *txn.CircuitBreaker
	vectorBreaker *txn.CircuitBreaker
	logger        *log.Logger
}

// NewIngestCoordinator wires the pipeline.
func NewIngestCoordinator(
	store repositories.RelationalStore,
	vectors repositories.VectorRepository,
	provider embedding.Provider,
	limiter *ratelimit.Limiter,
	txns *txn.Manager,
	machine *SyncStateMachine,
	scheduler *retry.Scheduler,
	config IngestConfig,
	logger *log.Logger,
) *IngestCoordinator {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.EmbedTimeout == 0 {
		config.EmbedTimeout = 30 * time.Second
	}
	if config.VectorTimeout == 0 {
		config.VectorTimeout = 10 * time.Second
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 30 * time.Second
	}
	return &IngestCoordinator{
		store:         store,
		vectors:       vectors,
		provider:      provider,
		limiter:       limiter,
		txns:          txns,
		machine:       machine,
		scheduler:     scheduler,
		config:        config,
		embedBreaker:  txn.NewCircuitBreaker(config.BreakerThreshold, config.BreakerTimeout),
		vectorBreaker: txn.NewCircuitBreaker(config.BreakerThreshold, config.BreakerTimeout),
		logger:        logger,
	}
}

// TriggerSync runs the pipeline for one document. Concurrent triggers for the
// same document coalesce onto the in-flight execution.
func (c *IngestCoordinator) TriggerSync(ctx context.Context, docID string) error {
	return c.machine.RunExclusive(docID, func() error {
		return c.executeSync(ctx, docID)
	})
}

// executeSync walks the remaining stages for a document. Each stage is
// idempotent: it checks durable state before redoing work, so a resume after
// a crash or retry converges to the same result.
func (c *IngestCoordinator) executeSync(ctx context.Context, docID string) error {
	doc, err := c.store.GetDocument(ctx, docID)
	if err != nil {
		if models.IsNotFound(err) {
			// The document vanished under the job; bury it.
			c.failJob(ctx, docID, models.Errorf(models.ErrIntegrity, "document disappeared: %s", docID))
			return err
		}
		return err
	}

	job, err := c.machine.GetJob(ctx, docID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() && job.Status == models.SyncStateDead {
		return models.Errorf(models.ErrConflict, "sync job is dead for document: %s", docID)
	}
	if job.Status == models.SyncStateSynced {
		return nil
	}

	if doc.Status != models.DocumentStatusSyncing {
		if err := c.store.UpdateDocumentStatus(ctx, docID, models.DocumentStatusSyncing); err != nil {
			return err
		}
	}

	if err := c.runStages(ctx, doc, job); err != nil {
		c.failJob(ctx, docID, err)
		return err
	}
	return nil
}

func (c *IngestCoordinator) runStages(ctx context.Context, doc *models.Document, job *models.SyncJob) error {
	if job.Status == models.SyncStateNew {
		if err := c.stageSplit(ctx, doc); err != nil {
			return err
		}
		var err error
		if job, err = c.machine.HandleEvent(ctx, doc.ID, models.EventSplitOK, nil); err != nil {
			return err
		}
	}

	if job.Status == models.SyncStateSplitOK {
		if err := c.stageEmbed(ctx, doc); err != nil {
			return err
		}
		var err error
		if job, err = c.machine.HandleEvent(ctx, doc.ID, models.EventEmbedOK, nil); err != nil {
			return err
		}
	}

	if job.Status == models.SyncStateEmbedOK {
		if err := c.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusSynced); err != nil {
			return err
		}
		if _, err := c.machine.HandleEvent(ctx, doc.ID, models.EventSynced, nil); err != nil {
			return err
		}
		c.logger.Printf("Document %s synced", doc.ID)
	}
	return nil
}

// stageSplit splits the content and persists chunk metadata and full-text
// entries under one root transaction. Upserts keyed on pointId make a rerun
// harmless.
func (c *IngestCoordinator) stageSplit(ctx context.Context, doc *models.Document) error {
	pieces := splitter.Split(doc.Content, c.config.SplitOptions)
	if len(pieces) == 0 {
		return models.Errorf(models.ErrValidation, "document %s produced no chunks", doc.ID)
	}

	err := c.txns.ExecuteInTransaction(ctx, func(txCtx context.Context) error {
		for i, piece := range pieces {
			chunk := &models.Chunk{
				PointID:      models.PointID(doc.ID, i),
				DocID:        doc.ID,
				CollectionID: doc.CollectionID,
				ChunkIndex:   i,
				TitleChain:   piece.TitleChain,
				Content:      piece.Content,
			}
			if err := chunk.Validate(); err != nil {
				return models.NewAppError(models.ErrValidation, err.Error(), err)
			}
			if err := c.store.UpsertChunkMeta(txCtx, models.NewChunkMeta(chunk)); err != nil {
				return err
			}
			if err := c.store.UpsertFullText(txCtx, &models.FullTextEntry{
				PointID:    chunk.PointID,
				Content:    chunk.Content,
				TitleChain: chunk.TitleChainString(),
			}); err != nil {
				return err
			}
			c.txns.RecordOperation(txCtx, "upsert_chunk", map[string]interface{}{
				"point_id": chunk.PointID, "chunk_index": i,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Printf("Document %s split into %d chunks", doc.ID, len(pieces))
	return nil
}

// stageEmbed embeds pending chunks in chunkIndex order, upserts their vectors,
// and marks each chunk completed only after its point is known applied.
func (c *IngestCoordinator) stageEmbed(ctx context.Context, doc *models.Document) error {
	metas, err := c.store.ListChunkMetaByDoc(ctx, doc.ID)
	if err != nil {
		return err
	}

	var pending []*models.ChunkMeta
	for _, meta := range metas {
		if meta.Status != models.EmbeddingStatusCompleted {
			pending = append(pending, meta)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	for start := 0; start < len(pending); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := c.embedBatch(ctx, pending[start:end]); err != nil {
			return err
		}
	}
	c.logger.Printf("Document %s: %d chunks embedded and upserted", doc.ID, len(pending))
	return nil
}

func (c *IngestCoordinator) embedBatch(ctx context.Context, batch []*models.ChunkMeta) error {
	if res := c.limiter.Consume(BucketEmbedding, 1, c.config.EmbeddingLimit); !res.Allowed {
		return models.Errorf(models.ErrRateLimited,
			"embedding rate limited, resets at %s", res.ResetAt.Format(time.RFC3339))
	}

	texts := make([]string, len(batch))
	chunks := make([]*models.Chunk, len(batch))
	for i, meta := range batch {
		texts[i] = meta.Content
		chunks[i] = meta.ToChunk()
	}

	var vectors [][]float32
	err := callBreaker(ctx, c.embedBreaker, "embedding provider", func(bCtx context.Context) error {
		return txn.WithTimeout(bCtx, c.config.EmbedTimeout, func(opCtx context.Context) error {
			var embedErr error
			vectors, embedErr = c.provider.Embed(opCtx, texts)
			return embedErr
		})
	})
	if err != nil {
		return err
	}

	if res := c.limiter.Consume(BucketVectorUpsert, 1, c.config.UpsertLimit); !res.Allowed {
		return models.Errorf(models.ErrRateLimited,
			"vector upsert rate limited, resets at %s", res.ResetAt.Format(time.RFC3339))
	}
	err = callBreaker(ctx, c.vectorBreaker, "vector store", func(bCtx context.Context) error {
		return txn.WithTimeout(bCtx, c.config.VectorTimeout, func(opCtx context.Context) error {
			return c.vectors.StorePoints(opCtx, chunks, vectors)
		})
	})
	if err != nil {
		return err
	}

	// The vector store acknowledged the batch; record completion per chunk.
	for _, meta := range batch {
		if err := c.store.MarkChunkSynced(ctx, meta.PointID); err != nil {
			return err
		}
	}
	return nil
}

// failJob records a failure and either arms a retry or buries the job.
func (c *IngestCoordinator) failJob(ctx context.Context, docID string, cause error) {
	job, err := c.machine.HandleEvent(ctx, docID, models.EventFail, cause)
	if err != nil {
		c.logger.Printf("Failed to record failure for doc %s: %v", docID, err)
		return
	}

	if job.CanRetry(c.config.Strategy.MaxRetries) {
		// Persist RETRYING before arming the timer: a timer that fires
		// immediately must find the state its callback resumes from.
		if _, err := c.machine.HandleEvent(ctx, docID, models.EventRetry, nil); err != nil {
			c.logger.Printf("Failed to mark doc %s retrying: %v", docID, err)
			return
		}
		// Schedule with the attempt count before this retry fires; the
		// scheduler enforces the same bound CanRetry checked.
		taskID, ok := c.scheduler.Schedule(docID, job.ErrorCategory, job.Attempts-1, c.config.Strategy,
			func(cbCtx context.Context, id string) error {
				return c.resumeAfterRetry(cbCtx, id)
			})
		if !ok {
			// The scheduler declined a job already marked RETRYING; resume
			// out of band rather than leave it with no task armed.
			go func() {
				if err := c.resumeAfterRetry(context.Background(), docID); err != nil {
					c.logger.Printf("Unscheduled resume for doc %s failed: %v", docID, err)
				}
			}()
			return
		}
		c.logger.Printf("Doc %s failed (%s), retry task %s armed", docID, job.ErrorCategory, taskID)
		return
	}

	if _, err := c.machine.HandleEvent(ctx, docID, models.EventDead, nil); err != nil {
		c.logger.Printf("Failed to bury doc %s: %v", docID, err)
	}
	if err := c.store.UpdateDocumentStatus(ctx, docID, models.DocumentStatusFailed); err != nil && !models.IsNotFound(err) {
		c.logger.Printf("Failed to mark doc %s failed: %v", docID, err)
	}
	c.logger.Printf("Doc %s is dead: %v", docID, cause)
}

// resumeAfterRetry is the scheduler callback: restore the job to its last
// completed stage and run the pipeline again.
func (c *IngestCoordinator) resumeAfterRetry(ctx context.Context, docID string) error {
	if _, err := c.machine.HandleEvent(ctx, docID, models.EventRetryOK, nil); err != nil {
		return err
	}
	return c.TriggerSync(ctx, docID)
}

// Initialize resumes interrupted jobs after a restart: active jobs requeue for
// execution, failed ones re-arm a retry.
func (c *IngestCoordinator) Initialize(ctx context.Context) error {
	jobs, err := c.machine.ListRecoverable(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		switch job.Status {
		case models.SyncStateNew, models.SyncStateSplitOK, models.SyncStateEmbedOK:
			docID := job.DocID
			go func() {
				if err := c.TriggerSync(context.Background(), docID); err != nil {
					c.logger.Printf("Recovery sync for doc %s failed: %v", docID, err)
				}
			}()
		case models.SyncStateRetrying:
			// The armed task died with the process; resume immediately.
			docID := job.DocID
			go func() {
				if err := c.resumeAfterRetry(context.Background(), docID); err != nil {
					c.logger.Printf("Recovery retry for doc %s failed: %v", docID, err)
				}
			}()
		case models.SyncStateFailed:
			job := job
			if job.CanRetry(c.config.Strategy.MaxRetries) {
				// Same ordering as failJob: the job is RETRYING before any
				// timer can fire against it.
				if _, err := c.machine.HandleEvent(ctx, job.DocID, models.EventRetry, nil); err != nil {
					c.logger.Printf("Failed to mark doc %s retrying: %v", job.DocID, err)
					continue
				}
				docID := job.DocID
				if _, ok := c.scheduler.Schedule(docID, job.ErrorCategory, job.Attempts-1, c.config.Strategy,
					func(cbCtx context.Context, id string) error {
						return c.resumeAfterRetry(cbCtx, id)
					}); !ok {
					go func() {
						if err := c.resumeAfterRetry(context.Background(), docID); err != nil {
							c.logger.Printf("Unscheduled resume for doc %s failed: %v", docID, err)
						}
					}()
				}
				continue
			}
			if _, err := c.machine.HandleEvent(ctx, job.DocID, models.EventDead, nil); err != nil {
				c.logger.Printf("Failed to bury doc %s during recovery: %v", job.DocID, err)
			}
		}
	}
	if len(jobs) > 0 {
		c.logger.Printf("Recovered %d interrupted sync jobs", len(jobs))
	}
	return nil
}

// CancelPendingRetries disarms scheduled retries for a document. Called by
// deletion paths before removing the job record.
func (c *IngestCoordinator) CancelPendingRetries(docID string) int {
	return c.scheduler.CancelAllForDoc(docID)
}
