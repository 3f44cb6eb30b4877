package services

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docsync/internal/db"
	"docsync/internal/embedding"
	"docsync/internal/models"
	"docsync/internal/ratelimit"
	"docsync/internal/repositories"
	"docsync/internal/retry"
	"docsync/internal/splitter"
	"docsync/internal/txn"
)

// ============================================================================
// Fakes
// ============================================================================

// fakeVectorRepo is an in-memory vector store with injectable failures.
type fakeVectorRepo struct {
	mu     sync.Mutex
	points map[string]*models.Chunk // pointID -> chunk payload

	storeErr  error
	deleteErr error
	searchErr error
}

func newFakeVectorRepo() *fakeVectorRepo {
	return &fakeVectorRepo{points: make(map[string]*models.Chunk)}
}

func (f *fakeVectorRepo) EnsureReady(context.Context, int) error { return nil }

func (f *fakeVectorRepo) StorePoints(_ context.Context, chunks []*models.Chunk, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	if len(chunks) != len(vectors) {
		return models.Errorf(models.ErrInternal, "count mismatch")
	}
	for _, chunk := range chunks {
		f.points[chunk.PointID] = chunk
	}
	return nil
}

func (f *fakeVectorRepo) DeletePoints(_ context.Context, pointIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, id := range pointIDs {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVectorRepo) DeleteByDocument(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, chunk := range f.points {
		if chunk.DocID == docID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeVectorRepo) DeleteByCollection(_ context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, chunk := range f.points {
		if chunk.CollectionID == collectionID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeVectorRepo) Search(_ context.Context, collectionID string, _ []float32, limit int) ([]*models.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var hits []*models.VectorHit
	score := float32(1.0)
	for id, chunk := range f.points {
		if collectionID != "" && chunk.CollectionID != collectionID {
			continue
		}
		hits = append(hits, &models.VectorHit{
			PointID:    id,
			DocID:      chunk.DocID,
			ChunkIndex: chunk.ChunkIndex,
			TitleChain: chunk.TitleChainString(),
			Score:      score,
		})
		score -= 0.01
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func (f *fakeVectorRepo) CountByCollection(_ context.Context, collectionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, chunk := range f.points {
		if chunk.CollectionID == collectionID {
			count++
		}
	}
	return count, nil
}

func (f *fakeVectorRepo) Ping(context.Context) error { return nil }
func (f *fakeVectorRepo) Close()                     {}

func (f *fakeVectorRepo) pointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func (f *fakeVectorRepo) setStoreErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeErr = err
}

func (f *fakeVectorRepo) setDeleteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErr = err
}

var _ repositories.VectorRepository = (*fakeVectorRepo)(nil)

// fakeEmbedder produces deterministic vectors and can fail the first N calls.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	texts     int
	failFirst int
	failWith  error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil && f.calls <= f.failFirst {
		return nil, f.failWith
	}
	f.texts += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int             { return 3 }
func (f *fakeEmbedder) Ping(context.Context) error { return nil }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

var _ embedding.Provider = (*fakeEmbedder)(nil)

// ============================================================================
// Environment
// ============================================================================

type testEnv struct {
	store       *repositories.SQLStore
	vectors     *fakeVectorRepo
	embedder    *fakeEmbedder
	limiter     *ratelimit.Limiter
	txns        *txn.Manager
	machine     *SyncStateMachine
	scheduler   *retry.Scheduler
	coordinator *IngestCoordinator
	cascade     *CascadeService
	documents   *DocumentService
	collections *CollectionService
	search      *SearchService
}

func openBucket() ratelimit.Config {
	return ratelimit.Config{MaxTokens: 1000, RefillPerSec: 1000, Enabled: true}
}

func fastRetryStrategy() retry.Strategy {
	return retry.Strategy{MaxRetries: 3, BaseDelay: 5 * time.Millisecond, BackoffFactor: 2, MaxDelay: 50 * time.Millisecond}
}

func newTestEnv(t *testing.T) *testEnv {
	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)

	database, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := repositories.NewSQLStore(database, db.DialectSQLite, logger)
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		vectors:   newFakeVectorRepo(),
		embedder:  &fakeEmbedder{},
		limiter:   ratelimit.NewLimiter(logger, ratelimit.WithSweepPeriod(time.Hour)),
		txns:      txn.NewManager(database, logger),
		scheduler: retry.NewScheduler(logger, retry.WithSweepPeriod(time.Hour)),
	}
	t.Cleanup(env.limiter.Close)
	t.Cleanup(env.txns.Close)
	t.Cleanup(env.scheduler.Close)

	env.machine = NewSyncStateMachine(store, 3, logger)
	env.coordinator = NewIngestCoordinator(store, env.vectors, env.embedder, env.limiter,
		env.txns, env.machine, env.scheduler,
		IngestConfig{
			BatchSize:      2,
			SplitOptions:   splitter.Options{MaxChunkSize: 40},
			Strategy:       fastRetryStrategy(),
			EmbeddingLimit: openBucket(),
			UpsertLimit:    openBucket(),
		}, logger)
	env.cascade = NewCascadeService(store, env.vectors, env.limiter, env.txns,
		env.coordinator, openBucket(), logger)
	env.documents = NewDocumentService(store, env.machine, env.coordinator, env.cascade, logger)
	env.collections = NewCollectionService(store, env.vectors, env.cascade, logger)
	env.search = NewSearchService(store, env.vectors, env.embedder, env.limiter, openBucket(), logger)
	return env
}

func (env *testEnv) seedCollection(t *testing.T, name string) *models.Collection {
	collection, err := env.collections.CreateCollection(context.Background(),
		&models.CollectionRequest{Name: name})
	require.NoError(t, err)
	return collection
}

// seedDocument creates a document and its NEW job without triggering a sync,
// so tests control pipeline execution.
func (env *testEnv) seedDocument(t *testing.T, collectionID, key, content string) *models.Document {
	hash := models.HashContent(content)
	doc := &models.Document{
		ID:           models.NewDocumentID(hash),
		CollectionID: collectionID,
		Key:          key,
		Name:         key,
		SizeBytes:    int64(len(content)),
		ContentHash:  hash,
		Content:      content,
		Status:       models.DocumentStatusNew,
	}
	require.NoError(t, env.store.CreateDocument(context.Background(), doc))
	_, err := env.machine.CreateJob(context.Background(), doc.ID)
	require.NoError(t, err)
	return doc
}

// threeChunkContent splits into exactly three pieces under MaxChunkSize 40.
const threeChunkContent = `# Guide

The first paragraph talks about tokens.

The second paragraph covers buckets.

The third paragraph mentions refills.`

func (env *testEnv) waitForState(t *testing.T, docID string, want models.SyncState) *models.SyncJob {
	t.Helper()
	var job *models.SyncJob
	require.Eventually(t, func() bool {
		var err error
		job, err = env.machine.GetJob(context.Background(), docID)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached %s", want)
	return job
}
