package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/models"
)

// docContent yields three-chunk content unique to the key, so each document
// gets its own content-addressed id.
func docContent(key string) string {
	return "# Guide\n\nAlpha paragraph on tokens for " + key + ".\n\n" +
		"Beta paragraph covers the buckets.\n\nGamma paragraph mentions refills."
}

func (env *testEnv) syncedDocument(t *testing.T, collectionID, key string) *models.Document {
	doc := env.seedDocument(t, collectionID, key, docContent(key))
	require.NoError(t, env.coordinator.TriggerSync(context.Background(), doc.ID))
	return doc
}

// ============================================================================
// Collection Cascade
// ============================================================================

func TestDeleteCollectionRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-full")
	docA := env.syncedDocument(t, collection.ID, "a.md")
	docB := env.syncedDocument(t, collection.ID, "b.md")
	require.Equal(t, 6, env.vectors.pointCount())

	require.NoError(t, env.cascade.DeleteCollection(ctx, collection.ID))

	// Both stores report zero for the collection.
	assert.Zero(t, env.vectors.pointCount())
	_, err := env.store.GetCollection(ctx, collection.ID)
	assert.True(t, models.IsNotFound(err))
	for _, docID := range []string{docA.ID, docB.ID} {
		_, err = env.store.GetDocument(ctx, docID)
		assert.True(t, models.IsNotFound(err))
		_, err = env.store.GetSyncJob(ctx, docID)
		assert.True(t, models.IsNotFound(err))
		metas, err := env.store.ListChunkMetaByDoc(ctx, docID)
		require.NoError(t, err)
		assert.Empty(t, metas)
	}
	hits, err := env.store.KeywordSearch(ctx, collection.ID, "paragraph", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// The name is free for reuse after the hard delete.
	_, err = env.collections.CreateCollection(ctx, &models.CollectionRequest{Name: "cascade-full"})
	require.NoError(t, err)
}

func TestDeleteCollectionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-idem")

	require.NoError(t, env.cascade.DeleteCollection(ctx, collection.ID))
	require.NoError(t, env.cascade.DeleteCollection(ctx, collection.ID))
	require.NoError(t, env.cascade.DeleteCollection(ctx, "col_absent"))
}

func TestDeleteCollectionVectorFailureLeavesDatabaseIntact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-halt")
	doc := env.syncedDocument(t, collection.ID, "a.md")

	env.vectors.setDeleteErr(models.Errorf(models.ErrDependencyUnavailable, "vector store down"))
	err := env.cascade.DeleteCollection(ctx, collection.ID)
	require.Error(t, err)
	assert.Equal(t, models.ErrDependencyUnavailable, models.CodeOf(err))

	// Vectors-first ordering: no database row was removed, so every vector
	// point still has its explaining row.
	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	metas, err := env.store.ListChunkMetaByDoc(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, metas, 3)
	assert.Equal(t, 3, env.vectors.pointCount())

	// The collection is soft-deleted and stops serving reads, but its rows
	// survive for the retry.
	_, err = env.collections.GetCollection(ctx, collection.ID)
	assert.True(t, models.IsNotFound(err))

	// Once the vector store recovers, the same call completes the cascade.
	env.vectors.setDeleteErr(nil)
	require.NoError(t, env.cascade.DeleteCollection(ctx, collection.ID))
	assert.Zero(t, env.vectors.pointCount())
	_, err = env.store.GetDocument(ctx, doc.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestDeleteCollectionCancelsPendingRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-cancel")
	doc := env.seedDocument(t, collection.ID, "a.md", threeChunkContent)

	env.embedder.failWith = models.Errorf(models.ErrDependencyUnavailable, "down")
	env.embedder.failFirst = 100
	env.coordinator.config.Strategy.BaseDelay = time.Hour
	env.coordinator.config.Strategy.MaxDelay = time.Hour

	require.Error(t, env.coordinator.TriggerSync(ctx, doc.ID))
	env.waitForState(t, doc.ID, models.SyncStateRetrying)
	require.Equal(t, 1, env.scheduler.GetActiveTaskCount())

	require.NoError(t, env.cascade.DeleteCollection(ctx, collection.ID))
	assert.Zero(t, env.scheduler.GetActiveTaskCount())
}

// ============================================================================
// Document Cascade
// ============================================================================

func TestDeleteDocumentScopesToOneDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-doc")
	docA := env.syncedDocument(t, collection.ID, "a.md")
	docB := env.syncedDocument(t, collection.ID, "b.md")

	require.NoError(t, env.cascade.DeleteDocument(ctx, docA.ID))

	_, err := env.store.GetDocument(ctx, docA.ID)
	assert.True(t, models.IsNotFound(err))
	_, err = env.store.GetSyncJob(ctx, docA.ID)
	assert.True(t, models.IsNotFound(err))

	// The sibling document is untouched.
	_, err = env.store.GetDocument(ctx, docB.ID)
	require.NoError(t, err)
	metas, err := env.store.ListChunkMetaByDoc(ctx, docB.ID)
	require.NoError(t, err)
	assert.Len(t, metas, 3)
	assert.Equal(t, 3, env.vectors.pointCount())
}

func TestDeleteDocumentVectorFailureLeavesDatabaseIntact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-doc-halt")
	doc := env.syncedDocument(t, collection.ID, "a.md")

	env.vectors.setDeleteErr(models.Errorf(models.ErrDependencyUnavailable, "vector store down"))
	require.Error(t, env.cascade.DeleteDocument(ctx, doc.ID))

	_, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	metas, err := env.store.ListChunkMetaByDoc(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, metas, 3)
}

func TestDeleteDocumentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "cascade-doc-idem")
	doc := env.syncedDocument(t, collection.ID, "a.md")

	require.NoError(t, env.cascade.DeleteDocument(ctx, doc.ID))
	require.NoError(t, env.cascade.DeleteDocument(ctx, doc.ID))
	require.NoError(t, env.cascade.DeleteDocument(ctx, "doc_absent"))
}
