package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/models"
)

func TestCreateCollectionValidatesAndPersists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	collection, err := env.collections.CreateCollection(ctx, &models.CollectionRequest{
		Name: "handbook", Description: "team handbook",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, collection.ID)

	got, err := env.collections.GetCollection(ctx, collection.ID)
	require.NoError(t, err)
	assert.Equal(t, "handbook", got.Name)
	assert.Equal(t, "team handbook", got.Description)

	_, err = env.collections.CreateCollection(ctx, &models.CollectionRequest{})
	require.Error(t, err)
	assert.Equal(t, models.ErrValidation, models.CodeOf(err))

	// Names are unique case-insensitively.
	_, err = env.collections.CreateCollection(ctx, &models.CollectionRequest{Name: "HANDBOOK"})
	require.Error(t, err)
	assert.Equal(t, models.ErrConflict, models.CodeOf(err))
}

func TestUpdateCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "before")

	updated, err := env.collections.UpdateCollection(ctx, collection.ID, &models.CollectionRequest{
		Name: "after", Description: "renamed",
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)

	got, err := env.collections.GetCollection(ctx, collection.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, "renamed", got.Description)
}

func TestListCollectionsExcludesDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	keep := env.seedCollection(t, "keep")
	gone := env.seedCollection(t, "gone")
	require.NoError(t, env.store.MarkCollectionDeleted(ctx, gone.ID))

	collections, pagination, err := env.collections.ListCollections(ctx, models.ListOptions{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, keep.ID, collections[0].ID)
	assert.Equal(t, int64(1), pagination.Total)

	// A soft-deleted collection no longer resolves.
	_, err = env.collections.GetCollection(ctx, gone.ID)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestGetCollectionStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	collection := env.seedCollection(t, "stats")
	env.syncedDocument(t, collection.ID, "a.md")
	env.syncedDocument(t, collection.ID, "b.md")

	stats, points, err := env.collections.GetCollectionStats(ctx, collection.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DocumentCount)
	assert.Equal(t, int64(6), stats.ChunkCount)
	assert.Positive(t, stats.TotalSize)
	assert.Equal(t, int64(6), points)
}
