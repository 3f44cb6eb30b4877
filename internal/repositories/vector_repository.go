package repositories

import (
	"context"
	"log"

	"docsync/internal/db"
	"docsync/internal/models"
)

// VectorRepository abstracts the vector store. All chunks live in a single
// Qdrant collection; logical collections are a payload filter, so dropping a
// logical collection never touches another one's points.
type VectorRepository interface {
	// EnsureReady creates the backing collection if missing and verifies the
	// vector size. Call once on startup.
	EnsureReady(ctx context.Context, vectorSize int) error

	// StorePoints writes embedded chunks. The write is acknowledged only after
	// the vector store has applied it.
	StorePoints(ctx context.Context, chunks []*models.Chunk, vectors [][]float32) error

	// DeletePoints removes points by id.
	DeletePoints(ctx context.Context, pointIDs []string) error

	// DeleteByDocument removes every point of one document.
	DeleteByDocument(ctx context.Context, docID string) error

	// DeleteByCollection removes every point of one logical collection.
	DeleteByCollection(ctx context.Context, collectionID string) error

	// Search returns the best-scoring points in one logical collection.
	Search(ctx context.Context, collectionID string, vector []float32, limit int) ([]*models.VectorHit, error)

	// CountByCollection counts a logical collection's points.
	CountByCollection(ctx context.Context, collectionID string) (int64, error)

	Ping(ctx context.Context) error
	Close()
}

// QdrantVectorRepository implements VectorRepository on the Qdrant REST client.
type QdrantVectorRepository struct {
	client     *db.QdrantClient
	collection string
	logger     *log.Logger
}

// NewQdrantVectorRepository creates the repository over one Qdrant collection.
func NewQdrantVectorRepository(client *db.QdrantClient, collection string, logger *log.Logger) *QdrantVectorRepository {
	if collection == "" {
		collection = "docsync_chunks"
	}
	return &QdrantVectorRepository{client: client, collection: collection, logger: logger}
}

// EnsureReady creates or verifies the backing collection.
func (r *QdrantVectorRepository) EnsureReady(ctx context.Context, vectorSize int) error {
	if err := r.client.EnsureCollection(ctx, r.collection, vectorSize); err != nil {
		return err
	}
	r.logger.Printf("Vector collection %s ready (vector size %d)", r.collection, vectorSize)
	return nil
}

// StorePoints upserts one point per chunk, payload included.
func (r *QdrantVectorRepository) StorePoints(ctx context.Context, chunks []*models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return models.Errorf(models.ErrInternal,
			"chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	points := make([]db.QdrantPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = db.QdrantPoint{
			ID:     chunk.PointID,
			Vector: vectors[i],
			Payload: map[string]any{
				"collection_id": chunk.CollectionID,
				"doc_id":        chunk.DocID,
				"chunk_index":   chunk.ChunkIndex,
				"title_chain":   chunk.TitleChainString(),
				"content":       chunk.Content,
				"content_hash":  models.HashContent(chunk.Content),
			},
		}
	}
	return r.client.UpsertPoints(ctx, r.collection, points)
}

// DeletePoints removes points by id.
func (r *QdrantVectorRepository) DeletePoints(ctx context.Context, pointIDs []string) error {
	return r.client.DeletePoints(ctx, r.collection, pointIDs)
}

// DeleteByDocument removes every point carrying the document's id.
func (r *QdrantVectorRepository) DeleteByDocument(ctx context.Context, docID string) error {
	filter := db.QdrantFilter{Must: []db.QdrantCondition{db.MatchCondition("doc_id", docID)}}
	return r.client.DeletePointsByFilter(ctx, r.collection, filter)
}

// DeleteByCollection removes every point carrying the logical collection's id.
func (r *QdrantVectorRepository) DeleteByCollection(ctx context.Context, collectionID string) error {
	filter := db.QdrantFilter{Must: []db.QdrantCondition{db.MatchCondition("collection_id", collectionID)}}
	return r.client.DeletePointsByFilter(ctx, r.collection, filter)
}

// Search runs a similarity query, filtered to one logical collection when an
// id is given and across all points otherwise.
func (r *QdrantVectorRepository) Search(ctx context.Context, collectionID string, vector []float32, limit int) ([]*models.VectorHit, error) {
	var filter *db.QdrantFilter
	if collectionID != "" {
		filter = &db.QdrantFilter{Must: []db.QdrantCondition{db.MatchCondition("collection_id", collectionID)}}
	}
	scored, err := r.client.Search(ctx, r.collection, vector, limit, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]*models.VectorHit, 0, len(scored))
	for _, point := range scored {
		hit := &models.VectorHit{PointID: point.ID, Score: point.Score}
		if docID, ok := point.Payload["doc_id"].(string); ok {
			hit.DocID = docID
		}
		if titleChain, ok := point.Payload["title_chain"].(string); ok {
			hit.TitleChain = titleChain
		}
		if idx, ok := point.Payload["chunk_index"].(float64); ok {
			hit.ChunkIndex = int(idx)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// CountByCollection counts points in one logical collection.
func (r *QdrantVectorRepository) CountByCollection(ctx context.Context, collectionID string) (int64, error) {
	filter := &db.QdrantFilter{Must: []db.QdrantCondition{db.MatchCondition("collection_id", collectionID)}}
	return r.client.CountPoints(ctx, r.collection, filter)
}

// Ping probes the vector store.
func (r *QdrantVectorRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Close releases client connections.
func (r *QdrantVectorRepository) Close() {
	r.client.Close()
}

var _ VectorRepository = (*QdrantVectorRepository)(nil)
