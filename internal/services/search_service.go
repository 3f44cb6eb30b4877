package services

import (
	"context"
	"log"
	"sort"
	"time"

	"docsync/internal/embedding"
	"docsync/internal/models"
	"docsync/internal/ratelimit"
	"docsync/internal/repositories"
	"docsync/internal/txn"
)

// SearchResult is one hydrated hit.
type SearchResult struct {
	PointID      string  `json:"point_id"`
	Score        float32 `json:"score"`
	Content      string  `json:"content"`
	TitleChain   string  `json:"title_chain,omitempty"`
	DocID        string  `json:"doc_id"`
	CollectionID string  `json:"collection_id"`
	ChunkIndex   int     `json:"chunk_index"`
}

// SearchOptions shapes one query.
type SearchOptions struct {
	CollectionID string
	Limit        int
}

// PaginatedSearchOptions adds client-side ordering over the hydrated set.
type PaginatedSearchOptions struct {
	CollectionID string
	Page         int
	Limit        int
	Sort         string // score (default), chunk_index, doc_id
	Order        string // asc, desc
}

const maxSearchLimit = 100

// SearchService runs vector and keyword retrieval and hydrates results from
// the relational store.
type SearchService struct {
	store          repositories.RelationalStore
	vectors        repositories.VectorRepository
	provider       embedding.Provider
	limiter        *ratelimit.Limiter
	embeddingLimit ratelimit.Config
	embedTimeout   time.Duration
	embedBreaker   *txn.CircuitBreaker
	vectorBreaker  *txn.CircuitBreaker
	logger         *log.Logger
}

// NewSearchService wires the search orchestrator.
func NewSearchService(
	store repositories.RelationalStore,
	vectors repositories.VectorRepository,
	provider embedding.Provider,
	limiter *ratelimit.Limiter,
	embeddingLimit ratelimit.Config,
	logger *log.Logger,
) *SearchService {
	return &SearchService{
		store:          store,
		vectors:        vectors,
		provider:       provider,
		limiter:        limiter,
		embeddingLimit: embeddingLimit,
		embedTimeout:   30 * time.Second,
		embedBreaker:   txn.NewCircuitBreaker(5, 30*time.Second),
		vectorBreaker:  txn.NewCircuitBreaker(5, 30*time.Second),
		logger:         logger,
	}
}

// Search embeds the query, searches the vector store scoped to the collection
// when one is given, and hydrates hits from the relational store. Results come
// back scored descending.
func (s *SearchService) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	if query == "" {
		return nil, models.Errorf(models.ErrValidation, "query is required")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Limit > maxSearchLimit {
		return nil, models.Errorf(models.ErrValidation, "limit cannot exceed %d", maxSearchLimit)
	}
	if opts.CollectionID != "" {
		collection, err := s.store.GetCollection(ctx, opts.CollectionID)
		if err != nil {
			return nil, err
		}
		if collection.Deleted {
			return nil, models.Errorf(models.ErrNotFound, "collection not found: %s", opts.CollectionID)
		}
	}

	if res := s.limiter.Consume(BucketEmbedding, 1, s.embeddingLimit); !res.Allowed {
		return nil, models.Errorf(models.ErrRateLimited,
			"embedding rate limited, resets at %s", res.ResetAt.Format(time.RFC3339))
	}

	var vectors [][]float32
	err := callBreaker(ctx, s.embedBreaker, "embedding provider", func(bCtx context.Context) error {
		return txn.WithTimeout(bCtx, s.embedTimeout, func(opCtx context.Context) error {
			var embedErr error
			vectors, embedErr = s.provider.Embed(opCtx, []string{query})
			return embedErr
		})
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, models.Errorf(models.ErrDependencyUnavailable,
			"embedding provider returned %d vectors for the query", len(vectors))
	}

	var hits []*models.VectorHit
	err = callBreaker(ctx, s.vectorBreaker, "vector store", func(bCtx context.Context) error {
		var searchErr error
		hits, searchErr = s.vectors.Search(bCtx, opts.CollectionID, vectors[0], opts.Limit)
		return searchErr
	})
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, hits)
}

// hydrate resolves hits to their stored chunks. Hits whose chunk rows are gone
// (a delete raced the search) are dropped.
func (s *SearchService) hydrate(ctx context.Context, hits []*models.VectorHit) ([]*SearchResult, error) {
	pointIDs := make([]string, len(hits))
	for i, hit := range hits {
		pointIDs[i] = hit.PointID
	}
	metas, err := s.store.GetChunkMetaByPointIDs(ctx, pointIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(hits))
	for _, hit := range hits {
		meta, ok := metas[hit.PointID]
		if !ok {
			continue
		}
		results = append(results, &SearchResult{
			PointID:      hit.PointID,
			Score:        hit.Score,
			Content:      meta.Content,
			TitleChain:   meta.TitleChain,
			DocID:        meta.DocID,
			CollectionID: meta.CollectionID,
			ChunkIndex:   meta.ChunkIndex,
		})
	}
	return results, nil
}

// KeywordSearch runs the relational full-text query and hydrates the hits.
func (s *SearchService) KeywordSearch(ctx context.Context, query, collectionID string, limit int) ([]*SearchResult, error) {
	if query == "" {
		return nil, models.Errorf(models.ErrValidation, "query is required")
	}
	if collectionID == "" {
		return nil, models.Errorf(models.ErrValidation, "collection id is required for keyword search")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxSearchLimit {
		return nil, models.Errorf(models.ErrValidation, "limit cannot exceed %d", maxSearchLimit)
	}

	keywordHits, err := s.store.KeywordSearch(ctx, collectionID, query, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]*models.VectorHit, len(keywordHits))
	for i, kh := range keywordHits {
		hits[i] = &models.VectorHit{PointID: kh.PointID, Score: float32(kh.Score)}
	}
	return s.hydrate(ctx, hits)
}

// SearchPaginated runs Search over a window wide enough to cover the requested
// page, applies client-side ordering when the sort key is not score, and
// returns one page with pagination metadata.
func (s *SearchService) SearchPaginated(ctx context.Context, query string, opts PaginatedSearchOptions) ([]*SearchResult, *models.Pagination, error) {
	list := models.ListOptions{Page: opts.Page, Limit: opts.Limit, Sort: opts.Sort, Order: opts.Order}
	list.Normalize()

	window := list.Page * list.Limit
	if window > maxSearchLimit {
		window = maxSearchLimit
	}

	results, err := s.Search(ctx, query, SearchOptions{CollectionID: opts.CollectionID, Limit: window})
	if err != nil {
		return nil, nil, err
	}

	switch list.Sort {
	case "", "score":
		// The vector store already returns scores descending.
	case "chunk_index":
		sort.SliceStable(results, func(i, j int) bool {
			if list.Order == "asc" {
				return results[i].ChunkIndex < results[j].ChunkIndex
			}
			return results[i].ChunkIndex > results[j].ChunkIndex
		})
	case "doc_id":
		sort.SliceStable(results, func(i, j int) bool {
			if list.Order == "asc" {
				return results[i].DocID < results[j].DocID
			}
			return results[i].DocID > results[j].DocID
		})
	default:
		return nil, nil, models.Errorf(models.ErrValidation, "unsupported sort key: %s", list.Sort)
	}

	total := int64(len(results))
	pagination := models.NewPagination(list.Page, list.Limit, total)

	start := list.Offset()
	if start >= len(results) {
		return []*SearchResult{}, &pagination, nil
	}
	end := start + list.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[start:end], &pagination, nil
}
