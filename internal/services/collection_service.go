package services

import (
	"context"
	"log"

	"docsync/internal/models"
	"docsync/internal/repositories"
)

// CollectionService manages the collection lifecycle. Deletion is delegated to
// the cascade deleter.
type CollectionService struct {
	store   repositories.RelationalStore
	vectors repositories.VectorRepository
	cascade *CascadeService
	logger  *log.Logger
}

// NewCollectionService creates the collection service.
func NewCollectionService(store repositories.RelationalStore, vectors repositories.VectorRepository, cascade *CascadeService, logger *log.Logger) *CollectionService {
	return &CollectionService{store: store, vectors: vectors, cascade: cascade, logger: logger}
}

// CreateCollection validates and persists a new collection.
func (s *CollectionService) CreateCollection(ctx context.Context, req *models.CollectionRequest) (*models.Collection, error) {
	if err := req.Validate(); err != nil {
		return nil, models.NewAppError(models.ErrValidation, err.Error(), err)
	}

	collection := &models.Collection{
		ID:          models.NewCollectionID(),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.store.CreateCollection(ctx, collection); err != nil {
		return nil, err
	}
	s.logger.Printf("Collection %s created: %s", collection.ID, collection.Name)
	return collection, nil
}

// GetCollection fetches a live collection. Soft-deleted ones report not found.
func (s *CollectionService) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	collection, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if collection.Deleted {
		return nil, models.Errorf(models.ErrNotFound, "collection not found: %s", id)
	}
	return collection, nil
}

// ListCollections returns a page of live collections.
func (s *CollectionService) ListCollections(ctx context.Context, opts models.ListOptions) ([]*models.Collection, *models.Pagination, error) {
	opts.Normalize()
	collections, total, err := s.store.ListCollections(ctx, false, opts)
	if err != nil {
		return nil, nil, err
	}
	pagination := models.NewPagination(opts.Page, opts.Limit, total)
	return collections, &pagination, nil
}

// UpdateCollection renames or redescribes a collection.
func (s *CollectionService) UpdateCollection(ctx context.Context, id string, req *models.CollectionRequest) (*models.Collection, error) {
	if err := req.Validate(); err != nil {
		return nil, models.NewAppError(models.ErrValidation, err.Error(), err)
	}

	collection, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	collection.Name = req.Name
	collection.Description = req.Description
	if err := s.store.UpdateCollection(ctx, collection); err != nil {
		return nil, err
	}
	return collection, nil
}

// DeleteCollection cascades the deletion across both stores. Idempotent.
func (s *CollectionService) DeleteCollection(ctx context.Context, id string) error {
	return s.cascade.DeleteCollection(ctx, id)
}

// GetCollectionStats aggregates relational counts with the live point count
// from the vector store.
func (s *CollectionService) GetCollectionStats(ctx context.Context, id string) (*models.CollectionStats, int64, error) {
	if _, err := s.GetCollection(ctx, id); err != nil {
		return nil, 0, err
	}
	stats, err := s.store.GetCollectionStats(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	points, err := s.vectors.CountByCollection(ctx, id)
	if err != nil {
		// The vector store being down shouldn't hide relational stats.
		s.logger.Printf("Vector point count unavailable for collection %s: %v", id, err)
		points = -1
	}
	return stats, points, nil
}
