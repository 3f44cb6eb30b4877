package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docsync/internal/models"
)

// CreateCollection inserts a collection row. Name uniqueness is enforced
// case-insensitively by the unique index.
func (s *SQLStore) CreateCollection(ctx context.Context, collection *models.Collection) error {
	if err := collection.Validate(); err != nil {
		return models.NewAppError(models.ErrValidation, err.Error(), err)
	}

	now := time.Now().UTC()
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = now
	}
	collection.UpdatedAt = now

	_, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO collections (id, name, description, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		collection.ID, collection.Name, collection.Description, collection.Deleted,
		collection.CreatedAt, collection.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Errorf(models.ErrConflict, "collection name already in use: %s", collection.Name)
		}
		return NewStoreError("create_collection", err, "")
	}
	return nil
}

func (s *SQLStore) scanCollection(row *sql.Row) (*models.Collection, error) {
	var c models.Collection
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCollection fetches a collection by id, including soft-deleted ones.
// Callers decide whether deleted collections are visible.
func (s *SQLStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	row := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT id, name, description, deleted, created_at, updated_at
		FROM collections WHERE id = ?`), id)
	c, err := s.scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, collectionNotFound(id)
	}
	if err != nil {
		return nil, NewStoreError("get_collection", err, "")
	}
	return c, nil
}

// GetCollectionByName fetches a collection by case-insensitive name.
func (s *SQLStore) GetCollectionByName(ctx context.Context, name string) (*models.Collection, error) {
	row := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT id, name, description, deleted, created_at, updated_at
		FROM collections WHERE lower(name) = lower(?)`), name)
	c, err := s.scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, collectionNotFound(name)
	}
	if err != nil {
		return nil, NewStoreError("get_collection_by_name", err, "")
	}
	return c, nil
}

// ListCollections returns a page of collections and the total count.
func (s *SQLStore) ListCollections(ctx context.Context, includeDeleted bool, opts models.ListOptions) ([]*models.Collection, int64, error) {
	opts.Normalize()

	where := "WHERE deleted = ?"
	args := []interface{}{false}
	if includeDeleted {
		where = "WHERE 1 = 1"
		args = nil
	}

	var total int64
	countArgs := append([]interface{}{}, args...)
	if err := s.executor(ctx).QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM collections "+where), countArgs...).Scan(&total); err != nil {
		return nil, 0, NewStoreError("list_collections", err, "")
	}

	order := "name ASC"
	if opts.Sort == "created_at" {
		order = "created_at " + strings.ToUpper(opts.Order)
	}
	query := fmt.Sprintf(`
		SELECT id, name, description, deleted, created_at, updated_at
		FROM collections %s ORDER BY %s LIMIT ? OFFSET ?`, where, order)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, NewStoreError("list_collections", err, "")
	}
	defer rows.Close()

	var out []*models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Deleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, NewStoreError("list_collections", err, "")
		}
		out = append(out, &c)
	}
	return out, total, rows.Err()
}

// UpdateCollection updates name and description.
func (s *SQLStore) UpdateCollection(ctx context.Context, collection *models.Collection) error {
	if err := collection.Validate(); err != nil {
		return models.NewAppError(models.ErrValidation, err.Error(), err)
	}
	collection.UpdatedAt = time.Now().UTC()

	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE collections SET name = ?, description = ?, updated_at = ?
		WHERE id = ? AND deleted = ?`),
		collection.Name, collection.Description, collection.UpdatedAt, collection.ID, false)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Errorf(models.ErrConflict, "collection name already in use: %s", collection.Name)
		}
		return NewStoreError("update_collection", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collectionNotFound(collection.ID)
	}
	return nil
}

// MarkCollectionDeleted soft-deletes a collection. The row stays so the name
// is never resurrected; cascade deletion purges it once the contents are gone.
func (s *SQLStore) MarkCollectionDeleted(ctx context.Context, id string) error {
	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE collections SET deleted = ?, updated_at = ? WHERE id = ?`),
		true, time.Now().UTC(), id)
	if err != nil {
		return NewStoreError("mark_collection_deleted", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collectionNotFound(id)
	}
	return nil
}

// PurgeCollection hard-deletes a collection row. Documents, chunk metadata,
// and sync jobs go with it via ON DELETE CASCADE.
func (s *SQLStore) PurgeCollection(ctx context.Context, id string) error {
	_, err := s.executor(ctx).ExecContext(ctx,
		s.rebind(`DELETE FROM collections WHERE id = ?`), id)
	if err != nil {
		return NewStoreError("purge_collection", err, "")
	}
	return nil
}

// GetCollectionStats aggregates document and chunk counts and total bytes.
func (s *SQLStore) GetCollectionStats(ctx context.Context, id string) (*models.CollectionStats, error) {
	collection, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &models.CollectionStats{CollectionID: collection.ID, Name: collection.Name}
	err = s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM documents WHERE collection_id = ?`), id).
		Scan(&stats.DocumentCount, &stats.TotalSize)
	if err != nil {
		return nil, NewStoreError("get_collection_stats", err, "")
	}

	stats.ChunkCount, err = s.CountChunksByCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// isUniqueViolation detects unique-constraint failures across both dialects
// without importing driver error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
