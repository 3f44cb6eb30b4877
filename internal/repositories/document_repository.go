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

const documentColumns = `id, collection_id, doc_key, name, mime, size_bytes, content_hash, content, status, created_at, updated_at`

func scanDocument(scan func(dest ...interface{}) error) (*models.Document, error) {
	var d models.Document
	err := scan(&d.ID, &d.CollectionID, &d.Key, &d.Name, &d.Mime, &d.SizeBytes,
		&d.ContentHash, &d.Content, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDocument inserts a document row. The (collection, key) pair is unique
// among live documents.
func (s *SQLStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return models.NewAppError(models.ErrValidation, err.Error(), err)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.CollectionID, doc.Key, doc.Name, doc.Mime, doc.SizeBytes,
		doc.ContentHash, doc.Content, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Errorf(models.ErrConflict,
				"document key already in use in collection %s: %s", doc.CollectionID, doc.Key)
		}
		return NewStoreError("create_document", err, "")
	}
	return nil
}

// GetDocument fetches a document by id, content included.
func (s *SQLStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	d, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, documentNotFound(id)
	}
	if err != nil {
		return nil, NewStoreError("get_document", err, "")
	}
	return d, nil
}

// GetDocumentByKey fetches the live document for a (collection, key) pair.
func (s *SQLStore) GetDocumentByKey(ctx context.Context, collectionID, key string) (*models.Document, error) {
	row := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT `+documentColumns+` FROM documents
		WHERE collection_id = ? AND doc_key = ?`), collectionID, key)
	d, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, documentNotFound(key)
	}
	if err != nil {
		return nil, NewStoreError("get_document_by_key", err, "")
	}
	return d, nil
}

// ListDocuments returns a filtered page of documents and the total count.
func (s *SQLStore) ListDocuments(ctx context.Context, filter models.DocumentFilter, opts models.ListOptions) ([]*models.Document, int64, error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}
	if filter.CollectionID != "" {
		conditions = append(conditions, "collection_id = ?")
		args = append(args, filter.CollectionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(name LIKE ? OR doc_key LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countArgs := append([]interface{}{}, args...)
	if err := s.executor(ctx).QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM documents "+where), countArgs...).Scan(&total); err != nil {
		return nil, 0, NewStoreError("list_documents", err, "")
	}

	order := "created_at DESC"
	switch opts.Sort {
	case "name":
		order = "name " + strings.ToUpper(opts.Order)
	case "size":
		order = "size_bytes " + strings.ToUpper(opts.Order)
	case "created_at":
		order = "created_at " + strings.ToUpper(opts.Order)
	case "updated_at":
		order = "updated_at " + strings.ToUpper(opts.Order)
	}
	query := fmt.Sprintf(`SELECT `+documentColumns+` FROM documents %s ORDER BY %s LIMIT ? OFFSET ?`, where, order)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, NewStoreError("list_documents", err, "")
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, 0, NewStoreError("list_documents", err, "")
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// UpdateDocument rewrites a document's metadata fields. Content and hash are
// immutable: a content change is a new document with a new id.
func (s *SQLStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return models.NewAppError(models.ErrValidation, err.Error(), err)
	}
	doc.UpdatedAt = time.Now().UTC()

	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE documents SET doc_key = ?, name = ?, mime = ?, status = ?, updated_at = ?
		WHERE id = ?`),
		doc.Key, doc.Name, doc.Mime, doc.Status, doc.UpdatedAt, doc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Errorf(models.ErrConflict,
				"document key already in use in collection %s: %s", doc.CollectionID, doc.Key)
		}
		return NewStoreError("update_document", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return documentNotFound(doc.ID)
	}
	return nil
}

// UpdateDocumentStatus updates only the caller-visible status.
func (s *SQLStore) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	if !status.IsValid() {
		return models.Errorf(models.ErrValidation, "invalid document status: %s", status)
	}
	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC(), id)
	if err != nil {
		return NewStoreError("update_document_status", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return documentNotFound(id)
	}
	return nil
}

// DeleteDocument hard-deletes a document row. Chunk metadata and the sync job
// go with it via ON DELETE CASCADE; the keyword index and vector points are
// the cascade deleter's responsibility.
func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.executor(ctx).ExecContext(ctx,
		s.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return NewStoreError("delete_document", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return documentNotFound(id)
	}
	return nil
}

// ListDocumentIDsByCollection returns every document id in a collection.
func (s *SQLStore) ListDocumentIDsByCollection(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(`
		SELECT id FROM documents WHERE collection_id = ? ORDER BY created_at`), collectionID)
	if err != nil {
		return nil, NewStoreError("list_document_ids", err, "")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewStoreError("list_document_ids", err, "")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
