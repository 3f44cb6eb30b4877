package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"docsync/internal/db"
	"docsync/internal/models"
)

// UpsertChunkMeta writes or replaces the durable embedding state of a chunk.
func (s *SQLStore) UpsertChunkMeta(ctx context.Context, meta *models.ChunkMeta) error {
	query := `
		INSERT INTO chunk_meta (point_id, doc_id, collection_id, chunk_index, title_chain, content, content_hash, status, synced_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (point_id) DO UPDATE SET
			status = excluded.status,
			synced_at = excluded.synced_at,
			error = excluded.error,
			title_chain = excluded.title_chain,
			content = excluded.content,
			content_hash = excluded.content_hash`
	_, err := s.executor(ctx).ExecContext(ctx, s.rebind(query),
		meta.PointID, meta.DocID, meta.CollectionID, meta.ChunkIndex,
		meta.TitleChain, meta.Content, meta.ContentHash, meta.Status, meta.SyncedAt, meta.Error)
	if err != nil {
		return NewStoreError("upsert_chunk_meta", err, "")
	}
	return nil
}

const chunkMetaColumns = `point_id, doc_id, collection_id, chunk_index, title_chain, content, content_hash, status, synced_at, error`

func scanChunkMeta(scan func(dest ...interface{}) error) (*models.ChunkMeta, error) {
	var m models.ChunkMeta
	err := scan(&m.PointID, &m.DocID, &m.CollectionID, &m.ChunkIndex,
		&m.TitleChain, &m.Content, &m.ContentHash, &m.Status, &m.SyncedAt, &m.Error)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetChunkMeta fetches one chunk's metadata by point id.
func (s *SQLStore) GetChunkMeta(ctx context.Context, pointID string) (*models.ChunkMeta, error) {
	row := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT `+chunkMetaColumns+` FROM chunk_meta WHERE point_id = ?`), pointID)
	m, err := scanChunkMeta(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chunkMetaNotFound(pointID)
	}
	if err != nil {
		return nil, NewStoreError("get_chunk_meta", err, "")
	}
	return m, nil
}

// ListChunkMetaByDoc returns a document's chunk metadata ordered by index.
func (s *SQLStore) ListChunkMetaByDoc(ctx context.Context, docID string) ([]*models.ChunkMeta, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(`
		SELECT `+chunkMetaColumns+` FROM chunk_meta
		WHERE doc_id = ? ORDER BY chunk_index`), docID)
	if err != nil {
		return nil, NewStoreError("list_chunk_meta", err, "")
	}
	defer rows.Close()

	var out []*models.ChunkMeta
	for rows.Next() {
		m, err := scanChunkMeta(rows.Scan)
		if err != nil {
			return nil, NewStoreError("list_chunk_meta", err, "")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetChunkMetaByPointIDs fetches metadata for a set of points. Missing ids are
// silently absent from the result; search hydration tolerates stale hits.
func (s *SQLStore) GetChunkMetaByPointIDs(ctx context.Context, pointIDs []string) (map[string]*models.ChunkMeta, error) {
	if len(pointIDs) == 0 {
		return map[string]*models.ChunkMeta{}, nil
	}

	placeholders := make([]string, len(pointIDs))
	args := make([]interface{}, len(pointIDs))
	for i, id := range pointIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(`
		SELECT `+chunkMetaColumns+` FROM chunk_meta
		WHERE point_id IN (`+strings.Join(placeholders, ", ")+`)`), args...)
	if err != nil {
		return nil, NewStoreError("get_chunk_meta_by_point_ids", err, "")
	}
	defer rows.Close()

	out := make(map[string]*models.ChunkMeta, len(pointIDs))
	for rows.Next() {
		m, err := scanChunkMeta(rows.Scan)
		if err != nil {
			return nil, NewStoreError("get_chunk_meta_by_point_ids", err, "")
		}
		out[m.PointID] = m
	}
	return out, rows.Err()
}

// MarkChunkSynced records that the chunk's vector point is confirmed in the
// vector store.
func (s *SQLStore) MarkChunkSynced(ctx context.Context, pointID string) error {
	now := time.Now().UTC()
	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE chunk_meta SET status = ?, synced_at = ?, error = '' WHERE point_id = ?`),
		models.EmbeddingStatusCompleted, now, pointID)
	if err != nil {
		return NewStoreError("mark_chunk_synced", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return chunkMetaNotFound(pointID)
	}
	return nil
}

// MarkChunkFailed records a chunk-level embedding failure.
func (s *SQLStore) MarkChunkFailed(ctx context.Context, pointID, reason string) error {
	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE chunk_meta SET status = ?, error = ? WHERE point_id = ?`),
		models.EmbeddingStatusFailed, reason, pointID)
	if err != nil {
		return NewStoreError("mark_chunk_failed", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return chunkMetaNotFound(pointID)
	}
	return nil
}

// DeleteChunkMetaByDoc removes all chunk metadata of a document and returns
// the number of rows removed.
func (s *SQLStore) DeleteChunkMetaByDoc(ctx context.Context, docID string) (int64, error) {
	result, err := s.executor(ctx).ExecContext(ctx,
		s.rebind(`DELETE FROM chunk_meta WHERE doc_id = ?`), docID)
	if err != nil {
		return 0, NewStoreError("delete_chunk_meta", err, "")
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// CountChunksByCollection counts chunk metadata rows in a collection.
func (s *SQLStore) CountChunksByCollection(ctx context.Context, collectionID string) (int64, error) {
	var count int64
	err := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM chunk_meta WHERE collection_id = ?`), collectionID).Scan(&count)
	if err != nil {
		return 0, NewStoreError("count_chunks", err, "")
	}
	return count, nil
}

// UpsertFullText mirrors a chunk into the keyword index.
func (s *SQLStore) UpsertFullText(ctx context.Context, entry *models.FullTextEntry) error {
	meta, err := s.GetChunkMeta(ctx, entry.PointID)
	if err != nil {
		return err
	}

	// FTS5 virtual tables have no unique constraints, so replace is a
	// delete-then-insert on both dialects.
	if s.dialect == db.DialectSQLite {
		if _, err := s.executor(ctx).ExecContext(ctx,
			s.rebind(`DELETE FROM chunk_fts WHERE point_id = ?`), entry.PointID); err != nil {
			return NewStoreError("upsert_fulltext", err, "")
		}
		_, err = s.executor(ctx).ExecContext(ctx, s.rebind(`
			INSERT INTO chunk_fts (point_id, collection_id, doc_id, title_chain, content)
			VALUES (?, ?, ?, ?, ?)`),
			entry.PointID, meta.CollectionID, meta.DocID, entry.TitleChain, entry.Content)
		if err != nil {
			return NewStoreError("upsert_fulltext", err, "")
		}
		return nil
	}

	_, err = s.executor(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO chunk_fts (point_id, collection_id, doc_id, title_chain, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (point_id) DO UPDATE SET
			title_chain = excluded.title_chain,
			content = excluded.content`),
		entry.PointID, meta.CollectionID, meta.DocID, entry.TitleChain, entry.Content)
	if err != nil {
		return NewStoreError("upsert_fulltext", err, "")
	}
	return nil
}

// DeleteFullTextByDoc removes a document's keyword index entries.
func (s *SQLStore) DeleteFullTextByDoc(ctx context.Context, docID string) error {
	_, err := s.executor(ctx).ExecContext(ctx,
		s.rebind(`DELETE FROM chunk_fts WHERE doc_id = ?`), docID)
	if err != nil {
		return NewStoreError("delete_fulltext", err, "")
	}
	return nil
}

// KeywordSearch runs a full-text query over a collection's chunks and returns
// scored hits, best first. Higher score is better on both dialects.
func (s *SQLStore) KeywordSearch(ctx context.Context, collectionID, query string, limit int) ([]models.KeywordHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var rows *sql.Rows
	var err error
	if s.dialect == db.DialectSQLite {
		rows, err = s.executor(ctx).QueryContext(ctx, s.rebind(`
			SELECT point_id, -bm25(chunk_fts) AS score
			FROM chunk_fts
			WHERE chunk_fts MATCH ? AND collection_id = ?
			ORDER BY score DESC LIMIT ?`),
			fts5Query(query), collectionID, limit)
	} else {
		rows, err = s.executor(ctx).QueryContext(ctx, s.rebind(`
			SELECT point_id, ts_rank(tsv, plainto_tsquery('simple', ?)) AS score
			FROM chunk_fts
			WHERE tsv @@ plainto_tsquery('simple', ?) AND collection_id = ?
			ORDER BY score DESC LIMIT ?`),
			query, query, collectionID, limit)
	}
	if err != nil {
		return nil, NewStoreError("keyword_search", err, "")
	}
	defer rows.Close()

	var hits []models.KeywordHit
	for rows.Next() {
		var h models.KeywordHit
		if err := rows.Scan(&h.PointID, &h.Score); err != nil {
			return nil, NewStoreError("keyword_search", err, "")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// fts5Query quotes each term so user input never reaches the FTS5 query
// parser as syntax.
func fts5Query(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
