package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"docsync/internal/models"
)

const syncJobColumns = `doc_id, status, attempts, last_error, error_category, prior_state, created_at, updated_at`

func scanSyncJob(scan func(dest ...interface{}) error) (*models.SyncJob, error) {
	var j models.SyncJob
	err := scan(&j.DocID, &j.Status, &j.Attempts, &j.LastError,
		&j.ErrorCategory, &j.PriorState, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateSyncJob inserts the sync job for a new document.
func (s *SQLStore) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	if !job.Status.IsValid() {
		return models.Errorf(models.ErrValidation, "invalid sync state: %s", job.Status)
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO sync_jobs (`+syncJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		job.DocID, job.Status, job.Attempts, job.LastError,
		job.ErrorCategory, job.PriorState, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Errorf(models.ErrConflict, "sync job already exists for document: %s", job.DocID)
		}
		return NewStoreError("create_sync_job", err, "")
	}
	return nil
}

// GetSyncJob fetches the sync job for a document.
func (s *SQLStore) GetSyncJob(ctx context.Context, docID string) (*models.SyncJob, error) {
	row := s.executor(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT `+syncJobColumns+` FROM sync_jobs WHERE doc_id = ?`), docID)
	j, err := scanSyncJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncJobNotFound(docID)
	}
	if err != nil {
		return nil, NewStoreError("get_sync_job", err, "")
	}
	return j, nil
}

// UpdateSyncJob persists a state transition. The write happens before the next
// stage's side effect; the state machine depends on that ordering.
func (s *SQLStore) UpdateSyncJob(ctx context.Context, job *models.SyncJob) error {
	if !job.Status.IsValid() {
		return models.Errorf(models.ErrValidation, "invalid sync state: %s", job.Status)
	}
	job.UpdatedAt = time.Now().UTC()

	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		UPDATE sync_jobs
		SET status = ?, attempts = ?, last_error = ?, error_category = ?, prior_state = ?, updated_at = ?
		WHERE doc_id = ?`),
		job.Status, job.Attempts, job.LastError, job.ErrorCategory,
		job.PriorState, job.UpdatedAt, job.DocID)
	if err != nil {
		return NewStoreError("update_sync_job", err, "")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return syncJobNotFound(job.DocID)
	}
	return nil
}

// DeleteSyncJob removes the sync job for a document.
func (s *SQLStore) DeleteSyncJob(ctx context.Context, docID string) error {
	_, err := s.executor(ctx).ExecContext(ctx,
		s.rebind(`DELETE FROM sync_jobs WHERE doc_id = ?`), docID)
	if err != nil {
		return NewStoreError("delete_sync_job", err, "")
	}
	return nil
}

// ListSyncJobsByStates returns jobs in any of the given states, oldest first.
// Used on startup to resume interrupted ingestions.
func (s *SQLStore) ListSyncJobsByStates(ctx context.Context, states ...models.SyncState) ([]*models.SyncJob, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = st
	}

	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(`
		SELECT `+syncJobColumns+` FROM sync_jobs
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY updated_at`), args...)
	if err != nil {
		return nil, NewStoreError("list_sync_jobs", err, "")
	}
	defer rows.Close()

	var out []*models.SyncJob
	for rows.Next() {
		j, err := scanSyncJob(rows.Scan)
		if err != nil {
			return nil, NewStoreError("list_sync_jobs", err, "")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// PruneSyncJobsBefore removes jobs in the given state not updated since the
// cutoff. The GC sweep uses this on SYNCED jobs; a pruned job is recreated on
// resync.
func (s *SQLStore) PruneSyncJobsBefore(ctx context.Context, state models.SyncState, cutoffUnix int64) (int64, error) {
	cutoff := time.Unix(cutoffUnix, 0).UTC()
	result, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		DELETE FROM sync_jobs WHERE status = ? AND updated_at < ?`), state, cutoff)
	if err != nil {
		return 0, NewStoreError("prune_sync_jobs", err, "")
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// CountSyncJobsByState aggregates job counts per state.
func (s *SQLStore) CountSyncJobsByState(ctx context.Context) (map[models.SyncState]int64, error) {
	rows, err := s.executor(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return nil, NewStoreError("count_sync_jobs", err, "")
	}
	defer rows.Close()

	counts := make(map[models.SyncState]int64)
	for rows.Next() {
		var state models.SyncState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, NewStoreError("count_sync_jobs", err, "")
		}
		counts[state] = count
	}
	return counts, rows.Err()
}
