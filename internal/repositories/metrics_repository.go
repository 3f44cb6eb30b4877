package repositories

import (
	"context"
	"time"

	"docsync/internal/models"
)

// RecordMetric appends one measurement.
func (s *SQLStore) RecordMetric(ctx context.Context, metric *models.SystemMetric) error {
	if metric.RecordedAt.IsZero() {
		metric.RecordedAt = time.Now().UTC()
	}
	_, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO system_metrics (component, name, value, recorded_at)
		VALUES (?, ?, ?, ?)`),
		metric.Component, metric.Name, metric.Value, metric.RecordedAt)
	if err != nil {
		return NewStoreError("record_metric", err, "")
	}
	return nil
}

// ListRecentMetrics returns the newest measurements for a component.
func (s *SQLStore) ListRecentMetrics(ctx context.Context, component string, limit int) ([]*models.SystemMetric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.executor(ctx).QueryContext(ctx, s.rebind(`
		SELECT component, name, value, recorded_at
		FROM system_metrics WHERE component = ?
		ORDER BY recorded_at DESC LIMIT ?`), component, limit)
	if err != nil {
		return nil, NewStoreError("list_recent_metrics", err, "")
	}
	defer rows.Close()

	var out []*models.SystemMetric
	for rows.Next() {
		var m models.SystemMetric
		if err := rows.Scan(&m.Component, &m.Name, &m.Value, &m.RecordedAt); err != nil {
			return nil, NewStoreError("list_recent_metrics", err, "")
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// RecordHealth upserts the latest probe outcome for a component.
func (s *SQLStore) RecordHealth(ctx context.Context, health *models.SystemHealth) error {
	if health.CheckedAt.IsZero() {
		health.CheckedAt = time.Now().UTC()
	}
	_, err := s.executor(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO system_health (component, healthy, detail, checked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (component) DO UPDATE SET
			healthy = excluded.healthy,
			detail = excluded.detail,
			checked_at = excluded.checked_at`),
		health.Component, health.Healthy, health.Detail, health.CheckedAt)
	if err != nil {
		return NewStoreError("record_health", err, "")
	}
	return nil
}

// ListHealth returns the latest recorded probe per component.
func (s *SQLStore) ListHealth(ctx context.Context) ([]models.SystemHealth, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `
		SELECT component, healthy, detail, checked_at
		FROM system_health ORDER BY component`)
	if err != nil {
		return nil, NewStoreError("list_health", err, "")
	}
	defer rows.Close()

	var out []models.SystemHealth
	for rows.Next() {
		var h models.SystemHealth
		if err := rows.Scan(&h.Component, &h.Healthy, &h.Detail, &h.CheckedAt); err != nil {
			return nil, NewStoreError("list_health", err, "")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PruneMetricsBefore removes measurements older than the cutoff and returns
// the number deleted. The GC worker calls this on its sweep.
func (s *SQLStore) PruneMetricsBefore(ctx context.Context, cutoffUnix int64) (int64, error) {
	cutoff := time.Unix(cutoffUnix, 0).UTC()
	result, err := s.executor(ctx).ExecContext(ctx,
		s.rebind(`DELETE FROM system_metrics WHERE recorded_at < ?`), cutoff)
	if err != nil {
		return 0, NewStoreError("prune_metrics", err, "")
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
