package services

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"docsync/internal/embedding"
	"docsync/internal/models"
	"docsync/internal/repositories"
	"docsync/internal/retry"
)

// MetricsService records and reports component health and pipeline metrics.
type MetricsService struct {
	store     repositories.RelationalStore
	vectors   repositories.VectorRepository
	provider  embedding.Provider
	scheduler *retry.Scheduler
	logger    *log.Logger
}

// NewMetricsService wires the health and metrics reporter.
func NewMetricsService(
	store repositories.RelationalStore,
	vectors repositories.VectorRepository,
	provider embedding.Provider,
	scheduler *retry.Scheduler,
	logger *log.Logger,
) *MetricsService {
	return &MetricsService{
		store:     store,
		vectors:   vectors,
		provider:  provider,
		scheduler: scheduler,
		logger:    logger,
	}
}

// CheckHealth probes each dependency concurrently with a short timeout and
// returns one entry per component. The embedding provider is probed only when
// deep is set; a probe costs a real API call.
func (s *MetricsService) CheckHealth(ctx context.Context, deep bool) []models.SystemHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := []struct {
		component string
		probe     func(context.Context) error
		skip      bool
	}{
		{component: "database", probe: s.store.Ping},
		{component: "vector_store", probe: s.vectors.Ping},
		{component: "embedding", probe: s.provider.Ping, skip: !deep},
	}

	out := make([]models.SystemHealth, 0, len(checks))
	for _, check := range checks {
		if check.skip {
			continue
		}
		out = append(out, models.SystemHealth{Component: check.component, Healthy: true})
	}

	g, gCtx := errgroup.WithContext(probeCtx)
	idx := 0
	for _, check := range checks {
		if check.skip {
			continue
		}
		probe, health := check.probe, &out[idx]
		idx++
		g.Go(func() error {
			health.CheckedAt = time.Now().UTC()
			if err := probe(gCtx); err != nil {
				health.Healthy = false
				health.Detail = err.Error()
			}
			return nil
		})
	}
	g.Wait()
	return out
}

// RecordHealthSnapshot probes every dependency and persists the outcomes.
// Called periodically by the background worker.
func (s *MetricsService) RecordHealthSnapshot(ctx context.Context) error {
	for _, health := range s.CheckHealth(ctx, true) {
		h := health
		if err := s.store.RecordHealth(ctx, &h); err != nil {
			return err
		}
	}
	return nil
}

// JobStats summarizes the pipeline: durable job counts per state plus the
// in-memory retry scheduler statistics.
type JobStats struct {
	JobsByState map[models.SyncState]int64 `json:"jobs_by_state"`
	ActiveTasks int                        `json:"active_retry_tasks"`
	Retry       retry.Stats                `json:"retry"`
}

// GetJobStats aggregates pipeline statistics.
func (s *MetricsService) GetJobStats(ctx context.Context) (*JobStats, error) {
	counts, err := s.store.CountSyncJobsByState(ctx)
	if err != nil {
		return nil, err
	}
	return &JobStats{
		JobsByState: counts,
		ActiveTasks: s.scheduler.GetActiveTaskCount(),
		Retry:       s.scheduler.Stats(),
	}, nil
}

// RecordPipelineMetrics persists a snapshot of pipeline gauges. Called
// periodically by the background worker.
func (s *MetricsService) RecordPipelineMetrics(ctx context.Context) error {
	stats, err := s.GetJobStats(ctx)
	if err != nil {
		return err
	}

	for state, count := range stats.JobsByState {
		if err := s.store.RecordMetric(ctx, &models.SystemMetric{
			Component: "sync",
			Name:      "jobs_" + string(state),
			Value:     float64(count),
		}); err != nil {
			return err
		}
	}
	return s.store.RecordMetric(ctx, &models.SystemMetric{
		Component: "retry",
		Name:      "active_tasks",
		Value:     float64(stats.ActiveTasks),
	})
}

// ListRecentMetrics exposes stored measurements for one component.
func (s *MetricsService) ListRecentMetrics(ctx context.Context, component string, limit int) ([]*models.SystemMetric, error) {
	return s.store.ListRecentMetrics(ctx, component, limit)
}
