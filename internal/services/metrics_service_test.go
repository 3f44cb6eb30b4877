package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/models"
)

func newMetricsService(env *testEnv) *MetricsService {
	return NewMetricsService(env.store, env.vectors, env.embedder, env.scheduler, env.coordinator.logger)
}

func TestCheckHealthProbesComponents(t *testing.T) {
	env := newTestEnv(t)
	metrics := newMetricsService(env)

	checks := metrics.CheckHealth(context.Background(), false)
	require.Len(t, checks, 2)
	for _, check := range checks {
		assert.True(t, check.Healthy, "component %s", check.Component)
	}

	deep := metrics.CheckHealth(context.Background(), true)
	require.Len(t, deep, 3)
	assert.Equal(t, "embedding", deep[2].Component)
	assert.True(t, deep[2].Healthy)
}

func TestGetJobStatsCountsByState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	metrics := newMetricsService(env)
	collection := env.seedCollection(t, "stats-jobs")
	env.syncedDocument(t, collection.ID, "a.md")
	env.seedDocument(t, collection.ID, "b.md", docContent("b.md"))

	stats, err := metrics.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.JobsByState[models.SyncStateSynced])
	assert.Equal(t, int64(1), stats.JobsByState[models.SyncStateNew])
}

func TestRecordPipelineMetricsPersistsGauges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	metrics := newMetricsService(env)
	collection := env.seedCollection(t, "stats-record")
	env.syncedDocument(t, collection.ID, "a.md")

	require.NoError(t, metrics.RecordPipelineMetrics(ctx))

	recorded, err := metrics.ListRecentMetrics(ctx, "sync", 10)
	require.NoError(t, err)
	require.NotEmpty(t, recorded)
	assert.Equal(t, "jobs_SYNCED", recorded[0].Name)
	assert.Equal(t, float64(1), recorded[0].Value)

	retryGauges, err := metrics.ListRecentMetrics(ctx, "retry", 10)
	require.NoError(t, err)
	require.Len(t, retryGauges, 1)
	assert.Equal(t, "active_tasks", retryGauges[0].Name)
}
