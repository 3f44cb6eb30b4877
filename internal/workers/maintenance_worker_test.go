package workers

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/db"
	"docsync/internal/models"
	"docsync/internal/repositories"
	"docsync/internal/retry"
	"docsync/internal/services"
)

type stubVectors struct{ repositories.VectorRepository }

func (stubVectors) Ping(context.Context) error { return nil }

type stubProvider struct{}

func (stubProvider) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (stubProvider) Dimension() int                                       { return 3 }
func (stubProvider) Ping(context.Context) error                           { return nil }

func newWorkerEnv(t *testing.T) (*MaintenanceWorker, *repositories.SQLStore) {
	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)

	database, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store, err := repositories.NewSQLStore(database, db.DialectSQLite, logger)
	require.NoError(t, err)

	scheduler := retry.NewScheduler(logger, retry.WithSweepPeriod(time.Hour))
	t.Cleanup(scheduler.Close)
	metrics := services.NewMetricsService(store, stubVectors{}, stubProvider{}, scheduler, logger)

	worker := NewMaintenanceWorker(MaintenanceWorkerConfig{
		WorkerConfig: WorkerConfig{
			WorkerName:      "maintenance",
			Interval:        10 * time.Millisecond,
			ShutdownTimeout: time.Second,
		},
		Store:            store,
		Metrics:          metrics,
		MetricsRetention: 24 * time.Hour,
		Logger:           logger,
	})
	return worker, store
}

func TestMaintenanceWorkerSweepRecordsAndPrunes(t *testing.T) {
	worker, store := newWorkerEnv(t)
	ctx := context.Background()

	// An old measurement past the retention window.
	require.NoError(t, store.RecordMetric(ctx, &models.SystemMetric{
		Component: "sync", Name: "jobs_SYNCED", Value: 1,
		RecordedAt: time.Now().Add(-48 * time.Hour),
	}))

	require.NoError(t, worker.RunOnce(ctx))

	// The sweep recorded fresh gauges and removed the stale row.
	recent, err := store.ListRecentMetrics(ctx, "retry", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "active_tasks", recent[0].Name)

	// Every component's latest probe is persisted.
	health, err := store.ListHealth(ctx)
	require.NoError(t, err)
	require.Len(t, health, 3)
	for _, h := range health {
		assert.True(t, h.Healthy, "component %s reported unhealthy", h.Component)
	}

	old, err := store.ListRecentMetrics(ctx, "sync", 100)
	require.NoError(t, err)
	for _, m := range old {
		assert.True(t, m.RecordedAt.After(time.Now().Add(-time.Hour)),
			"stale metric %s survived the prune", m.Name)
	}

	stats := worker.Stats()
	assert.Equal(t, int64(1), stats.RunsCompleted)
	assert.Equal(t, int64(1), stats.RunsSucceeded)
}

func TestMaintenanceWorkerLifecycle(t *testing.T) {
	worker, _ := newWorkerEnv(t)
	ctx := context.Background()

	require.NoError(t, worker.Start(ctx))
	assert.True(t, worker.IsRunning())

	// Starting twice is rejected.
	err := worker.Start(ctx)
	require.Error(t, err)

	// The ticker fires at least once before we stop.
	require.Eventually(t, func() bool {
		return worker.Stats().RunsCompleted > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, worker.Stop(ctx))
	assert.False(t, worker.IsRunning())

	// Stopping an idle worker is a no-op.
	require.NoError(t, worker.Stop(ctx))
}

func TestWorkerPoolManagesWorkers(t *testing.T) {
	worker, _ := newWorkerEnv(t)
	pool := NewWorkerPool()
	pool.AddWorker(worker)
	require.Equal(t, 1, pool.Count())

	ctx := context.Background()
	require.NoError(t, pool.StartAll(ctx))
	assert.Same(t, Worker(worker), pool.GetWorker("maintenance"))
	assert.Nil(t, pool.GetWorker("absent"))

	stats := pool.GetAllStats()
	require.Len(t, stats, 1)
	assert.True(t, stats[0].IsRunning)

	require.NoError(t, pool.StopAll(ctx))
	assert.False(t, worker.IsRunning())
}
