package workers

import (
	"context"
	"log"
	"time"

	"docsync/internal/models"
	"docsync/internal/repositories"
	"docsync/internal/services"
)

// MaintenanceWorker periodically snapshots pipeline gauges, prunes metric rows
// past their retention window, and purges long-finished sync jobs.
type MaintenanceWorker struct {
	*BaseWorker
	store        repositories.RelationalStore
	metrics      *services.MetricsService
	retention    time.Duration
	jobRetention time.Duration
	logger       *log.Logger
	done         chan struct{}
	stopped      chan struct{}
}

// MaintenanceWorkerConfig holds configuration for the maintenance worker.
type MaintenanceWorkerConfig struct {
	WorkerConfig     WorkerConfig
	Store            repositories.RelationalStore
	Metrics          *services.MetricsService
	MetricsRetention time.Duration
	JobRetention     time.Duration
	Logger           *log.Logger
}

// NewMaintenanceWorker creates the maintenance worker.
func NewMaintenanceWorker(cfg MaintenanceWorkerConfig) *MaintenanceWorker {
	retention := cfg.MetricsRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	jobRetention := cfg.JobRetention
	if jobRetention <= 0 {
		jobRetention = 24 * time.Hour
	}
	return &MaintenanceWorker{
		BaseWorker:   NewBaseWorker(cfg.WorkerConfig),
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		retention:    retention,
		jobRetention: jobRetention,
		logger:       cfg.Logger,
	}
}

// Start begins the maintenance loop.
func (w *MaintenanceWorker) Start(ctx context.Context) error {
	if w.IsRunning() {
		return NewWorkerError(w.Name(), "start", nil, "worker already running")
	}

	w.setRunning(true)
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	w.logger.Printf("Maintenance worker started (interval %s, retention %s)",
		w.config.Interval, w.retention)

	go w.run(ctx)
	return nil
}

// Stop shuts the loop down and waits for an in-flight sweep, bounded by the
// shutdown timeout.
func (w *MaintenanceWorker) Stop(ctx context.Context) error {
	if !w.IsRunning() {
		return nil
	}
	close(w.done)

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	select {
	case <-w.stopped:
	case <-shutdownCtx.Done():
		w.setRunning(false)
		return NewWorkerError(w.Name(), "stop", shutdownCtx.Err(), "")
	}
	w.setRunning(false)
	w.logger.Printf("Maintenance worker stopped")
	return nil
}

func (w *MaintenanceWorker) run(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.recordRun(w.sweep(ctx))
		}
	}
}

// RunOnce executes a single sweep immediately. Used at startup and by tests.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) error {
	err := w.sweep(ctx)
	w.recordRun(err)
	return err
}

func (w *MaintenanceWorker) sweep(ctx context.Context) error {
	if err := w.metrics.RecordPipelineMetrics(ctx); err != nil {
		w.logger.Printf("Maintenance: recording pipeline metrics failed: %v", err)
		return err
	}
	if err := w.metrics.RecordHealthSnapshot(ctx); err != nil {
		w.logger.Printf("Maintenance: recording health snapshot failed: %v", err)
		return err
	}

	cutoff := time.Now().Add(-w.retention).Unix()
	pruned, err := w.store.PruneMetricsBefore(ctx, cutoff)
	if err != nil {
		w.logger.Printf("Maintenance: metric prune failed: %v", err)
		return err
	}
	if pruned > 0 {
		w.logger.Printf("Maintenance: pruned %d metric rows", pruned)
	}

	// Synced jobs carry no further state worth keeping; a resync recreates
	// them. Documents and chunks are untouched.
	jobCutoff := time.Now().Add(-w.jobRetention).Unix()
	purged, err := w.store.PruneSyncJobsBefore(ctx, models.SyncStateSynced, jobCutoff)
	if err != nil {
		w.logger.Printf("Maintenance: sync job purge failed: %v", err)
		return err
	}
	if purged > 0 {
		w.logger.Printf("Maintenance: purged %d completed sync jobs", purged)
	}
	return nil
}
