// Package workers runs periodic background maintenance alongside the HTTP
// server.
package workers

import (
	"context"
	"sync"
	"time"
)

// Worker is a long-running background task with lifecycle control.
type Worker interface {
	// Start begins processing. It returns immediately; work runs in
	// goroutines until Stop or context cancellation.
	Start(ctx context.Context) error

	// Stop shuts the worker down and waits for in-flight work to finish.
	Stop(ctx context.Context) error

	// Name returns the worker's name.
	Name() string

	// IsRunning reports whether the worker is currently running.
	IsRunning() bool

	// Stats returns worker statistics.
	Stats() WorkerStats
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	WorkerName    string        `json:"worker_name"`
	RunsCompleted int64         `json:"runs_completed"`
	RunsSucceeded int64         `json:"runs_succeeded"`
	RunsFailed    int64         `json:"runs_failed"`
	LastRunTime   time.Time     `json:"last_run_time,omitempty"`
	Uptime        time.Duration `json:"uptime"`
	IsRunning     bool          `json:"is_running"`
}

// WorkerConfig holds configuration common to workers.
type WorkerConfig struct {
	// WorkerName identifies this worker instance.
	WorkerName string

	// Interval is the period between runs.
	Interval time.Duration

	// ShutdownTimeout bounds how long Stop waits for an in-flight run.
	ShutdownTimeout time.Duration
}

// DefaultWorkerConfig returns a worker configuration with sensible defaults.
func DefaultWorkerConfig(workerName string) WorkerConfig {
	return WorkerConfig{
		WorkerName:      workerName,
		Interval:        time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}

// BaseWorker provides lifecycle state and counters for concrete workers.
type BaseWorker struct {
	config  WorkerConfig
	running bool
	mu      sync.RWMutex

	runsCompleted int64
	runsSucceeded int64
	runsFailed    int64
	startTime     time.Time
	lastRunTime   time.Time
	statsMu       sync.RWMutex
}

// NewBaseWorker creates a new base worker.
func NewBaseWorker(config WorkerConfig) *BaseWorker {
	return &BaseWorker{config: config}
}

// Name returns the worker's name.
func (w *BaseWorker) Name() string {
	return w.config.WorkerName
}

// IsRunning reports whether the worker is currently running.
func (w *BaseWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *BaseWorker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = running
	if running {
		w.startTime = time.Now()
	}
}

// Stats returns worker statistics.
func (w *BaseWorker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	var uptime time.Duration
	if !w.startTime.IsZero() {
		uptime = time.Since(w.startTime)
	}
	return WorkerStats{
		WorkerName:    w.config.WorkerName,
		RunsCompleted: w.runsCompleted,
		RunsSucceeded: w.runsSucceeded,
		RunsFailed:    w.runsFailed,
		LastRunTime:   w.lastRunTime,
		Uptime:        uptime,
		IsRunning:     w.IsRunning(),
	}
}

func (w *BaseWorker) recordRun(err error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.runsCompleted++
	if err != nil {
		w.runsFailed++
	} else {
		w.runsSucceeded++
	}
	w.lastRunTime = time.Now()
}

// Config returns the worker configuration.
func (w *BaseWorker) Config() WorkerConfig {
	return w.config
}

// WorkerPool manages a set of workers as one unit.
type WorkerPool struct {
	workers []Worker
	mu      sync.RWMutex
}

// NewWorkerPool creates an empty pool.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// AddWorker adds a worker to the pool.
func (p *WorkerPool) AddWorker(worker Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, worker)
}

// StartAll starts every worker, failing on the first error.
func (p *WorkerPool) StartAll(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, worker := range p.workers {
		if err := worker.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every worker concurrently, returning the first error.
func (p *WorkerPool) StopAll(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(p.workers))
	for _, worker := range p.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if err := w.Stop(ctx); err != nil {
				errChan <- err
			}
		}(worker)
	}
	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

// GetWorker returns a worker by name, or nil.
func (p *WorkerPool) GetWorker(name string) Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, worker := range p.workers {
		if worker.Name() == name {
			return worker
		}
	}
	return nil
}

// GetAllStats returns statistics for every worker in the pool.
func (p *WorkerPool) GetAllStats() []WorkerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := make([]WorkerStats, 0, len(p.workers))
	for _, worker := range p.workers {
		stats = append(stats, worker.Stats())
	}
	return stats
}

// Count returns the number of workers in the pool.
func (p *WorkerPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// WorkerError describes a failure in a named worker.
type WorkerError struct {
	WorkerName string
	Operation  string
	Err        error
	Message    string
}

func (e *WorkerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.WorkerName + ":" + e.Operation
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewWorkerError creates a new worker error.
func NewWorkerError(workerName, operation string, err error, message string) *WorkerError {
	return &WorkerError{WorkerName: workerName, Operation: operation, Err: err, Message: message}
}
