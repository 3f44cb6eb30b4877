// Package retry schedules delayed, classified, bounded retries of failed
// document sync attempts. Tasks live only in memory; restart recovery is
// driven by the durable sync job records, not by this scheduler.
package retry

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsync/internal/models"
)

// Strategy bounds and shapes the retry schedule for one document.
type Strategy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        bool
}

// DefaultStrategy returns the service-wide defaults.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		MaxDelay:      60 * time.Second,
		Jitter:        true,
	}
}

// Delay computes the delay before attempt number `attempt` (0-based).
func (s Strategy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(s.BaseDelay) * pow(s.BackoffFactor, attempt))
	if d > s.MaxDelay || d <= 0 {
		d = s.MaxDelay
	}
	if s.Jitter {
		d += time.Duration(rand.Int63n(int64(d)/10 + 1))
	}
	return d
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Callback is invoked when a scheduled retry fires. Its error determines
// whether the retry counts as successful in the statistics.
type Callback func(ctx context.Context, docID string) error

// Task is one armed retry.
type Task struct {
	ID        string
	DocID     string
	Category  models.ErrorCategory
	Attempt   int
	FireAt    time.Time
	CreatedAt time.Time

	timer *time.Timer
}

// Stats aggregates scheduler activity.
type Stats struct {
	TotalRetries           int64                          `json:"total_retries"`
	SuccessfulRetries      int64                          `json:"successful_retries"`
	FailedRetries          int64                          `json:"failed_retries"`
	AverageRetryTimeMs     float64                        `json:"average_retry_time_ms"`
	RetryCountByCategory   map[models.ErrorCategory]int64 `json:"retry_count_by_category"`
	SuccessCountByCategory map[models.ErrorCategory]int64 `json:"success_count_by_category"`
	LastRetryAt            time.Time                      `json:"last_retry_at,omitempty"`
}

// Scheduler arms delayed retry callbacks and tracks their outcomes.
type Scheduler struct {
	logger *log.Logger

	mu    sync.Mutex
	tasks map[string]*Task

	statsMu        sync.Mutex
	totalRetries   int64
	successRetries int64
	failedRetries  int64
	totalRetryTime time.Duration
	countByCat     map[models.ErrorCategory]int64
	successByCat   map[models.ErrorCategory]int64
	lastRetryAt    time.Time

	stuckTTL    time.Duration
	sweepPeriod time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithStuckTTL overrides the age after which an unfired task is discarded
// (default 24 hours).
func WithStuckTTL(ttl time.Duration) Option {
	return func(s *Scheduler) { s.stuckTTL = ttl }
}

// WithSweepPeriod overrides the stuck-task sweep interval (default 1 hour).
func WithSweepPeriod(period time.Duration) Option {
	return func(s *Scheduler) { s.sweepPeriod = period }
}

// NewScheduler creates a scheduler and starts its stuck-task sweeper.
func NewScheduler(logger *log.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       logger,
		tasks:        make(map[string]*Task),
		countByCat:   make(map[models.ErrorCategory]int64),
		successByCat: make(map[models.ErrorCategory]int64),
		stuckTTL:     24 * time.Hour,
		sweepPeriod:  time.Hour,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Close stops the sweeper and cancels all pending tasks.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, id)
	}
}

// Schedule arms a delayed retry for docID and returns the task id. Categories
// that are not retriable are rejected; the caller is expected to have moved
// the job to its dead state instead.
func (s *Scheduler) Schedule(docID string, category models.ErrorCategory, attempt int, strategy Strategy, cb Callback) (string, bool) {
	if !category.IsRetriable() {
		return "", false
	}
	if attempt >= strategy.MaxRetries {
		return "", false
	}

	delay := strategy.Delay(attempt)
	task := &Task{
		ID:        "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		DocID:     docID,
		Category:  category,
		Attempt:   attempt,
		FireAt:    time.Now().Add(delay),
		CreatedAt: time.Now(),
	}

	task.timer = time.AfterFunc(delay, func() { s.fire(task, cb) })

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.logger.Printf("Scheduled retry %s for doc %s in %v (attempt %d, category %s)",
		task.ID, docID, delay.Round(time.Millisecond), attempt+1, category)
	return task.ID, true
}

func (s *Scheduler) fire(task *Task, cb Callback) {
	s.mu.Lock()
	if _, ok := s.tasks[task.ID]; !ok {
		// Canceled before firing.
		s.mu.Unlock()
		return
	}
	delete(s.tasks, task.ID)
	s.mu.Unlock()

	start := time.Now()
	err := cb(context.Background(), task.DocID)
	elapsed := time.Since(start)

	s.statsMu.Lock()
	s.totalRetries++
	s.totalRetryTime += elapsed
	s.countByCat[task.Category]++
	s.lastRetryAt = time.Now()
	if err != nil {
		s.failedRetries++
	} else {
		s.successRetries++
		s.successByCat[task.Category]++
	}
	s.statsMu.Unlock()

	if err != nil {
		s.logger.Printf("Retry %s for doc %s failed after %.0fms: %v", task.ID, task.DocID, elapsed.Seconds()*1000, err)
	} else {
		s.logger.Printf("Retry %s for doc %s succeeded after %.0fms", task.ID, task.DocID, elapsed.Seconds()*1000)
	}
}

// Cancel disarms one task. Returns true if the task was still pending.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, taskID)
	return true
}

// CancelAllForDoc disarms every pending task for a document and returns the
// number canceled.
func (s *Scheduler) CancelAllForDoc(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	canceled := 0
	for id, task := range s.tasks {
		if task.DocID == docID {
			task.timer.Stop()
			delete(s.tasks, id)
			canceled++
		}
	}
	return canceled
}

// GetTasksByDocID returns the pending tasks for a document.
func (s *Scheduler) GetTasksByDocID(docID string) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, task := range s.tasks {
		if task.DocID == docID {
			out = append(out, task)
		}
	}
	return out
}

// GetActiveTaskCount returns the number of armed tasks.
func (s *Scheduler) GetActiveTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stats returns a snapshot of retry statistics.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	var avg float64
	if s.totalRetries > 0 {
		avg = float64(s.totalRetryTime.Milliseconds()) / float64(s.totalRetries)
	}
	countByCat := make(map[models.ErrorCategory]int64, len(s.countByCat))
	for k, v := range s.countByCat {
		countByCat[k] = v
	}
	successByCat := make(map[models.ErrorCategory]int64, len(s.successByCat))
	for k, v := range s.successByCat {
		successByCat[k] = v
	}
	return Stats{
		TotalRetries:           s.totalRetries,
		SuccessfulRetries:      s.successRetries,
		FailedRetries:          s.failedRetries,
		AverageRetryTimeMs:     avg,
		RetryCountByCategory:   countByCat,
		SuccessCountByCategory: successByCat,
		LastRetryAt:            s.lastRetryAt,
	}
}

func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(s.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepStuck()
		}
	}
}

// sweepStuck discards tasks that should have fired long ago but never did.
func (s *Scheduler) sweepStuck() {
	cutoff := time.Now().Add(-s.stuckTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, task := range s.tasks {
		if task.CreatedAt.Before(cutoff) {
			task.timer.Stop()
			delete(s.tasks, id)
			swept++
		}
	}
	if swept > 0 {
		s.logger.Printf("Swept %d stuck retry tasks", swept)
	}
}
