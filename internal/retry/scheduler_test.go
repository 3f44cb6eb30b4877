package retry

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/models"
)

// ============================================================================
// Test Setup
// ============================================================================

func newTestScheduler(t *testing.T) *Scheduler {
	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)
	s := NewScheduler(logger, WithSweepPeriod(time.Hour))
	t.Cleanup(s.Close)
	return s
}

func fastStrategy() Strategy {
	return Strategy{MaxRetries: 3, BaseDelay: 5 * time.Millisecond, BackoffFactor: 2, MaxDelay: 50 * time.Millisecond}
}

// ============================================================================
// Tests
// ============================================================================

func TestSchedule_FiresCallback(t *testing.T) {
	s := newTestScheduler(t)

	fired := make(chan string, 1)
	taskID, ok := s.Schedule("doc_1", models.CategoryTimeout, 0, fastStrategy(),
		func(ctx context.Context, docID string) error {
			fired <- docID
			return nil
		})
	require.True(t, ok)
	assert.NotEmpty(t, taskID)
	assert.Equal(t, 1, s.GetActiveTaskCount())

	select {
	case docID := <-fired:
		assert.Equal(t, "doc_1", docID)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	assert.Eventually(t, func() bool { return s.GetActiveTaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSchedule_RejectsNonRetriableCategories(t *testing.T) {
	s := newTestScheduler(t)
	cb := func(ctx context.Context, docID string) error { return nil }

	_, ok := s.Schedule("doc_1", models.CategoryInvalidInput, 0, fastStrategy(), cb)
	assert.False(t, ok)
	_, ok = s.Schedule("doc_1", models.CategoryTerminal, 0, fastStrategy(), cb)
	assert.False(t, ok)
	assert.Equal(t, 0, s.GetActiveTaskCount())
}

func TestSchedule_RejectsWhenAttemptsExhausted(t *testing.T) {
	s := newTestScheduler(t)
	cb := func(ctx context.Context, docID string) error { return nil }

	_, ok := s.Schedule("doc_1", models.CategoryTimeout, 3, fastStrategy(), cb)
	assert.False(t, ok)
}

func TestCancel_DisarmsTask(t *testing.T) {
	s := newTestScheduler(t)

	var fired atomic.Int32
	strategy := Strategy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}
	taskID, ok := s.Schedule("doc_1", models.CategoryRateLimited, 0, strategy,
		func(ctx context.Context, docID string) error {
			fired.Add(1)
			return nil
		})
	require.True(t, ok)

	assert.True(t, s.Cancel(taskID))
	assert.False(t, s.Cancel(taskID))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancelAllForDoc(t *testing.T) {
	s := newTestScheduler(t)
	strategy := Strategy{MaxRetries: 5, BaseDelay: time.Minute, BackoffFactor: 2, MaxDelay: time.Hour}
	cb := func(ctx context.Context, docID string) error { return nil }

	s.Schedule("doc_a", models.CategoryTimeout, 0, strategy, cb)
	s.Schedule("doc_a", models.CategoryTimeout, 1, strategy, cb)
	s.Schedule("doc_b", models.CategoryTimeout, 0, strategy, cb)

	assert.Len(t, s.GetTasksByDocID("doc_a"), 2)
	assert.Equal(t, 2, s.CancelAllForDoc("doc_a"))
	assert.Empty(t, s.GetTasksByDocID("doc_a"))
	assert.Len(t, s.GetTasksByDocID("doc_b"), 1)
}

func TestStats_TrackOutcomesByCategory(t *testing.T) {
	s := newTestScheduler(t)

	done := make(chan struct{}, 2)
	s.Schedule("doc_ok", models.CategoryTimeout, 0, fastStrategy(),
		func(ctx context.Context, docID string) error {
			done <- struct{}{}
			return nil
		})
	s.Schedule("doc_bad", models.CategoryRateLimited, 0, fastStrategy(),
		func(ctx context.Context, docID string) error {
			done <- struct{}{}
			return errors.New("still failing")
		})

	<-done
	<-done
	// Stats are recorded after the callback returns.
	assert.Eventually(t, func() bool {
		return s.Stats().TotalRetries == 2
	}, time.Second, 5*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.SuccessfulRetries)
	assert.Equal(t, int64(1), stats.FailedRetries)
	assert.Equal(t, int64(1), stats.RetryCountByCategory[models.CategoryTimeout])
	assert.Equal(t, int64(1), stats.RetryCountByCategory[models.CategoryRateLimited])
	assert.Equal(t, int64(1), stats.SuccessCountByCategory[models.CategoryTimeout])
	assert.Zero(t, stats.SuccessCountByCategory[models.CategoryRateLimited])
	assert.False(t, stats.LastRetryAt.IsZero())
}

func TestStrategy_DelayGrowsAndCaps(t *testing.T) {
	s := Strategy{MaxRetries: 10, BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, s.Delay(0))
	assert.Equal(t, 2*time.Second, s.Delay(1))
	assert.Equal(t, 4*time.Second, s.Delay(2))
	assert.Equal(t, 8*time.Second, s.Delay(3))
	assert.Equal(t, 10*time.Second, s.Delay(4))
	assert.Equal(t, 10*time.Second, s.Delay(20))
}

func TestStrategy_JitterStaysBounded(t *testing.T) {
	s := Strategy{MaxRetries: 3, BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 50; i++ {
		d := s.Delay(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 2*time.Second+200*time.Millisecond+time.Millisecond)
	}
}

func TestSweepStuck_DiscardsOldTasks(t *testing.T) {
	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)
	s := NewScheduler(logger, WithStuckTTL(0), WithSweepPeriod(time.Hour))
	defer s.Close()

	strategy := Strategy{MaxRetries: 3, BaseDelay: time.Hour, BackoffFactor: 2, MaxDelay: time.Hour}
	s.Schedule("doc_1", models.CategoryTimeout, 0, strategy,
		func(ctx context.Context, docID string) error { return nil })

	time.Sleep(5 * time.Millisecond)
	s.sweepStuck()
	assert.Equal(t, 0, s.GetActiveTaskCount())
}
