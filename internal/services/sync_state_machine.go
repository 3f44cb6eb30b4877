// Package services holds the business logic: the ingestion pipeline and its
// state machine, cascade deletion, search, and the collection and document
// lifecycles.
package services

import (
	"context"
	"log"

	"golang.org/x/sync/singleflight"

	"docsync/internal/models"
	"docsync/internal/repositories"
)

// SyncStateMachine drives the durable per-document sync lifecycle. Every
// transition is persisted before the next stage's side effect runs, so a
// restart resumes each job from its last recorded state.
type SyncStateMachine struct {
	jobs       repositories.SyncJobRepository
	logger     *log.Logger
	maxRetries int

	// group coalesces concurrent sync triggers for the same document onto
	// one in-flight execution.
	group singleflight.Group
}

// NewSyncStateMachine creates the state machine over the job repository.
func NewSyncStateMachine(jobs repositories.SyncJobRepository, maxRetries int, logger *log.Logger) *SyncStateMachine {
	return &SyncStateMachine{jobs: jobs, maxRetries: maxRetries, logger: logger}
}

// CreateJob registers a new document's job in state NEW.
func (m *SyncStateMachine) CreateJob(ctx context.Context, docID string) (*models.SyncJob, error) {
	job := &models.SyncJob{DocID: docID, Status: models.SyncStateNew}
	if err := m.jobs.CreateSyncJob(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Printf("Sync job created for doc %s", docID)
	return job, nil
}

// GetJob fetches the job for a document.
func (m *SyncStateMachine) GetJob(ctx context.Context, docID string) (*models.SyncJob, error) {
	return m.jobs.GetSyncJob(ctx, docID)
}

// transition computes the next state for (state, event). The bool reports
// whether the event applies; events that don't apply in the current state are
// no-ops by design, so replays and races never corrupt a job.
func (m *SyncStateMachine) transition(job *models.SyncJob, event models.SyncEvent) (models.SyncState, bool) {
	switch event {
	case models.EventSplitOK:
		if job.Status == models.SyncStateNew {
			return models.SyncStateSplitOK, true
		}
	case models.EventEmbedOK:
		if job.Status == models.SyncStateSplitOK {
			return models.SyncStateEmbedOK, true
		}
	case models.EventSynced:
		if job.Status == models.SyncStateEmbedOK {
			return models.SyncStateSynced, true
		}
	case models.EventFail:
		if job.Status.IsActive() {
			return models.SyncStateFailed, true
		}
	case models.EventRetry:
		if job.Status == models.SyncStateFailed && job.CanRetry(m.maxRetries) {
			return models.SyncStateRetrying, true
		}
	case models.EventRetryOK:
		if job.Status == models.SyncStateRetrying {
			// Resume from the last completed stage.
			prior := job.PriorState
			if prior == "" {
				prior = models.SyncStateNew
			}
			return prior, true
		}
	case models.EventDead:
		if job.Status == models.SyncStateFailed && !job.CanRetry(m.maxRetries) {
			return models.SyncStateDead, true
		}
	}
	return job.Status, false
}

// HandleEvent applies one event to a document's job and persists the result.
// Events that don't apply in the current state return the job unchanged.
func (m *SyncStateMachine) HandleEvent(ctx context.Context, docID string, event models.SyncEvent, cause error) (*models.SyncJob, error) {
	job, err := m.jobs.GetSyncJob(ctx, docID)
	if err != nil {
		return nil, err
	}

	next, applies := m.transition(job, event)
	if !applies {
		m.logger.Printf("Event %s ignored for doc %s in state %s", event, docID, job.Status)
		return job, nil
	}

	prev := job.Status
	switch event {
	case models.EventFail:
		// Remember the last completed stage so a retry resumes there, but
		// never downgrade it: a failure while RETRYING keeps the original.
		if prev != models.SyncStateRetrying {
			job.PriorState = prev
		}
		job.Attempts++
		job.ErrorCategory = models.Classify(cause)
		if cause != nil {
			job.LastError = cause.Error()
		}
	case models.EventSynced:
		job.LastError = ""
		job.ErrorCategory = ""
		job.PriorState = ""
	case models.EventRetryOK:
		job.PriorState = ""
	}
	job.Status = next

	if err := m.jobs.UpdateSyncJob(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Printf("Sync job %s: %s --%s--> %s (attempts %d)", docID, prev, event, next, job.Attempts)
	return job, nil
}

// RunExclusive executes fn with at-most-one in-flight execution per document.
// Concurrent callers for the same document coalesce onto the running one and
// share its result.
func (m *SyncStateMachine) RunExclusive(docID string, fn func() error) error {
	_, err, _ := m.group.Do(docID, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// ListRecoverable returns every non-terminal job, oldest first. Called once on
// startup to resume interrupted work.
func (m *SyncStateMachine) ListRecoverable(ctx context.Context) ([]*models.SyncJob, error) {
	return m.jobs.ListSyncJobsByStates(ctx,
		models.SyncStateNew, models.SyncStateSplitOK, models.SyncStateEmbedOK,
		models.SyncStateFailed, models.SyncStateRetrying)
}

// DropJob removes a document's job, canceling nothing; callers cancel pending
// retries themselves.
func (m *SyncStateMachine) DropJob(ctx context.Context, docID string) error {
	return m.jobs.DeleteSyncJob(ctx, docID)
}
