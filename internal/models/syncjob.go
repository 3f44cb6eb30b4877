package models

import (
	"time"
)

// SyncState is the durable per-document ingestion state. Every transition is
// persisted before the next stage's side effect is attempted, so after a
// restart a job resumes from the last recorded state.
type SyncState string

const (
	SyncStateNew      SyncState = "NEW"
	SyncStateSplitOK  SyncState = "SPLIT_OK"
	SyncStateEmbedOK  SyncState = "EMBED_OK"
	SyncStateSynced   SyncState = "SYNCED"
	SyncStateFailed   SyncState = "FAILED"
	SyncStateRetrying SyncState = "RETRYING"
	SyncStateDead     SyncState = "DEAD"
)

// IsValid checks if the sync state is valid.
func (s SyncState) IsValid() bool {
	switch s {
	case SyncStateNew, SyncStateSplitOK, SyncStateEmbedOK, SyncStateSynced,
		SyncStateFailed, SyncStateRetrying, SyncStateDead:
		return true
	default:
		return false
	}
}

// String returns the string representation of the sync state.
func (s SyncState) String() string {
	return string(s)
}

// IsTerminal returns true for states a job never leaves.
func (s SyncState) IsTerminal() bool {
	return s == SyncStateSynced || s == SyncStateDead
}

// IsActive reports whether the job may be executing a stage.
func (s SyncState) IsActive() bool {
	switch s {
	case SyncStateNew, SyncStateSplitOK, SyncStateEmbedOK, SyncStateRetrying:
		return true
	default:
		return false
	}
}

// SyncEvent drives transitions on a sync job.
type SyncEvent string

const (
	EventSplitOK SyncEvent = "split_ok"
	EventEmbedOK SyncEvent = "embed_ok"
	EventSynced  SyncEvent = "synced"
	EventFail    SyncEvent = "fail"
	EventRetry   SyncEvent = "retry"
	EventRetryOK SyncEvent = "retry_ok"
	EventDead    SyncEvent = "dead"
)

// SyncJob is the durable record of a document's ingestion progress and
// failure history. One job per live document, keyed by DocID.
type SyncJob struct {
	DocID         string        `json:"doc_id"`
	Status        SyncState     `json:"status"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// PriorState remembers the last completed stage while a job is in
	// FAILED or RETRYING, so a retry resumes where it left off.
	PriorState SyncState `json:"prior_state,omitempty"`
}

// SyncJobDTO represents the API view of a sync job.
type SyncJobDTO struct {
	DocID         string `json:"doc_id"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ToDTO converts SyncJob domain model to DTO.
func (j *SyncJob) ToDTO() SyncJobDTO {
	return SyncJobDTO{
		DocID:         j.DocID,
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		LastError:     j.LastError,
		ErrorCategory: string(j.ErrorCategory),
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     j.UpdatedAt.Format(time.RFC3339),
	}
}

// CanRetry reports whether another attempt is allowed under maxRetries.
func (j *SyncJob) CanRetry(maxRetries int) bool {
	return j.ErrorCategory.IsRetriable() && j.Attempts < maxRetries
}

// SystemMetric is a point-in-time measurement recorded by the core for its
// own components.
type SystemMetric struct {
	Component  string    `json:"component"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SystemHealth records the outcome of a component health probe.
type SystemHealth struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
