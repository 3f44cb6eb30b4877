package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DocumentStatus represents the sync state of a document as exposed to callers.
type DocumentStatus string

const (
	DocumentStatusNew     DocumentStatus = "new"
	DocumentStatusSyncing DocumentStatus = "syncing"
	DocumentStatusSynced  DocumentStatus = "synced"
	DocumentStatusFailed  DocumentStatus = "failed"
)

// IsValid checks if document status is valid.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusNew, DocumentStatusSyncing, DocumentStatusSynced, DocumentStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of document status.
func (s DocumentStatus) String() string {
	return string(s)
}

// Document is content-addressed: its id is derived from the content hash, so a
// content change mints a new document and the old one is hard-deleted.
// Metadata-only updates keep the id stable.
type Document struct {
	ID           string         `json:"id"`
	CollectionID string         `json:"collection_id"`
	Key          string         `json:"key"` // source locator, unique per collection
	Name         string         `json:"name"`
	Mime         string         `json:"mime,omitempty"`
	SizeBytes    int64          `json:"size_bytes"`
	ContentHash  string         `json:"content_hash"`
	Content      string         `json:"-"`
	Status       DocumentStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HashContent returns the hex sha256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewDocumentID derives the document id from a content hash.
func NewDocumentID(contentHash string) string {
	if len(contentHash) > 24 {
		contentHash = contentHash[:24]
	}
	return "doc_" + contentHash
}

// DocumentDTO represents the API view of a document.
type DocumentDTO struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	Key          string `json:"key"`
	Name         string `json:"name"`
	Mime         string `json:"mime,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	ContentHash  string `json:"content_hash"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ToDTO converts Document domain model to DTO.
func (d *Document) ToDTO() DocumentDTO {
	return DocumentDTO{
		ID:           d.ID,
		CollectionID: d.CollectionID,
		Key:          d.Key,
		Name:         d.Name,
		Mime:         d.Mime,
		SizeBytes:    d.SizeBytes,
		ContentHash:  d.ContentHash,
		Status:       string(d.Status),
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
	}
}

// Validate checks if the document is valid.
func (d *Document) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "id", Message: "document ID is required"}
	}
	if d.CollectionID == "" {
		return &ValidationError{Field: "collection_id", Message: "collection ID is required"}
	}
	if d.Key == "" {
		return &ValidationError{Field: "key", Message: "document key is required"}
	}
	if d.Name == "" {
		return &ValidationError{Field: "name", Message: "document name is required"}
	}
	if !d.Status.IsValid() {
		return &ValidationError{Field: "status", Message: "invalid document status: " + string(d.Status)}
	}
	return nil
}

// DocumentRequest represents a request to ingest a document.
type DocumentRequest struct {
	CollectionID string `json:"collection_id"`
	Key          string `json:"key"`
	Name         string `json:"name"`
	Mime         string `json:"mime,omitempty"`
	Content      string `json:"content"`
}

// Validate validates the document request.
func (dr *DocumentRequest) Validate() error {
	if dr.CollectionID == "" {
		return &ValidationError{Field: "collection_id", Message: "collection ID is required"}
	}
	if dr.Key == "" {
		return &ValidationError{Field: "key", Message: "document key is required"}
	}
	if dr.Name == "" {
		return &ValidationError{Field: "name", Message: "document name is required"}
	}
	if dr.Content == "" {
		return &ValidationError{Field: "content", Message: "document content is required"}
	}
	return nil
}

// DocumentFilter narrows document list queries.
type DocumentFilter struct {
	CollectionID string
	Status       DocumentStatus
	Search       string // matches against name and key
}
