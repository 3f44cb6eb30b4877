package models

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Collection groups documents. Its name is unique case-insensitively; once
// soft-deleted a collection is never resurrected.
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"deleted"`
}

// NewCollectionID mints an opaque collection id.
func NewCollectionID() string {
	return "col_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CollectionDTO represents the API view of a collection.
type CollectionDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ToDTO converts Collection domain model to DTO.
func (c *Collection) ToDTO() CollectionDTO {
	return CollectionDTO{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	}
}

// reservedCollectionNames cannot be used regardless of casing.
var reservedCollectionNames = map[string]bool{
	"admin":    true,
	"system":   true,
	"internal": true,
	"default":  true,
}

const maxCollectionNameLen = 255

// ValidateCollectionName enforces the naming rules: 1-255 runes, Unicode
// letters/digits plus `._-` and space, no reserved names, and no leading,
// trailing, or consecutive dots.
func ValidateCollectionName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "collection name is required"}
	}
	runes := []rune(name)
	if len(runes) > maxCollectionNameLen {
		return &ValidationError{Field: "name", Message: "collection name cannot exceed 255 characters"}
	}
	if reservedCollectionNames[strings.ToLower(name)] {
		return &ValidationError{Field: "name", Message: "collection name is reserved: " + name}
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return &ValidationError{Field: "name", Message: "collection name cannot start or end with a dot"}
	}
	if strings.Contains(name, "..") {
		return &ValidationError{Field: "name", Message: "collection name cannot contain consecutive dots"}
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") {
		return &ValidationError{Field: "name", Message: "collection name cannot start or end with a space"}
	}
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '.', '_', '-', ' ':
			continue
		}
		return &ValidationError{Field: "name", Message: "collection name contains invalid character: " + string(r)}
	}
	return nil
}

// Validate checks if the collection is valid.
func (c *Collection) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "collection ID is required"}
	}
	return ValidateCollectionName(c.Name)
}

// CollectionRequest represents a request to create or update a collection.
type CollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate validates the collection request.
func (cr *CollectionRequest) Validate() error {
	return ValidateCollectionName(cr.Name)
}

// CollectionStats summarizes a collection's contents.
type CollectionStats struct {
	CollectionID  string `json:"collection_id"`
	Name          string `json:"name"`
	DocumentCount int64  `json:"document_count"`
	ChunkCount    int64  `json:"chunk_count"`
	TotalSize     int64  `json:"total_size"`
}
