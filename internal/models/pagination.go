package models

// Pagination describes the page of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// NewPagination computes the derived fields for a page of `total` items.
func NewPagination(page, limit int, total int64) Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}

const (
	// DefaultPageLimit is applied when a list request omits `limit`.
	DefaultPageLimit = 20
	// MaxPageLimit caps `limit` on list and search endpoints.
	MaxPageLimit = 100
)

// ListOptions carries pagination and ordering for list queries.
type ListOptions struct {
	Page  int
	Limit int
	Sort  string
	Order string // "asc" or "desc"
}

// Normalize clamps the options into their allowed ranges.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if o.Order != "asc" && o.Order != "desc" {
		o.Order = "desc"
	}
}

// Offset returns the row offset for the current page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}
