package handlers

import (
	"log"
	"net/http"
	"time"

	"docsync/internal/services"
)

// SearchHandler handles HTTP requests for search operations.
type SearchHandler struct {
	search *services.SearchService
	logger *log.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(search *services.SearchService, logger *log.Logger) *SearchHandler {
	return &SearchHandler{search: search, logger: logger}
}

// Search handles GET /search?q=...&collectionId=...&limit=...
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	results, err := h.search.Search(r.Context(), r.URL.Query().Get("q"), services.SearchOptions{
		CollectionID: queryValue(r, "collectionId", "collection_id"),
		Limit:        queryInt(r, "limit", 10),
	})
	if err != nil {
		sendError(h.logger, w, err)
		return
	}

	h.logger.Printf("Search completed: %d results, %.2fms total",
		len(results), time.Since(started).Seconds()*1000)
	sendData(h.logger, w, http.StatusOK, results, nil)
}

// SearchPaginated handles GET /search/paginated with page/limit/sort/order.
func (h *SearchHandler) SearchPaginated(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	results, pagination, err := h.search.SearchPaginated(r.Context(), query.Get("q"),
		services.PaginatedSearchOptions{
			CollectionID: queryValue(r, "collectionId", "collection_id"),
			Page:         queryInt(r, "page", 1),
			Limit:        queryInt(r, "limit", 10),
			Sort:         query.Get("sort"),
			Order:        query.Get("order"),
		})
	if err != nil {
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusOK, results, pagination)
}

// searchRequest is the POST /search body.
type searchRequest struct {
	Query        string `json:"query"`
	CollectionID string `json:"collection_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Mode         string `json:"mode,omitempty"` // "vector" (default) or "keyword"
}

// SearchPost handles POST /search, selecting vector or keyword retrieval.
func (h *SearchHandler) SearchPost(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		sendValidationError(h.logger, w, "invalid request body")
		return
	}

	if req.Mode == "" {
		req.Mode = "vector"
	}

	started := time.Now()
	var (
		results []*services.SearchResult
		err     error
	)
	switch req.Mode {
	case "vector":
		results, err = h.search.Search(r.Context(), req.Query, services.SearchOptions{
			CollectionID: req.CollectionID,
			Limit:        req.Limit,
		})
	case "keyword":
		results, err = h.search.KeywordSearch(r.Context(), req.Query, req.CollectionID, req.Limit)
	default:
		sendValidationError(h.logger, w, "unsupported search mode: "+req.Mode)
		return
	}
	if err != nil {
		sendError(h.logger, w, err)
		return
	}

	h.logger.Printf("Search (%s) completed: %d results, %.2fms total",
		req.Mode, len(results), time.Since(started).Seconds()*1000)
	sendData(h.logger, w, http.StatusOK, results, nil)
}
