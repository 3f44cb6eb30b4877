package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"docsync/internal/models"
	"docsync/internal/services"
)

// CollectionHandler handles HTTP requests for collection operations.
type CollectionHandler struct {
	collections *services.CollectionService
	logger      *log.Logger
}

// NewCollectionHandler creates a new collection handler.
func NewCollectionHandler(collections *services.CollectionService, logger *log.Logger) *CollectionHandler {
	return &CollectionHandler{collections: collections, logger: logger}
}

// CreateCollection handles POST /collections.
func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req models.CollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		sendValidationError(h.logger, w, "invalid request body")
		return
	}

	collection, err := h.collections.CreateCollection(r.Context(), &req)
	if err != nil {
		h.logger.Printf("Failed to create collection: %v", err)
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusCreated, collection.ToDTO(), nil)
}

// ListCollections handles GET /collections.
func (h *CollectionHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	collections, pagination, err := h.collections.ListCollections(r.Context(), listOptionsFromQuery(r))
	if err != nil {
		h.logger.Printf("Failed to list collections: %v", err)
		sendError(h.logger, w, err)
		return
	}

	dtos := make([]models.CollectionDTO, len(collections))
	for i, c := range collections {
		dtos[i] = c.ToDTO()
	}
	sendData(h.logger, w, http.StatusOK, dtos, pagination)
}

// GetCollection handles GET /collections/{id}.
func (h *CollectionHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	collection, err := h.collections.GetCollection(r.Context(), id)
	if err != nil {
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusOK, collection.ToDTO(), nil)
}

// UpdateCollection handles PUT and PATCH /collections/{id}.
func (h *CollectionHandler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.CollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		sendValidationError(h.logger, w, "invalid request body")
		return
	}

	collection, err := h.collections.UpdateCollection(r.Context(), id, &req)
	if err != nil {
		h.logger.Printf("Failed to update collection %s: %v", id, err)
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusOK, collection.ToDTO(), nil)
}

// DeleteCollection handles DELETE /collections/{id}. The cascade removes
// vector points first, then database rows; idempotent.
func (h *CollectionHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.logger.Printf("Delete collection: %s", id)

	if err := h.collections.DeleteCollection(r.Context(), id); err != nil {
		h.logger.Printf("Failed to delete collection %s: %v", id, err)
		sendError(h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// collectionStatsResponse merges relational counts with the live point count.
type collectionStatsResponse struct {
	models.CollectionStats
	VectorPoints int64 `json:"vector_points"`
}

// GetCollectionStats handles GET /collections/{id}/stats.
func (h *CollectionHandler) GetCollectionStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stats, points, err := h.collections.GetCollectionStats(r.Context(), id)
	if err != nil {
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusOK, collectionStatsResponse{
		CollectionStats: *stats,
		VectorPoints:    points,
	}, nil)
}
