package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"docsync/internal/models"
	"docsync/internal/services"
)

// DocumentHandler handles HTTP requests for document operations.
type DocumentHandler struct {
	documents *services.DocumentService
	logger    *log.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(documents *services.DocumentService, logger *log.Logger) *DocumentHandler {
	return &DocumentHandler{documents: documents, logger: logger}
}

// IngestDocument handles POST /docs. The response returns immediately with
// status 202; the sync pipeline runs in the background.
func (h *DocumentHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var req models.DocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		sendValidationError(h.logger, w, "invalid request body")
		return
	}
	h.logger.Printf("Ingest document: collection=%s key=%s size=%d",
		req.CollectionID, req.Key, len(req.Content))

	doc, err := h.documents.IngestDocument(r.Context(), &req)
	if err != nil {
		h.logger.Printf("Failed to ingest document %s: %v", req.Key, err)
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusAccepted, doc.ToDTO(), nil)
}

// ListDocuments handles GET /docs with collectionId, status, and search
// filters.
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	filter := models.DocumentFilter{
		CollectionID: queryValue(r, "collectionId", "collection_id"),
		Status:       models.DocumentStatus(r.URL.Query().Get("status")),
		Search:       queryValue(r, "search", "q"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		sendValidationError(h.logger, w, "invalid status filter: "+string(filter.Status))
		return
	}

	docs, pagination, err := h.documents.ListDocuments(r.Context(), filter, listOptionsFromQuery(r))
	if err != nil {
		sendError(h.logger, w, err)
		return
	}

	dtos := make([]models.DocumentDTO, len(docs))
	for i, doc := range docs {
		dtos[i] = doc.ToDTO()
	}
	sendData(h.logger, w, http.StatusOK, dtos, pagination)
}

// GetDocument handles GET /docs/{id}.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	doc, err := h.documents.GetDocument(r.Context(), id)
	if err != nil {
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusOK, doc.ToDTO(), nil)
}

// DeleteDocument handles DELETE /docs/{id}. Idempotent.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.logger.Printf("Delete document: %s", id)

	if err := h.documents.DeleteDocument(r.Context(), id); err != nil {
		h.logger.Printf("Failed to delete document %s: %v", id, err)
		sendError(h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResyncDocument handles PUT /docs/{id}/resync.
func (h *DocumentHandler) ResyncDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.logger.Printf("Resync document: %s", id)

	job, err := h.documents.ResyncDocument(r.Context(), id)
	if err != nil {
		sendError(h.logger, w, err)
		return
	}
	sendData(h.logger, w, http.StatusAccepted, job.ToDTO(), nil)
}

// syncStatusResponse reports a document's job and per-chunk progress.
type syncStatusResponse struct {
	Job    models.SyncJobDTO  `json:"job"`
	Chunks []models.ChunkMeta `json:"chunks"`
}

// GetSyncStatus handles GET /docs/{id}/sync.
func (h *DocumentHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, chunks, err := h.documents.GetSyncStatus(r.Context(), id)
	if err != nil {
		sendError(h.logger, w, err)
		return
	}

	resp := syncStatusResponse{Job: job.ToDTO(), Chunks: make([]models.ChunkMeta, len(chunks))}
	for i, chunk := range chunks {
		c := *chunk
		// Chunk text is served by search, not by status polling.
		c.Content = ""
		resp.Chunks[i] = c
	}
	sendData(h.logger, w, http.StatusOK, resp, nil)
}
