// Package routes wires HTTP paths to their handlers.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"docsync/internal/handlers"
)

// Handlers bundles everything the router needs.
type Handlers struct {
	Collections *handlers.CollectionHandler
	Documents   *handlers.DocumentHandler
	Search      *handlers.SearchHandler
	System      *handlers.SystemHandler
}

// RegisterRoutes sets up all application routes.
func RegisterRoutes(router *mux.Router, h *Handlers) {
	router.HandleFunc("/health", h.System.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Collections
	api.HandleFunc("/collections", h.Collections.CreateCollection).Methods(http.MethodPost)
	api.HandleFunc("/collections", h.Collections.ListCollections).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}", h.Collections.GetCollection).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}", h.Collections.UpdateCollection).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/collections/{id}", h.Collections.DeleteCollection).Methods(http.MethodDelete)
	api.HandleFunc("/collections/{id}/stats", h.Collections.GetCollectionStats).Methods(http.MethodGet)

	// Documents
	api.HandleFunc("/docs", h.Documents.IngestDocument).Methods(http.MethodPost)
	api.HandleFunc("/docs", h.Documents.ListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/docs/{id}", h.Documents.GetDocument).Methods(http.MethodGet)
	api.HandleFunc("/docs/{id}", h.Documents.DeleteDocument).Methods(http.MethodDelete)
	api.HandleFunc("/docs/{id}/resync", h.Documents.ResyncDocument).Methods(http.MethodPut)
	api.HandleFunc("/docs/{id}/sync", h.Documents.GetSyncStatus).Methods(http.MethodGet)

	// Search
	api.HandleFunc("/search", h.Search.Search).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search.SearchPost).Methods(http.MethodPost)
	api.HandleFunc("/search/paginated", h.Search.SearchPaginated).Methods(http.MethodGet)

	// Pipeline statistics
	api.HandleFunc("/jobs/stats", h.System.JobStats).Methods(http.MethodGet)
}
