package handlers

import (
	"log"
	"net/http"

	"docsync/internal/models"
	"docsync/internal/services"
	"docsync/internal/workers"
)

// SystemHandler serves health probes and pipeline statistics.
type SystemHandler struct {
	metrics *services.MetricsService
	pool    *workers.WorkerPool
	logger  *log.Logger
}

// NewSystemHandler creates a new system handler. The worker pool may be nil
// when no background workers run.
func NewSystemHandler(metrics *services.MetricsService, pool *workers.WorkerPool, logger *log.Logger) *SystemHandler {
	return &SystemHandler{metrics: metrics, pool: pool, logger: logger}
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status     string                `json:"status"`
	Components []models.SystemHealth `json:"components"`
}

// Health handles GET /health. `?deep=true` additionally probes the embedding
// provider, which costs a real API call.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	deep := r.URL.Query().Get("deep") == "true"
	components := h.metrics.CheckHealth(r.Context(), deep)

	status := "ok"
	code := http.StatusOK
	for _, component := range components {
		if !component.Healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	sendJSON(h.logger, w, code, healthResponse{Status: status, Components: components})
}

// jobStatsResponse adds worker counters to the pipeline statistics.
type jobStatsResponse struct {
	*services.JobStats
	Workers []workers.WorkerStats `json:"workers,omitempty"`
}

// JobStats handles GET /jobs/stats.
func (h *SystemHandler) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.metrics.GetJobStats(r.Context())
	if err != nil {
		sendError(h.logger, w, err)
		return
	}

	resp := jobStatsResponse{JobStats: stats}
	if h.pool != nil {
		resp.Workers = h.pool.GetAllStats()
	}
	sendData(h.logger, w, http.StatusOK, resp, nil)
}
