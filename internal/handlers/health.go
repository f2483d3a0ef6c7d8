package handlers

import (
	"net/http"
	"runtime"
	"time"

	"media-share/internal/ingest"
	"media-share/internal/queue"
	"media-share/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	Queue  *queue.Counts  `json:"queue,omitempty"`
	Worker *ingest.Health `json:"worker,omitempty"`
	Error  string         `json:"error,omitempty"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Stats summary
	TotalAssets int `json:"totalAssets"`
	TotalUsers  int `json:"totalUsers"`
}

func (h *Handlers) workerRunning() bool {
	return h.worker != nil && h.worker.Health().Running
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := HealthResponse{
		Ready:        h.workerRunning(),
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if h.worker != nil {
		wh := h.worker.Health()
		response.Worker = &wh
	}

	if response.Ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}

	counts, err := h.queue.Stats(ctx)
	if err == nil {
		response.Queue = &counts
		stats, serr := h.db.Stats(ctx)
		err = serr
		response.TotalAssets = stats.TotalAssets
		response.TotalUsers = stats.TotalUsers
	}
	if err != nil {
		response.Status = statusDegraded
		response.Error = err.Error()
	}

	// Return 503 only if not ready at all
	if !response.Ready {
		writeJSONStatusCode(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSONStatusCode(w, http.StatusOK, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the worker is draining the queue and
// the queue database answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.workerRunning() {
		writeJSONStatusCode(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	if _, err := h.queue.CountPending(r.Context()); err != nil {
		writeJSONStatusCode(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSONStatusCode(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetVersion returns the application version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONResponse(w, startup.GetBuildInfo())
}
