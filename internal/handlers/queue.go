package handlers

import (
	"net/http"

	"media-share/internal/logging"
)

// QueueStatus lists the caller's queued, processing and failed uploads.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	jobs, err := h.queue.ListForUser(r.Context(), user.Username)
	if err != nil {
		writeError(w, "list queue", err)
		return
	}
	writeJSONResponse(w, jobs)
}

// CancelJob removes one of the caller's jobs that is not being processed,
// along with its staged upload.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if err := h.queue.Cancel(r.Context(), id, user.Username); err != nil {
		writeError(w, "cancel job", err)
		return
	}

	logging.Info("User %s cancelled queue job %d", user.Username, id)
	writeJSONStatus(w, "cancelled")
}

// RetryJob puts one of the caller's failed jobs back in the queue with a
// fresh retry budget.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if err := h.queue.Retry(r.Context(), id, user.Username); err != nil {
		writeError(w, "retry job", err)
		return
	}

	logging.Info("User %s retried queue job %d", user.Username, id)
	writeJSONStatus(w, "pending")
}

// PendingCount returns the number of jobs waiting across all users.
func (h *Handlers) PendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.CountPending(r.Context())
	if err != nil {
		writeError(w, "count pending", err)
		return
	}
	writeJSONResponse(w, map[string]int{"pending": n})
}

// AdminQueue lists every job, with counts per state and the worker's health.
func (h *Handlers) AdminQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobs, err := h.queue.ListAll(ctx)
	if err != nil {
		writeError(w, "list all jobs", err)
		return
	}
	counts, err := h.queue.Stats(ctx)
	if err != nil {
		writeError(w, "queue stats", err)
		return
	}

	resp := map[string]interface{}{
		"jobs":   jobs,
		"counts": counts,
	}
	if h.worker != nil {
		resp["worker"] = h.worker.Health()
	}
	writeJSONResponse(w, resp)
}
