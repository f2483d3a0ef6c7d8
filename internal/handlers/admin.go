package handlers

import (
	"net/http"

	"media-share/internal/logging"
)

// SettingsUpdate changes runtime settings. Absent fields keep their value.
type SettingsUpdate struct {
	SignupLocked *bool `json:"signupLocked"`
}

// GetSettings returns the runtime settings in effect.
func (h *Handlers) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, h.settings.Get())
}

// UpdateSettings persists new runtime settings and applies them.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.settings.Get()
	if req.SignupLocked != nil {
		s.SignupLocked = *req.SignupLocked
	}

	if err := h.settings.Update(r.Context(), s); err != nil {
		writeError(w, "update settings", err)
		return
	}

	logging.Info("Runtime settings updated by %s: signup locked=%v", actor(r), s.SignupLocked)
	writeJSONResponse(w, s)
}

// ReloadSettings re-reads runtime settings from the database.
func (h *Handlers) ReloadSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Reload(r.Context())
	if err != nil {
		writeError(w, "reload settings", err)
		return
	}

	logging.Info("Runtime settings reloaded by %s", actor(r))
	writeJSONResponse(w, s)
}

// ListUsers returns every account.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		writeError(w, "list users", err)
		return
	}
	writeJSONResponse(w, users)
}

// actor names the user making r, for audit logs.
func actor(r *http.Request) string {
	if u := UserFromContext(r.Context()); u != nil {
		return u.Username
	}
	return "unknown"
}
