package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"media-share/internal/database"
	"media-share/internal/ingest"
	"media-share/internal/logging"
	"media-share/internal/queue"
)

// maxJSONBody bounds request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatusCode writes v as JSON with the given status code.
func writeJSONStatusCode(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONResponse writes v as a 200 JSON response.
func writeJSONResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatusCode(w, statusCode, map[string]string{"error": message})
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	writeJSONResponse(w, map[string]string{"status": status})
}

// errorStatus maps an error from the catalog, queue or intake to an HTTP
// status and a message safe to show the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, queue.ErrForbidden), errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, queue.ErrConflict), errors.Is(err, queue.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ingest.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, database.ErrUserExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, database.ErrSignupLocked):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, database.ErrInvalidCredentials), errors.Is(err, database.ErrInvalidSession):
		return http.StatusUnauthorized, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError writes err with the status errorStatus picks. Server errors are
// logged with op; client errors are not.
func writeError(w http.ResponseWriter, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error("%s failed: %v", op, err)
	}
	writeJSONError(w, msg, status)
}

// decodeJSON reads a JSON request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// jobID parses the {id} route variable, writing a 400 on failure.
func jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, "invalid job id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt returns a non-negative integer query parameter or def.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
