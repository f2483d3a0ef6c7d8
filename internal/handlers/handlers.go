package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-share/internal/database"
	"media-share/internal/ingest"
	"media-share/internal/queue"
	"media-share/internal/startup"
)

// WorkerStatus reports the health of the ingestion worker.
type WorkerStatus interface {
	Health() ingest.Health
}

// Handlers holds the dependencies of every HTTP handler.
type Handlers struct {
	db       *database.Database
	queue    *queue.Store
	intake   *ingest.Intake
	worker   WorkerStatus
	settings *startup.RuntimeSettings

	uploadDir       string
	sessionDuration time.Duration
	dateLocation    *time.Location
	startTime       time.Time
}

// New creates the handler set.
func New(db *database.Database, q *queue.Store, intake *ingest.Intake, worker WorkerStatus, settings *startup.RuntimeSettings, config *startup.Config) *Handlers {
	loc := config.DateLocation
	if loc == nil {
		loc = time.UTC
	}
	return &Handlers{
		db:              db,
		queue:           q,
		intake:          intake,
		worker:          worker,
		settings:        settings,
		uploadDir:       config.UploadDir,
		sessionDuration: config.SessionDuration,
		dateLocation:    loc,
		startTime:       time.Now(),
	}
}

// MetricsHandler returns the Prometheus metrics handler
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
