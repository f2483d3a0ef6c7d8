package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_share_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_share_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_share_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"result"}, // "commit" or "rollback"
	)

	DBConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_share_db_connections_open",
			Help: "Number of open database connections",
		},
		[]string{"database"}, // "catalog" or "queue"
	)

	DBMigrationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_db_migrations_applied_total",
			Help: "Schema migrations applied at startup",
		},
		[]string{"database"},
	)
)

// Queue metrics
var (
	QueueJobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_share_queue_jobs_enqueued_total",
			Help: "Total number of ingestion jobs enqueued",
		},
	)

	QueueTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_queue_transitions_total",
			Help: "Queue job state transitions",
		},
		[]string{"to"}, // "processing", "pending", "failed", "done", "cancelled", "retried", "purged", "recovered"
	)

	QueueJobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_share_queue_jobs",
			Help: "Number of queued jobs by status",
		},
		[]string{"status"},
	)
)

// Ingest worker metrics
var (
	IngestWorkerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_ingest_worker_running",
			Help: "Whether the ingestion worker loop is running (1 = running, 0 = stopped)",
		},
	)

	IngestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_ingest_jobs_total",
			Help: "Ingestion attempts by path and outcome",
		},
		[]string{"path", "status"}, // path: "sync" or "queued"; status: "success" or "error"
	)

	IngestJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_share_ingest_job_duration_seconds",
			Help:    "Time to ingest one upload end to end",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"path"},
	)

	IngestStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_share_ingest_step_duration_seconds",
			Help:    "Duration of each ingestion step",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"step"}, // "normalize", "preview", "date", "commit"
	)

	IngestUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_ingest_uploads_total",
			Help: "Files received by the upload endpoint by disposition",
		},
		[]string{"disposition"}, // "uploaded", "queued", "skipped", "failed"
	)

	BackfillItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_backfill_items_total",
			Help: "Backfill results by kind and status",
		},
		[]string{"kind", "status"}, // kind: "preview" or "date"
	)
)

// Memory backpressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_memory_paused",
			Help: "Whether ingestion is paused for memory pressure (1 = paused)",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_share_memory_pauses_total",
			Help: "Times ingestion was paused for memory pressure",
		},
	)
)

// Preview metrics
var (
	PreviewGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_preview_generations_total",
			Help: "Total number of preview generations",
		},
		[]string{"type", "method", "status"}, // method: "vips", "imaging", "ffmpeg"
	)

	PreviewGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_share_preview_generation_duration_seconds",
			Help:    "Preview generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)
)

// Transcoder metrics
var (
	TranscoderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_transcoder_jobs_total",
			Help: "Total number of normalize operations",
		},
		[]string{"kind", "status"}, // status: "success", "error", "timeout"
	)

	TranscoderJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_share_transcoder_job_duration_seconds",
			Help:    "Video transcode duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	TranscoderJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_transcoder_jobs_in_progress",
			Help: "Number of transcodes currently running",
		},
	)

	ProbeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_probe_total",
			Help: "ffprobe invocations by status",
		},
		[]string{"status"},
	)
)

// Date extraction metrics
var (
	DateExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_date_extractions_total",
			Help: "Capture date lookups by source",
		},
		[]string{"source"}, // "exif", "container", "filename", "none"
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_filesystem_retry_attempts_total",
			Help: "Filesystem operations retried after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after a retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// Authentication and catalog metrics
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_share_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"status"},
	)

	CatalogAssetsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_catalog_assets_total",
			Help: "Number of media assets in the catalog",
		},
	)

	CatalogUsersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_share_catalog_users_total",
			Help: "Number of registered users",
		},
	)
)

// Application info
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_share_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitializeMetrics pre-populates label combinations so that every series
// is exported from the first scrape.
func InitializeMetrics() {
	for _, s := range []string{"pending", "processing", "failed"} {
		QueueJobsByStatus.WithLabelValues(s)
	}
	for _, to := range []string{"processing", "pending", "failed", "done", "cancelled", "retried", "purged", "recovered"} {
		QueueTransitionsTotal.WithLabelValues(to)
	}
	for _, p := range []string{"sync", "queued"} {
		IngestJobsTotal.WithLabelValues(p, "success")
		IngestJobsTotal.WithLabelValues(p, "error")
		IngestJobDuration.WithLabelValues(p)
	}
	for _, step := range []string{"normalize", "preview", "date", "commit"} {
		IngestStepDuration.WithLabelValues(step)
	}
	for _, src := range []string{"exif", "container", "filename", "none"} {
		DateExtractionsTotal.WithLabelValues(src)
	}
	for _, db := range []string{"catalog", "queue"} {
		DBConnectionsOpen.WithLabelValues(db)
	}
}
