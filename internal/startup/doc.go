// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Static configuration is loaded once from environment variables via
// [LoadConfig]:
//
//   - DATA_DIR: Base data directory (default: /data)
//   - UPLOAD_DIR: Final media and previews (default: $DATA_DIR/uploads)
//   - TEMP_DIR: Received uploads awaiting processing (default: $DATA_DIR/temp)
//   - DATABASE_DIR: SQLite catalog and queue files (default: $DATA_DIR/database)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - POLL_INTERVAL: Worker sleep when the queue is empty (default: 5s)
//   - TRANSCODE_TIMEOUT: Upper bound for one ffmpeg run (default: 30m)
//   - FAILED_RETENTION: Age at which failed jobs are purged, 0 disables (default: 720h)
//   - SESSION_DURATION: Login session lifetime (default: 720h)
//   - DATE_LOCATION: Time zone for capture dates without an offset (default: UTC)
//   - BACKFILL_ON_START: Fill missing previews and dates at startup (default: true)
//   - BACKFILL_WORKERS: Backfill pool size, 0 picks from CPU count (default: 0)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_STATIC_FILES: Log static file requests (default: false)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//
// All directories are created if missing and must be writable.
//
// # Runtime settings
//
// [RuntimeSettings] holds options stored in the catalog (currently the
// signup lock). Readers call Get for an immutable snapshot; the admin API
// calls Update or Reload, which swap the snapshot atomically.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//
//	go build -ldflags "-X media-share/internal/startup.Version=1.0.0 \
//	  -X media-share/internal/startup.Commit=$(git rev-parse --short HEAD)"
package startup
