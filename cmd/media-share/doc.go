// Package main is the media-share server.
//
// media-share is a self-hosted service where users upload photos and videos
// and browse everyone's uploads as a feed or as galleries grouped by capture
// month. Uploads that browsers can already display are stored during the
// request. Everything else (HEIC photos, MOV and other video containers) is
// queued in a SQLite-backed job queue and converted by a background worker,
// so a slow ffmpeg run never holds an upload request open.
//
// # Startup
//
//  1. GOMEMLIMIT from MEMORY_LIMIT / MEMORY_RATIO
//  2. Configuration from the environment, directory checks
//  3. Catalog and queue databases, migrations, runtime settings
//  4. Transcoder, preview generator (libvips when available), date extractor
//  5. Ingest worker: recovers jobs a previous run left processing, then
//     drains the queue, pausing while memory is critical
//  6. Optional backfill of missing previews and capture dates
//  7. Metrics collector and the HTTP servers
//
// # HTTP Servers
//
// The main server (PORT, default 8080) serves the JSON API under /api, the
// stored files under /uploads and the health endpoints. Everything except
// health, version and the login routes requires a session cookie. A second
// server (METRICS_PORT, default 9090) exposes /metrics when METRICS_ENABLED
// is true.
//
// # Shutdown
//
// On SIGINT or SIGTERM the server stops accepting requests, cancels the
// backfill and session cleanup, interrupts the worker, kills running ffmpeg
// processes and waits for the in-flight job. A job cut short this way stays
// in processing and is picked up again on the next start without using one
// of its retries. The databases close last.
//
// # Related Packages
//
//   - [media-share/internal/ingest]: intake, pipeline, worker and backfill
//   - [media-share/internal/queue]: the durable job queue
//   - [media-share/internal/database]: catalog of users, uploads and albums
//   - [media-share/internal/handlers]: HTTP handlers
//   - [media-share/internal/startup]: configuration and startup logging
package main
