// Package metrics provides Prometheus instrumentation for media-share.
//
// All metrics are prefixed with "media_share_" and registered with the
// default registry through promauto. The main categories are:
//
//   - HTTP: request counts, latency and in-flight requests
//   - Database: query counts and latency, transactions, migrations
//   - Queue: enqueues, state transitions and per-status gauges
//   - Ingest: worker liveness, per-step latency, upload dispositions, backfill
//   - Preview and transcoder: generation counts and durations
//   - Filesystem: stale-handle retries on network mounts
//
// A [Collector] refreshes gauges that are derived from storage (queue depth,
// catalog size) on a fixed interval:
//
//	collector := metrics.NewCollector(statsProvider, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// Useful queries:
//
//	# jobs stuck in terminal failure
//	media_share_queue_jobs{status="failed"}
//
//	# p95 transcode time
//	histogram_quantile(0.95, sum(rate(media_share_transcoder_job_duration_seconds_bucket[1h])) by (le))
package metrics
