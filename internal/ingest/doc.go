// Package ingest turns uploads into catalog entries.
//
// Intake stages each uploaded file in the temp directory and picks a path
// with mediatypes.RequiresTranscode: files that can be shown as-is go through
// the Pipeline during the request, the rest are enqueued for the Worker.
//
// The Pipeline stores the file (transcoding when needed), renders its
// preview, determines its capture date and commits the asset. An attempt
// that fails at any step removes what it wrote and commits nothing.
//
// The Worker drains the queue one job at a time. Failed attempts are
// rescheduled until the retry budget is spent; panics count as failures.
// Backfill repairs previews and capture dates for assets already stored.
package ingest
