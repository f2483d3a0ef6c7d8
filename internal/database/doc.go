// Package database provides SQLite storage for the media-share catalog.
//
// It handles storage and retrieval of:
//   - User accounts and authentication sessions
//   - Media assets produced by the ingestion pipeline
//   - Albums and album membership
//   - Runtime settings
//
// Databases are opened in WAL mode with a busy timeout via [Open], and
// schemas evolve through an ordered list of [Migration] values applied by
// [Migrate]. The upload queue keeps its own database file but uses the same
// opener and migration runner.
package database
