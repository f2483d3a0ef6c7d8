// Package handlers provides the HTTP API of media-share.
//
// It includes handlers for:
//   - Uploads, which go through ingest.Intake
//   - The upload queue: per-user status, cancel, retry and an admin listing
//   - The feed, galleries, albums and serving stored files
//   - Registration, login and cookie sessions
//   - Runtime settings and user listing for administrators
//   - Health, readiness and version
package handlers
