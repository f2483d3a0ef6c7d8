// Package middleware provides HTTP middleware for media-share.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with low-cardinality path labels
//   - gzip compression of JSON responses
package middleware
