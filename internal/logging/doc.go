// Package logging provides a simple leveled logging interface for the
// media-share server.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable
// (or DEBUG=true). Long-running components obtain a tagged logger with
// With, so that queue and worker output can be told apart in a shared log.
package logging
