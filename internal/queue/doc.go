// Package queue is the durable upload work queue.
//
// Jobs live in the upload_queue table of a dedicated SQLite file and move
// through pending, processing and failed. Successful and cancelled jobs are
// deleted. ClaimNext is a single UPDATE ... RETURNING statement guarded on
// status, so concurrent claimers can never receive the same job, and a
// partial unique index keeps at most one processing job per final filename.
//
// Owners may cancel a job that is not processing and retry a failed one.
// Every operation is one short statement with a five second timeout; the
// store caches no job state between calls.
package queue
