package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"media-share/internal/database"
	"media-share/internal/filesystem"
	"media-share/internal/logging"
	"media-share/internal/metrics"
)

// MaxRetries is the retry count at which a failing job becomes terminal.
const MaxRetries = 3

const defaultTimeout = 5 * time.Second

// Status is the state of a queued job.
type Status string

// Job states. Completed and cancelled jobs are deleted rather than marked.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// Errors returned by queue operations.
var (
	ErrNoJob        = errors.New("no pending job")
	ErrNotFound     = errors.New("job not found")
	ErrForbidden    = errors.New("job belongs to another user")
	ErrConflict     = errors.New("job is being processed")
	ErrInvalidState = errors.New("job is not in failed state")
)

var log = logging.With("Queue")

// Job is one queued upload.
type Job struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	OriginalPath string    `json:"-"`
	FinalName    string    `json:"filename"`
	Caption      string    `json:"caption"`
	IsVideo      bool      `json:"is_video"`
	AlbumID      string    `json:"album_id,omitempty"`
	Status       Status    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob describes an upload to enqueue.
type NewJob struct {
	Username     string
	OriginalPath string
	FinalName    string
	Caption      string
	IsVideo      bool
	AlbumID      string
}

// Counts is the number of jobs in each state.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

const jobColumns = "id, username, original_path, final_name, caption, is_video, album_id, status, retry_count, created_at, updated_at"

var migrations = []database.Migration{
	{
		Version: 1,
		Name:    "upload_queue",
		SQL: `
		CREATE TABLE IF NOT EXISTS upload_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			original_path TEXT NOT NULL,
			final_name TEXT NOT NULL,
			caption TEXT NOT NULL DEFAULT '',
			is_video INTEGER NOT NULL DEFAULT 0,
			album_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'failed')),
			retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_upload_queue_claim ON upload_queue(status, created_at, id);
		CREATE INDEX IF NOT EXISTS idx_upload_queue_user ON upload_queue(username);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_upload_queue_processing_name
			ON upload_queue(final_name) WHERE status = 'processing';
		`,
	},
}

// Store is the durable upload queue, kept in its own SQLite file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens the queue database at path and applies its migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := database.Open(ctx, path, "queue")
	if err != nil {
		return nil, err
	}

	if _, err := database.Migrate(ctx, db, "queue", migrations); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close queue database after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	metrics.DBConnectionsOpen.WithLabelValues("queue").Set(1)
	log.Info("Queue database ready at %s", path)
	return &Store{db: db}, nil
}

// Close closes the queue database.
func (s *Store) Close() error {
	metrics.DBConnectionsOpen.WithLabelValues("queue").Set(0)
	return s.db.Close()
}

// Enqueue appends a pending job with a zero retry count.
func (s *Store) Enqueue(ctx context.Context, in NewJob) (*Job, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_enqueue", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now().Unix()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO upload_queue (username, original_path, final_name, caption, is_video, album_id, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
		RETURNING `+jobColumns,
		in.Username, in.OriginalPath, in.FinalName, in.Caption, in.IsVideo, nullString(in.AlbumID), now, now)

	var job *Job
	job, err = scanJob(row)
	if err != nil {
		err = fmt.Errorf("failed to enqueue %s: %w", in.FinalName, err)
		return nil, err
	}

	metrics.QueueJobsEnqueued.Inc()
	log.Debug("Enqueued job %d (%s) for %s", job.ID, job.FinalName, job.Username)
	return job, nil
}

// ClaimNext moves the oldest pending job to processing and returns it.
// The claim is a single compare-and-set statement, so two claimers can never
// receive the same job. It returns ErrNoJob when nothing is pending.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	start := time.Now()
	var err error
	defer func() {
		if errors.Is(err, ErrNoJob) {
			database.RecordQuery("queue_claim", start, nil)
			return
		}
		database.RecordQuery("queue_claim", start, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		UPDATE upload_queue SET status = 'processing', updated_at = ?
		WHERE id = (
			SELECT id FROM upload_queue WHERE status = 'pending'
			ORDER BY created_at, id LIMIT 1
		) AND status = 'pending'
		RETURNING `+jobColumns, time.Now().Unix())

	var job *Job
	job, err = scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNoJob
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to claim job: %w", err)
		return nil, err
	}

	metrics.QueueTransitionsTotal.WithLabelValues(string(StatusProcessing)).Inc()
	log.Debug("Claimed job %d (%s), attempt %d", job.ID, job.FinalName, job.RetryCount+1)
	return job, nil
}

// Complete removes a successfully processed job.
func (s *Store) Complete(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_complete", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = s.db.ExecContext(ctx, "DELETE FROM upload_queue WHERE id = ?", id)
	if err != nil {
		err = fmt.Errorf("failed to complete job %d: %w", id, err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotFound
		return err
	}

	metrics.QueueTransitionsTotal.WithLabelValues("done").Inc()
	return nil
}

// Fail records a failed attempt. A job whose retryCount has reached
// MaxRetries becomes failed; otherwise it returns to pending with the count
// incremented. created_at is kept so the job keeps its place in line.
// The resulting status is returned.
func (s *Store) Fail(ctx context.Context, id int64, retryCount int) (Status, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_fail", start, err) }()

	next := StatusPending
	newCount := retryCount + 1
	if retryCount >= MaxRetries {
		next = StatusFailed
		newCount = retryCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = s.db.ExecContext(ctx,
		"UPDATE upload_queue SET status = ?, retry_count = ?, updated_at = ? WHERE id = ?",
		string(next), newCount, time.Now().Unix(), id)
	if err != nil {
		err = fmt.Errorf("failed to record failure for job %d: %w", id, err)
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotFound
		return "", err
	}

	metrics.QueueTransitionsTotal.WithLabelValues(string(next)).Inc()
	return next, nil
}

// Cancel deletes a pending or failed job owned by username and removes its
// temporary source file.
func (s *Store) Cancel(ctx context.Context, id int64, username string) error {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_cancel", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var path string
	err = s.db.QueryRowContext(ctx, `
		DELETE FROM upload_queue
		WHERE id = ? AND username = ? COLLATE NOCASE AND status != 'processing'
		RETURNING original_path`, id, username).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.explain(ctx, id, username, ErrConflict)
		return err
	}
	if err != nil {
		err = fmt.Errorf("failed to cancel job %d: %w", id, err)
		return err
	}

	if rmErr := filesystem.Remove(path); rmErr != nil {
		log.Warn("Cancelled job %d but could not remove %s: %v", id, path, rmErr)
	}
	metrics.QueueTransitionsTotal.WithLabelValues("cancelled").Inc()
	log.Info("Job %d cancelled by %s", id, username)
	return nil
}

// Retry returns a failed job owned by username to pending with a fresh
// retry budget.
func (s *Store) Retry(ctx context.Context, id int64, username string) error {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_retry", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = s.db.ExecContext(ctx, `
		UPDATE upload_queue SET status = 'pending', retry_count = 0, updated_at = ?
		WHERE id = ? AND username = ? COLLATE NOCASE AND status = 'failed'`,
		time.Now().Unix(), id, username)
	if err != nil {
		err = fmt.Errorf("failed to retry job %d: %w", id, err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = s.explain(ctx, id, username, ErrInvalidState)
		return err
	}

	metrics.QueueTransitionsTotal.WithLabelValues("retried").Inc()
	log.Info("Job %d re-queued by %s", id, username)
	return nil
}

// explain works out why a guarded mutation touched no row. Missing jobs
// report ErrNotFound and foreign ones ErrForbidden. Anything else is a state
// problem reported as stateErr. The caller must hold s.mu.
func (s *Store) explain(ctx context.Context, id int64, username string, stateErr error) error {
	var owner string
	err := s.db.QueryRowContext(ctx, "SELECT username FROM upload_queue WHERE id = ?", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up job %d: %w", id, err)
	}
	if !strings.EqualFold(owner, username) {
		return ErrForbidden
	}
	return stateErr
}

// Get returns a single job.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_get", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var job *Job
	job, err = scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM upload_queue WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	return job, err
}

// ListForUser returns the jobs owned by username, oldest first.
func (s *Store) ListForUser(ctx context.Context, username string) ([]Job, error) {
	return s.list(ctx, "queue_list_user",
		"SELECT "+jobColumns+" FROM upload_queue WHERE username = ? COLLATE NOCASE ORDER BY created_at, id", username)
}

// ListAll returns every job, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]Job, error) {
	return s.list(ctx, "queue_list_all", "SELECT "+jobColumns+" FROM upload_queue ORDER BY created_at, id")
}

func (s *Store) list(ctx context.Context, op, query string, args ...interface{}) ([]Job, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var job *Job
		job, err = scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	err = rows.Err()
	return jobs, err
}

// CountPending returns the number of pending jobs.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_count_pending", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_queue WHERE status = 'pending'").Scan(&n)
	return n, err
}

// Stats counts jobs by state.
func (s *Store) Stats(ctx context.Context) (Counts, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_stats", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c Counts
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM upload_queue GROUP BY status")
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err = rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch Status(status) {
		case StatusPending:
			c.Pending = n
		case StatusProcessing:
			c.Processing = n
		case StatusFailed:
			c.Failed = n
		}
	}
	err = rows.Err()
	return c, err
}

// RecoverStale returns jobs left in processing by a previous process to
// pending. Only safe while no worker is running.
func (s *Store) RecoverStale(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_recover", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = s.db.ExecContext(ctx,
		"UPDATE upload_queue SET status = 'pending', updated_at = ? WHERE status = 'processing'", time.Now().Unix())
	if err != nil {
		err = fmt.Errorf("failed to recover stale jobs: %w", err)
		return 0, err
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.QueueTransitionsTotal.WithLabelValues("recovered").Add(float64(n))
		log.Warn("Recovered %d job(s) interrupted during processing", n)
	}
	return n, nil
}

// PurgeFailed deletes failed jobs last touched before now-olderThan and
// removes their temporary source files.
func (s *Store) PurgeFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	start := time.Now()
	var err error
	defer func() { database.RecordQuery("queue_purge", start, err) }()

	var paths []string
	paths, err = s.deleteFailedBefore(ctx, time.Now().Add(-olderThan).Unix())
	if err != nil {
		err = fmt.Errorf("failed to purge failed jobs: %w", err)
		return 0, err
	}

	filesystem.RemoveQuietly(paths...)
	if len(paths) > 0 {
		metrics.QueueTransitionsTotal.WithLabelValues("purged").Add(float64(len(paths)))
		log.Info("Purged %d failed job(s) older than %v", len(paths), olderThan)
	}
	return len(paths), nil
}

func (s *Store) deleteFailedBefore(ctx context.Context, cutoff int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"DELETE FROM upload_queue WHERE status = 'failed' AND updated_at < ? RETURNING original_path", cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		status    string
		albumID   sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&job.ID, &job.Username, &job.OriginalPath, &job.FinalName, &job.Caption,
		&job.IsVideo, &albumID, &status, &job.RetryCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.AlbumID = albumID.String
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
