package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"media-share/internal/filesystem"
	"media-share/internal/metrics"
	"media-share/internal/queue"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultClaimBackoff    = time.Second
	defaultJanitorInterval = time.Hour
)

// JobQueue is the part of the queue store the worker drives.
type JobQueue interface {
	ClaimNext(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, retryCount int) (queue.Status, error)
	RecoverStale(ctx context.Context) (int64, error)
	PurgeFailed(ctx context.Context, olderThan time.Duration) (int, error)
}

// Processor handles one claimed job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Gate holds the worker back before it claims a job. Wait returns false
// if stop closes first.
type Gate interface {
	Wait(stop <-chan struct{}) bool
}

// WorkerConfig tunes the worker loop. Zero values take defaults, except
// FailedRetention where zero disables purging.
type WorkerConfig struct {
	PollInterval    time.Duration
	ClaimBackoff    time.Duration
	FailedRetention time.Duration
	JanitorInterval time.Duration
	// Gate, when set, is consulted before every claim.
	Gate Gate
}

// JobResult describes the most recently finished job.
type JobResult struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Duration   string    `json:"duration"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Health is a point-in-time view of the worker.
type Health struct {
	Running   bool       `json:"running"`
	StartedAt time.Time  `json:"startedAt,omitempty"`
	Processed int64      `json:"processed"`
	Retried   int64      `json:"retried"`
	Failed    int64      `json:"failed"`
	Purged    int64      `json:"purged"`
	LastJob   *JobResult `json:"lastJob,omitempty"`
}

// Worker drains the upload queue one job at a time.
type Worker struct {
	queue     JobQueue
	processor Processor
	config    WorkerConfig

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	running   atomic.Bool
	processed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	purged    atomic.Int64

	mu        sync.Mutex
	startedAt time.Time
	lastJob   *JobResult
}

// NewWorker creates a worker. Call Start to begin draining.
func NewWorker(q JobQueue, p Processor, config WorkerConfig) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.ClaimBackoff <= 0 {
		config.ClaimBackoff = defaultClaimBackoff
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = defaultJanitorInterval
	}
	return &Worker{
		queue:     q,
		processor: p,
		config:    config,
		stopChan:  make(chan struct{}),
	}
}

// Start returns jobs interrupted by a previous process to pending, then
// starts the drain loop and the failed-job janitor. It returns the number of
// recovered jobs.
func (w *Worker) Start(ctx context.Context) (int64, error) {
	recovered, err := w.queue.RecoverStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}

	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()
	w.running.Store(true)
	metrics.IngestWorkerRunning.Set(1)

	w.wg.Add(1)
	go w.loop()

	if w.config.FailedRetention > 0 {
		w.wg.Add(1)
		go w.janitor()
	}

	log.Info("Worker started (poll interval: %v)", w.config.PollInterval)
	return recovered, nil
}

// Interrupt signals the loop to exit without waiting. A job that fails
// after Interrupt is left processing rather than rescheduled.
func (w *Worker) Interrupt() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// Stop signals the loop to exit and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.Interrupt()
	w.wg.Wait()
	if w.running.Swap(false) {
		metrics.IngestWorkerRunning.Set(0)
		log.Info("Worker stopped")
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

// sleep waits for d and reports false if the worker was stopped meanwhile.
func (w *Worker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.stopChan:
		return false
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()

	for !w.stopping() {
		if w.config.Gate != nil && !w.config.Gate.Wait(w.stopChan) {
			return
		}

		job, err := w.queue.ClaimNext(context.Background())
		switch {
		case errors.Is(err, queue.ErrNoJob):
			if !w.sleep(w.config.PollInterval) {
				return
			}
		case err != nil:
			log.Error("Failed to claim job: %v", err)
			if !w.sleep(w.config.ClaimBackoff) {
				return
			}
		default:
			w.handle(job)
		}
	}
}

// handle processes one job and records the outcome in the queue. It never
// panics and never returns an error; the loop always moves on.
func (w *Worker) handle(job *queue.Job) {
	ctx := context.Background()
	start := time.Now()

	err := w.runProcessor(ctx, job)

	result := &JobResult{
		ID:         job.ID,
		Filename:   job.FinalName,
		Duration:   time.Since(start).Round(time.Millisecond).String(),
		FinishedAt: time.Now(),
	}

	if err == nil {
		filesystem.RemoveQuietly(job.OriginalPath)
		if cerr := w.queue.Complete(ctx, job.ID); cerr != nil {
			log.Error("Job %d processed but could not be completed: %v", job.ID, cerr)
		}
		w.processed.Add(1)
		result.Outcome = "done"
		w.setLastJob(result)
		return
	}

	result.Error = err.Error()

	// Shutdown interrupted the job. Leave it processing so the next start
	// recovers it without spending a retry.
	if w.stopping() {
		log.Warn("Job %d interrupted by shutdown: %v", job.ID, err)
		result.Outcome = "interrupted"
		w.setLastJob(result)
		return
	}

	status, ferr := w.queue.Fail(ctx, job.ID, job.RetryCount)
	if ferr != nil {
		log.Error("Job %d failed (%v) and could not be rescheduled: %v", job.ID, err, ferr)
		result.Outcome = "error"
		w.setLastJob(result)
		return
	}

	result.Outcome = string(status)
	if status == queue.StatusFailed {
		w.failed.Add(1)
		log.Error("Job %d (%s) failed permanently after %d retries: %v", job.ID, job.FinalName, job.RetryCount, err)
	} else {
		w.retried.Add(1)
		log.Warn("Job %d (%s) failed, will retry (attempt %d/%d): %v", job.ID, job.FinalName, job.RetryCount+1, queue.MaxRetries+1, err)
	}
	w.setLastJob(result)
}

func (w *Worker) runProcessor(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing job %d: %v\n%s", job.ID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, job)
}

func (w *Worker) janitor() {
	defer w.wg.Done()

	w.purge()

	ticker := time.NewTicker(w.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.purge()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Worker) purge() {
	n, err := w.queue.PurgeFailed(context.Background(), w.config.FailedRetention)
	if err != nil {
		log.Error("Failed-job purge failed: %v", err)
		return
	}
	w.purged.Add(int64(n))
}

func (w *Worker) setLastJob(r *JobResult) {
	w.mu.Lock()
	w.lastJob = r
	w.mu.Unlock()
}

// Health returns the worker's current counters and last job.
func (w *Worker) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := Health{
		Running:   w.running.Load(),
		StartedAt: w.startedAt,
		Processed: w.processed.Load(),
		Retried:   w.retried.Load(),
		Failed:    w.failed.Load(),
		Purged:    w.purged.Load(),
	}
	if w.lastJob != nil {
		last := *w.lastJob
		h.LastJob = &last
	}
	return h
}
