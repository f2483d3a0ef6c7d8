package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"media-share/internal/queue"
)

func fastConfig() WorkerConfig {
	return WorkerConfig{PollInterval: 10 * time.Millisecond, ClaimBackoff: 10 * time.Millisecond}
}

func queueEmpty(t *testing.T, q *queue.Store) func() bool {
	return func() bool {
		jobs, err := q.ListAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return len(jobs) == 0
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var sources []string
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		src := env.tempFile(t, "src_"+name)
		sources = append(sources, src)
		env.enqueue(t, src, name)
	}

	w := NewWorker(env.queue, env.pipeline, fastConfig())
	if _, err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, "queue to drain", queueEmpty(t, env.queue))

	for _, src := range sources {
		assertExists(t, src, false)
	}
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if _, err := env.db.GetAsset(ctx, name); err != nil {
			t.Errorf("GetAsset(%s) error = %v", name, err)
		}
	}

	h := w.Health()
	if !h.Running || h.Processed != 3 || h.LastJob == nil || h.LastJob.Outcome != "done" {
		t.Errorf("Health() = %+v", h)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	env.previews.err = errPreview
	ctx := context.Background()

	src := env.tempFile(t, "clip.mov")
	job := env.enqueue(t, src, "abc.mp4")

	w := NewWorker(env.queue, env.pipeline, fastConfig())
	if _, err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	waitFor(t, "job to fail", func() bool {
		got, err := env.queue.Get(ctx, job.ID)
		return err == nil && got.Status == queue.StatusFailed
	})

	got, _ := env.queue.Get(ctx, job.ID)
	if got.RetryCount != queue.MaxRetries {
		t.Errorf("retry_count = %d, want %d", got.RetryCount, queue.MaxRetries)
	}
	if calls := env.previews.Calls(); calls != queue.MaxRetries+1 {
		t.Errorf("preview attempted %d times, want %d", calls, queue.MaxRetries+1)
	}
	assertExists(t, src, true)
	assertExists(t, filepath.Join(env.uploadDir, "abc.mp4"), false)

	h := w.Health()
	if h.Failed != 1 || h.Retried != int64(queue.MaxRetries) {
		t.Errorf("Health() = %+v", h)
	}
}

// panicOnce panics on its first call and succeeds afterwards.
type panicOnce struct {
	calls atomic.Int32
}

func (p *panicOnce) Process(context.Context, *queue.Job) error {
	if p.calls.Add(1) == 1 {
		panic("decoder blew up")
	}
	return nil
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.enqueue(t, env.tempFile(t, "clip.mov"), "abc.mp4")
	env.enqueue(t, env.tempFile(t, "clip2.mov"), "def.mp4")

	w := NewWorker(env.queue, &panicOnce{}, fastConfig())
	if _, err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	waitFor(t, "queue to drain", queueEmpty(t, env.queue))

	h := w.Health()
	if h.Retried != 1 || h.Processed != 2 {
		t.Errorf("Health() = %+v, want 1 retry and 2 processed", h)
	}
}

func TestWorkerRecoversStaleJobsOnStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.enqueue(t, env.tempFile(t, "clip.mov"), "abc.mp4")

	// A claim with no worker behind it, as left by a crashed process.
	if _, err := env.queue.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(env.queue, env.pipeline, fastConfig())
	recovered, err := w.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	waitFor(t, "recovered job to finish", queueEmpty(t, env.queue))
	if _, err := env.db.GetAsset(ctx, "abc.mp4"); err != nil {
		t.Errorf("recovered job not committed: %v", err)
	}
}

// blockingProcessor holds each job until release is closed.
type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
	err     error
	once    sync.Once
}

func (b *blockingProcessor) Process(context.Context, *queue.Job) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.err
}

func TestWorkerStopWaitsForInFlightJob(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus queue.Status
		wantGone   bool
	}{
		{"job finishes", nil, "", true},
		{"job interrupted", errors.New("killed"), queue.StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			job := env.enqueue(t, env.tempFile(t, "clip.mov"), "abc.mp4")

			proc := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{}), err: tt.err}
			w := NewWorker(env.queue, proc, fastConfig())
			if _, err := w.Start(ctx); err != nil {
				t.Fatal(err)
			}
			<-proc.started

			stopped := make(chan struct{})
			go func() {
				w.Stop()
				close(stopped)
			}()

			select {
			case <-stopped:
				t.Fatal("Stop() returned while a job was in flight")
			case <-time.After(50 * time.Millisecond):
			}

			close(proc.release)
			select {
			case <-stopped:
			case <-time.After(5 * time.Second):
				t.Fatal("Stop() did not return after the job finished")
			}

			got, err := env.queue.Get(ctx, job.ID)
			if tt.wantGone {
				if !errors.Is(err, queue.ErrNotFound) {
					t.Errorf("job still queued: %+v", got)
				}
			} else if err != nil || got.Status != tt.wantStatus || got.RetryCount != 0 {
				t.Errorf("job = %+v, %v; want %s with no retry spent", got, err, tt.wantStatus)
			}
			if w.Health().Running {
				t.Error("Health().Running after Stop")
			}
		})
	}
}

// scriptedQueue is a JobQueue whose claims fail a fixed number of times.
type scriptedQueue struct {
	claimErrors int32
	claims      atomic.Int32
	purges      atomic.Int32
	retention   atomic.Int64
}

func (q *scriptedQueue) ClaimNext(context.Context) (*queue.Job, error) {
	if q.claims.Add(1) <= q.claimErrors {
		return nil, errors.New("database is locked")
	}
	return nil, queue.ErrNoJob
}

func (q *scriptedQueue) Complete(context.Context, int64) error { return nil }

func (q *scriptedQueue) Fail(context.Context, int64, int) (queue.Status, error) {
	return queue.StatusPending, nil
}

func (q *scriptedQueue) RecoverStale(context.Context) (int64, error) { return 0, nil }

func (q *scriptedQueue) PurgeFailed(_ context.Context, olderThan time.Duration) (int, error) {
	q.purges.Add(1)
	q.retention.Store(int64(olderThan))
	return 2, nil
}

func TestWorkerSurvivesClaimErrors(t *testing.T) {
	q := &scriptedQueue{claimErrors: 3}
	w := NewWorker(q, &panicOnce{}, fastConfig())
	if _, err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	waitFor(t, "claims past the errors", func() bool { return q.claims.Load() > 4 })
}

func TestWorkerJanitor(t *testing.T) {
	tests := []struct {
		name       string
		retention  time.Duration
		wantPurges bool
	}{
		{"enabled", 48 * time.Hour, true},
		{"disabled", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &scriptedQueue{}
			cfg := fastConfig()
			cfg.FailedRetention = tt.retention
			cfg.JanitorInterval = 20 * time.Millisecond

			w := NewWorker(q, &panicOnce{}, cfg)
			if _, err := w.Start(context.Background()); err != nil {
				t.Fatal(err)
			}

			if tt.wantPurges {
				waitFor(t, "two purges", func() bool { return q.purges.Load() >= 2 })
				w.Stop()
				if got := time.Duration(q.retention.Load()); got != tt.retention {
					t.Errorf("purged with retention %v, want %v", got, tt.retention)
				}
				if w.Health().Purged < 4 {
					t.Errorf("Health().Purged = %d, want at least 4", w.Health().Purged)
				}
				return
			}

			time.Sleep(60 * time.Millisecond)
			w.Stop()
			if n := q.purges.Load(); n != 0 {
				t.Errorf("janitor ran %d times with retention disabled", n)
			}
		})
	}
}

// closedGate holds the worker until open is closed.
type closedGate struct {
	open  chan struct{}
	waits atomic.Int32
}

func (g *closedGate) Wait(stop <-chan struct{}) bool {
	g.waits.Add(1)
	select {
	case <-g.open:
		return true
	case <-stop:
		return false
	}
}

func TestWorkerWaitsForGate(t *testing.T) {
	q := &scriptedQueue{}
	gate := &closedGate{open: make(chan struct{})}
	cfg := fastConfig()
	cfg.Gate = gate

	w := NewWorker(q, &panicOnce{}, cfg)
	if _, err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "worker to reach the gate", func() bool { return gate.waits.Load() > 0 })
	time.Sleep(30 * time.Millisecond)
	if n := q.claims.Load(); n != 0 {
		t.Fatalf("claimed %d times while gated", n)
	}

	close(gate.open)
	waitFor(t, "claims after the gate opens", func() bool { return q.claims.Load() > 0 })

	w.Stop()
}

func TestWorkerStopReleasesGate(t *testing.T) {
	gate := &closedGate{open: make(chan struct{})}
	cfg := fastConfig()
	cfg.Gate = gate

	w := NewWorker(&scriptedQueue{}, &panicOnce{}, cfg)
	if _, err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "worker to reach the gate", func() bool { return gate.waits.Load() > 0 })

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a closed gate")
	}
}

func TestWorkerInterruptKeepsKilledJobProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.enqueue(t, env.tempFile(t, "clip.mov"), "abc.mp4")

	proc := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{}), err: errors.New("signal: killed")}
	w := NewWorker(env.queue, proc, fastConfig())
	if _, err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-proc.started

	// Interrupt returns at once; the job is then "killed" like a
	// transcoder cleanup would.
	w.Interrupt()
	close(proc.release)
	w.Stop()

	got, err := env.queue.Get(ctx, job.ID)
	if err != nil || got.Status != queue.StatusProcessing || got.RetryCount != 0 {
		t.Errorf("job = %+v, %v; want processing with no retry spent", got, err)
	}
	if last := w.Health().LastJob; last == nil || last.Outcome != "interrupted" {
		t.Errorf("LastJob = %+v, want interrupted", last)
	}
}
