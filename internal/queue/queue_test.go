package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

// enqueueFile writes a temp source file and enqueues a job for it.
func enqueueFile(t *testing.T, s *Store, dir, user, name string) *Job {
	t.Helper()
	src := filepath.Join(dir, "upload_"+name)
	if err := os.WriteFile(src, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}
	job, err := s.Enqueue(context.Background(), NewJob{
		Username:     user,
		OriginalPath: src,
		FinalName:    name,
		IsVideo:      true,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return job
}

func claim(t *testing.T, s *Store) *Job {
	t.Helper()
	job, err := s.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	return job
}

func TestEnqueue(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, NewJob{
		Username:     "alice",
		OriginalPath: "/tmp/x.mov",
		FinalName:    "abc.mp4",
		Caption:      "beach",
		IsVideo:      true,
		AlbumID:      "album-1",
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.Status != StatusPending || job.RetryCount != 0 {
		t.Errorf("new job = %s/%d, want pending/0", job.Status, job.RetryCount)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Caption != "beach" || got.AlbumID != "album-1" || !got.IsVideo || got.OriginalPath != "/tmp/x.mov" {
		t.Errorf("Get() = %+v", got)
	}

	noAlbum, err := s.Enqueue(ctx, NewJob{Username: "alice", OriginalPath: "/tmp/y.mov", FinalName: "def.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, noAlbum.ID)
	if got.AlbumID != "" || got.Caption != "" {
		t.Errorf("optional fields = %q/%q, want empty", got.AlbumID, got.Caption)
	}
}

func TestClaimNextOrder(t *testing.T) {
	s, dir := setupStore(t)

	if _, err := s.ClaimNext(context.Background()); !errors.Is(err, ErrNoJob) {
		t.Fatalf("ClaimNext() on empty queue error = %v, want ErrNoJob", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueueFile(t, s, dir, "alice", fmt.Sprintf("%d.mp4", i)).ID)
	}

	for _, want := range ids {
		job := claim(t, s)
		if job.ID != want {
			t.Errorf("claimed %d, want %d", job.ID, want)
		}
		if job.Status != StatusProcessing {
			t.Errorf("claimed job status = %s, want processing", job.Status)
		}
	}

	if _, err := s.ClaimNext(context.Background()); !errors.Is(err, ErrNoJob) {
		t.Errorf("ClaimNext() error = %v, want ErrNoJob", err)
	}
}

func TestFailProgression(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()
	enqueueFile(t, s, dir, "alice", "a.mp4")

	for want := 1; want <= MaxRetries; want++ {
		job := claim(t, s)
		status, err := s.Fail(ctx, job.ID, job.RetryCount)
		if err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		if status != StatusPending {
			t.Fatalf("attempt %d: status = %s, want pending", want, status)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.RetryCount != want {
			t.Errorf("retry_count = %d, want %d", got.RetryCount, want)
		}
	}

	job := claim(t, s)
	status, err := s.Fail(ctx, job.ID, job.RetryCount)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	got, _ := s.Get(ctx, job.ID)
	if got.Status != StatusFailed || got.RetryCount != MaxRetries {
		t.Errorf("terminal job = %s/%d", got.Status, got.RetryCount)
	}

	if _, err := s.ClaimNext(ctx); !errors.Is(err, ErrNoJob) {
		t.Errorf("failed job must not be claimable, got %v", err)
	}
	if _, err := s.Fail(ctx, 9999, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fail() on missing job error = %v, want ErrNotFound", err)
	}
}

func TestRetriedJobKeepsItsPlace(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()

	first := enqueueFile(t, s, dir, "alice", "first.mp4")
	claimed := claim(t, s)
	if _, err := s.Fail(ctx, claimed.ID, claimed.RetryCount); err != nil {
		t.Fatal(err)
	}
	enqueueFile(t, s, dir, "alice", "second.mp4")

	if job := claim(t, s); job.ID != first.ID {
		t.Errorf("claimed %d, want the earlier job %d", job.ID, first.ID)
	}
	got, _ := s.Get(ctx, first.ID)
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed from %v to %v", first.CreatedAt, got.CreatedAt)
	}
}

func TestComplete(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()
	enqueueFile(t, s, dir, "alice", "a.mp4")
	job := claim(t, s)

	if err := s.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := s.Get(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Complete error = %v, want ErrNotFound", err)
	}
	if err := s.Complete(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Complete() error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentClaimExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")
	ctx := context.Background()

	// Two stores on one file stand in for two worker processes.
	var stores []*Store
	for i := 0; i < 2; i++ {
		s, err := Open(ctx, path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		stores = append(stores, s)
	}

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if _, err := stores[0].Enqueue(ctx, NewJob{Username: "alice", OriginalPath: "/tmp/x", FinalName: fmt.Sprintf("%d.mp4", i)}); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu      sync.Mutex
		claimed []int64
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(ctx)
				if errors.Is(err, ErrNoJob) {
					return
				}
				if err != nil {
					t.Errorf("ClaimNext() error = %v", err)
					return
				}
				mu.Lock()
				claimed = append(claimed, job.ID)
				mu.Unlock()
			}
		}(stores[w%2])
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d jobs, want %d", len(claimed), jobs)
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })
	for i := 1; i < len(claimed); i++ {
		if claimed[i] == claimed[i-1] {
			t.Errorf("job %d claimed twice", claimed[i])
		}
	}
}

func TestOneProcessingJobPerFinalName(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Enqueue(ctx, NewJob{Username: "alice", OriginalPath: "/tmp/x", FinalName: "same.mp4"}); err != nil {
			t.Fatal(err)
		}
	}

	claim(t, s)
	_, err := s.ClaimNext(ctx)
	if err == nil || errors.Is(err, ErrNoJob) {
		t.Fatalf("second claim of same final name error = %v, want constraint failure", err)
	}

	c, _ := s.Stats(ctx)
	if c.Processing != 1 || c.Pending != 1 {
		t.Errorf("Stats() = %+v, want 1 processing and 1 pending", c)
	}
}

func TestCancel(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()

	processing := enqueueFile(t, s, dir, "alice", "busy.mp4")
	claim(t, s)
	pending := enqueueFile(t, s, dir, "alice", "waiting.mp4")
	failed := enqueueFile(t, s, dir, "alice", "broken.mp4")
	if _, err := s.db.Exec("UPDATE upload_queue SET status = 'failed', retry_count = 3 WHERE id = ?", failed.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		id       int64
		user     string
		wantErr  error
		wantGone bool
	}{
		{"missing job", 9999, "alice", ErrNotFound, false},
		{"other user", pending.ID, "bob", ErrForbidden, false},
		{"processing job", processing.ID, "alice", ErrConflict, false},
		{"pending job", pending.ID, "ALICE", nil, true},
		{"failed job", failed.ID, "alice", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Cancel(ctx, tt.id, tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Cancel() error = %v, want %v", err, tt.wantErr)
			}
			if !tt.wantGone {
				return
			}
			if _, err := s.Get(ctx, tt.id); !errors.Is(err, ErrNotFound) {
				t.Errorf("row still present after cancel")
			}
		})
	}

	for _, j := range []*Job{pending, failed} {
		if _, err := os.Stat(j.OriginalPath); !os.IsNotExist(err) {
			t.Errorf("temp file %s not removed", j.OriginalPath)
		}
	}
	if _, err := os.Stat(processing.OriginalPath); err != nil {
		t.Errorf("processing job's temp file removed: %v", err)
	}
	if got, _ := s.Get(ctx, processing.ID); got.Status != StatusProcessing {
		t.Errorf("processing job changed to %s", got.Status)
	}
}

func TestRetry(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()

	pending := enqueueFile(t, s, dir, "alice", "waiting.mp4")
	failed := enqueueFile(t, s, dir, "alice", "broken.mp4")
	if _, err := s.db.Exec("UPDATE upload_queue SET status = 'failed', retry_count = 3 WHERE id = ?", failed.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		id      int64
		user    string
		wantErr error
	}{
		{"missing job", 9999, "alice", ErrNotFound},
		{"other user", failed.ID, "bob", ErrForbidden},
		{"pending job", pending.ID, "alice", ErrInvalidState},
		{"failed job", failed.ID, "alice", nil},
		{"already retried", failed.ID, "alice", ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Retry(ctx, tt.id, tt.user); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Retry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ := s.Get(ctx, failed.ID)
	if got.Status != StatusPending || got.RetryCount != 0 {
		t.Errorf("retried job = %s/%d, want pending/0", got.Status, got.RetryCount)
	}
	if !got.CreatedAt.Equal(failed.CreatedAt) {
		t.Error("retry must keep created_at")
	}
	if _, err := os.Stat(failed.OriginalPath); err != nil {
		t.Errorf("temp file should survive retry: %v", err)
	}
}

func TestRecoverStale(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()

	enqueueFile(t, s, dir, "alice", "a.mp4")
	enqueueFile(t, s, dir, "alice", "b.mp4")
	claim(t, s)

	n, err := s.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("RecoverStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}
	c, _ := s.Stats(ctx)
	if c.Pending != 2 || c.Processing != 0 {
		t.Errorf("Stats() = %+v, want 2 pending", c)
	}
}

func TestPurgeFailed(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()

	old := enqueueFile(t, s, dir, "alice", "old.mp4")
	recent := enqueueFile(t, s, dir, "alice", "recent.mp4")
	oldPending := enqueueFile(t, s, dir, "alice", "pending.mp4")

	past := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := s.db.Exec("UPDATE upload_queue SET status = 'failed', updated_at = ? WHERE id = ?", past, old.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE upload_queue SET status = 'failed' WHERE id = ?", recent.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE upload_queue SET updated_at = ? WHERE id = ?", past, oldPending.ID); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeFailed(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeFailed() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old failed job still present")
	}
	if _, err := os.Stat(old.OriginalPath); !os.IsNotExist(err) {
		t.Error("old failed job's temp file not removed")
	}
	for _, j := range []*Job{recent, oldPending} {
		if _, err := s.Get(ctx, j.ID); err != nil {
			t.Errorf("job %d purged unexpectedly: %v", j.ID, err)
		}
		if _, err := os.Stat(j.OriginalPath); err != nil {
			t.Errorf("temp file for job %d removed: %v", j.ID, err)
		}
	}
}

func TestListsAndCounts(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()

	enqueueFile(t, s, dir, "alice", "a1.mp4")
	enqueueFile(t, s, dir, "bob", "b1.mp4")
	enqueueFile(t, s, dir, "Alice", "a2.mp4")
	claim(t, s)

	mine, err := s.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(mine) != 2 || mine[0].FinalName != "a1.mp4" || mine[1].FinalName != "a2.mp4" {
		t.Errorf("ListForUser() = %+v", mine)
	}

	none, err := s.ListForUser(ctx, "carol")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("ListForUser(carol) = %v, %v; want empty non-nil slice", none, err)
	}

	all, err := s.ListAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListAll() = %d jobs, %v", len(all), err)
	}

	n, err := s.CountPending(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountPending() = %d, %v; want 2", n, err)
	}
	c, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c != (Counts{Pending: 2, Processing: 1}) {
		t.Errorf("Stats() = %+v", c)
	}
}

func TestReopenKeepsJobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	job, err := s.Enqueue(ctx, NewJob{Username: "alice", OriginalPath: "/tmp/x", FinalName: "a.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if got, err := s.Get(ctx, job.ID); err != nil || got.FinalName != "a.mp4" {
		t.Errorf("Get() after reopen = %+v, %v", got, err)
	}
}
