package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-share/internal/database"
	"media-share/internal/queue"
	"media-share/internal/transcoder"
)

// fakeNormalizer writes a marker to dst, or fails with err.
type fakeNormalizer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeNormalizer) Normalize(_ context.Context, src, dst string, _ bool) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(src); statErr != nil {
		return fmt.Errorf("%w: %v", transcoder.ErrProcessing, statErr)
	}
	return os.WriteFile(dst, []byte("normalized"), 0o644)
}

func (f *fakeNormalizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePreviews writes a marker preview, or fails with err.
type fakePreviews struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakePreviews) Generate(_ context.Context, src, dst string, _ bool) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(src); statErr != nil {
		return statErr
	}
	return os.WriteFile(dst, []byte("preview"), 0o644)
}

func (f *fakePreviews) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDates returns taken for every file and records the names and paths
// it saw.
type fakeDates struct {
	mu    sync.Mutex
	taken *time.Time
	names []string
	paths [][]string
}

func (f *fakeDates) DetermineDateTakenFrom(_ context.Context, name string, paths ...string) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.paths = append(f.paths, paths)
	return f.taken
}

var errPreview = fmt.Errorf("%w: preview exploded", transcoder.ErrProcessing)

type testEnv struct {
	uploadDir string
	tempDir   string
	db        *database.Database
	queue     *queue.Store
	norm      *fakeNormalizer
	previews  *fakePreviews
	dates     *fakeDates
	pipeline  *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		uploadDir: filepath.Join(root, "uploads"),
		tempDir:   filepath.Join(root, "temp"),
		norm:      &fakeNormalizer{},
		previews:  &fakePreviews{},
		dates:     &fakeDates{},
	}
	for _, d := range []string{env.uploadDir, env.tempDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	db, err := database.New(ctx, filepath.Join(root, "media-share.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	env.db = db

	q, err := queue.Open(ctx, filepath.Join(root, "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open() error = %v", err)
	}
	t.Cleanup(func() { q.Close() })
	env.queue = q

	env.pipeline = NewPipeline(env.uploadDir, env.norm, env.previews, env.dates, db)
	return env
}

// tempFile writes a staged upload into the temp dir.
func (e *testEnv) tempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.tempDir, name)
	if err := os.WriteFile(path, []byte("source bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *testEnv) enqueue(t *testing.T, src, final string) *queue.Job {
	t.Helper()
	job, err := e.queue.Enqueue(context.Background(), queue.NewJob{
		Username:     "alice",
		OriginalPath: src,
		FinalName:    final,
		IsVideo:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func assertExists(t *testing.T, path string, want bool) {
	t.Helper()
	_, err := os.Stat(path)
	if want && err != nil {
		t.Errorf("%s should exist: %v", filepath.Base(path), err)
	}
	if !want && !errors.Is(err, os.ErrNotExist) {
		t.Errorf("%s should not exist", filepath.Base(path))
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
