package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"media-share/internal/database"
	"media-share/internal/ingest"
	"media-share/internal/queue"
	"media-share/internal/startup"
)

// copyNormalizer copies src to dst.
type copyNormalizer struct{}

func (copyNormalizer) Normalize(_ context.Context, src, dst string, _ bool) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// markerPreviews writes a fixed preview next to the stored file.
type markerPreviews struct{}

func (markerPreviews) Generate(_ context.Context, src, dst string, _ bool) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("preview"), 0o644)
}

type noDates struct{}

func (noDates) DetermineDateTakenFrom(context.Context, string, ...string) *time.Time { return nil }

type fakeWorker struct {
	health ingest.Health
}

func (f *fakeWorker) Health() ingest.Health { return f.health }

type testEnv struct {
	h      *Handlers
	db     *database.Database
	queue  *queue.Store
	worker *fakeWorker
	config *startup.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	config := &startup.Config{
		UploadDir:       filepath.Join(dir, "uploads"),
		TempDir:         filepath.Join(dir, "temp"),
		SessionDuration: time.Hour,
		DateLocation:    time.UTC,
	}
	for _, d := range []string{config.UploadDir, config.TempDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	db, err := database.New(ctx, filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q, err := queue.Open(ctx, filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	settings := startup.NewRuntimeSettings(db)
	pipeline := ingest.NewPipeline(config.UploadDir, copyNormalizer{}, markerPreviews{}, noDates{}, db)
	intake := ingest.NewIntake(config.TempDir, q, pipeline)
	worker := &fakeWorker{health: ingest.Health{Running: true}}

	return &testEnv{
		h:      New(db, q, intake, worker, settings, config),
		db:     db,
		queue:  q,
		worker: worker,
		config: config,
	}
}

func (e *testEnv) register(t *testing.T, username string) *database.User {
	t.Helper()
	u, err := e.db.Register(context.Background(), username, "password123", false)
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return u
}

// commit stores a file and catalog row as if username had uploaded it.
func (e *testEnv) commit(t *testing.T, username, filename string, taken *time.Time) *database.MediaAsset {
	t.Helper()
	for _, name := range []string{filename, database.PreviewName(filename)} {
		if err := os.WriteFile(filepath.Join(e.config.UploadDir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	a, err := e.db.CommitAsset(context.Background(), database.NewAsset{
		Username:  username,
		Filename:  filename,
		DateTaken: taken,
	})
	if err != nil {
		t.Fatalf("CommitAsset(%s): %v", filename, err)
	}
	return a
}

// enqueue adds a queued job with a real temp file.
func (e *testEnv) enqueue(t *testing.T, username string) *queue.Job {
	t.Helper()
	f, err := os.CreateTemp(e.config.TempDir, "clip.*.mov")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	job, err := e.queue.Enqueue(context.Background(), queue.NewJob{
		Username:     username,
		OriginalPath: f.Name(),
		FinalName:    filepath.Base(f.Name()) + ".mp4",
		IsVideo:      true,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(b)
}

// request builds a request made by u (nil for anonymous) with route vars.
func request(method, target string, body io.Reader, u *database.User, vars map[string]string) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	if u != nil {
		req = req.WithContext(WithUser(req.Context(), u))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}
