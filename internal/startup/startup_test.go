package startup

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.OS == "" || info.Arch == "" {
		t.Error("Expected OS and Arch to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("MS_TEST_SET", "custom")
	t.Setenv("MS_TEST_EMPTY", "")

	if got := getEnv("MS_TEST_SET", "default"); got != "custom" {
		t.Errorf("getEnv(set) = %q, want custom", got)
	}
	if got := getEnv("MS_TEST_EMPTY", "default"); got != "default" {
		t.Errorf("getEnv(empty) = %q, want default", got)
	}
	if got := getEnv("MS_TEST_UNSET_XYZ", "default"); got != "default" {
		t.Errorf("getEnv(unset) = %q, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"nope", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("MS_TEST_BOOL", tt.value)
			if got := getEnvBool("MS_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 5 * time.Second},
		{"10s", 10 * time.Second},
		{"0", 0},
		{"720h", 720 * time.Hour},
		{"soon", 5 * time.Second},
		{"-1m", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("MS_TEST_DUR", tt.value)
			if got := getEnvDuration("MS_TEST_DUR", 5*time.Second); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("MS_TEST_INT", "4")
	if got := getEnvInt("MS_TEST_INT", 0); got != 4 {
		t.Errorf("getEnvInt = %d, want 4", got)
	}
	t.Setenv("MS_TEST_INT", "-2")
	if got := getEnvInt("MS_TEST_INT", 1); got != 1 {
		t.Errorf("getEnvInt(negative) = %d, want default 1", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("UPLOAD_DIR", "")
	t.Setenv("TEMP_DIR", "")
	t.Setenv("DATABASE_DIR", "")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("FAILED_RETENTION", "0")
	t.Setenv("DATE_LOCATION", "Not/AZone")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.UploadDir != filepath.Join(dir, "uploads") {
		t.Errorf("UploadDir = %s", cfg.UploadDir)
	}
	if cfg.TempDir != filepath.Join(dir, "temp") {
		t.Errorf("TempDir = %s", cfg.TempDir)
	}
	if cfg.CatalogPath != filepath.Join(dir, "database", "media-share.db") {
		t.Errorf("CatalogPath = %s", cfg.CatalogPath)
	}
	if cfg.QueuePath != filepath.Join(dir, "database", "queue.db") {
		t.Errorf("QueuePath = %s", cfg.QueuePath)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.FailedRetention != 0 {
		t.Errorf("FailedRetention = %v, want 0", cfg.FailedRetention)
	}
	if cfg.TranscodeTimeout != 30*time.Minute {
		t.Errorf("TranscodeTimeout = %v, want 30m", cfg.TranscodeTimeout)
	}
	if cfg.DateLocation != time.UTC {
		t.Errorf("DateLocation = %v, want UTC fallback", cfg.DateLocation)
	}

	for _, d := range []string{cfg.UploadDir, cfg.TempDir, cfg.DatabaseDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", d)
		}
	}
}

func TestLoadConfigRejectsFileAsDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "uploads")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATA_DIR", dir)
	t.Setenv("UPLOAD_DIR", blocker)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error when upload dir is a regular file")
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/api/queue/status":   "api/queue",
		"/api/queue/{id}/run": "api/queue",
		"/health":             "health",
		"/":                   "",
	}
	for path, want := range tests {
		if got := getRouteGroup(path); got != want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestGetRoutes(t *testing.T) {
	r := mux.NewRouter()
	noop := func(http.ResponseWriter, *http.Request) {}
	r.HandleFunc("/api/queue/status", noop).Methods("GET")
	r.HandleFunc("/api/queue/{id}/cancel", noop).Methods("POST").Name("cancel")

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatalf("GetRoutes failed: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[1].Name != "cancel" || routes[1].Method != "POST" {
		t.Errorf("unexpected route %+v", routes[1])
	}
}

type memSettings struct {
	values  map[string]string
	failGet bool
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	if m.failGet {
		return "", false, errors.New("boom")
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func TestRuntimeSettings(t *testing.T) {
	ctx := context.Background()
	store := &memSettings{values: map[string]string{}}
	rs := NewRuntimeSettings(store)

	if rs.Get().SignupLocked {
		t.Fatal("zero settings should be unlocked")
	}

	s, err := rs.Reload(ctx)
	if err != nil || s.SignupLocked {
		t.Fatalf("Reload on empty store = %+v, %v", s, err)
	}

	if err := rs.Update(ctx, Settings{SignupLocked: true}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if store.values[SettingSignupLocked] != "true" {
		t.Errorf("stored value = %q, want true", store.values[SettingSignupLocked])
	}
	if !rs.Get().SignupLocked {
		t.Error("Update did not swap current settings")
	}

	store.values[SettingSignupLocked] = "false"
	if s, _ := rs.Reload(ctx); s.SignupLocked {
		t.Error("Reload did not pick up stored value")
	}
}

func TestRuntimeSettingsReloadKeepsSnapshotOnError(t *testing.T) {
	ctx := context.Background()
	store := &memSettings{values: map[string]string{SettingSignupLocked: "true"}}
	rs := NewRuntimeSettings(store)
	if _, err := rs.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	store.values[SettingSignupLocked] = "maybe"
	if _, err := rs.Reload(ctx); err == nil {
		t.Error("expected parse error")
	}
	if !rs.Get().SignupLocked {
		t.Error("failed reload must keep previous snapshot")
	}

	store.failGet = true
	if _, err := rs.Reload(ctx); err == nil {
		t.Error("expected store error")
	}
}
