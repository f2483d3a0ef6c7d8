package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"media-share/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration. It is read once by
// LoadConfig and never modified afterwards.
type Config struct {
	DataDir          string
	UploadDir        string
	TempDir          string
	DatabaseDir      string
	Port             string
	MetricsPort      string
	MetricsEnabled   bool
	PollInterval     time.Duration
	TranscodeTimeout time.Duration
	FailedRetention  time.Duration
	SessionDuration  time.Duration
	DateLocation     *time.Location
	BackfillOnStart  bool
	BackfillWorkers  int
	LogStaticFiles   bool
	LogHealthChecks  bool

	// Derived paths
	CatalogPath string
	QueuePath   string

	// FFmpegAvailable is false when ffmpeg could not be found; queued
	// video jobs will fail until it is installed.
	FFmpegAvailable bool
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	dataDir := getEnv("DATA_DIR", "/data")
	uploadDir := getEnv("UPLOAD_DIR", filepath.Join(dataDir, "uploads"))
	tempDir := getEnv("TEMP_DIR", filepath.Join(dataDir, "temp"))
	databaseDir := getEnv("DATABASE_DIR", filepath.Join(dataDir, "database"))
	port := getEnv("PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)
	backfillOnStart := getEnvBool("BACKFILL_ON_START", true)
	logStaticFiles := getEnvBool("LOG_STATIC_FILES", false)
	logHealthChecks := getEnvBool("LOG_HEALTH_CHECKS", true)

	pollInterval := getEnvDuration("POLL_INTERVAL", 5*time.Second)
	transcodeTimeout := getEnvDuration("TRANSCODE_TIMEOUT", 30*time.Minute)
	failedRetention := getEnvDuration("FAILED_RETENTION", 720*time.Hour)
	sessionDuration := getEnvDuration("SESSION_DURATION", 30*24*time.Hour)
	backfillWorkers := getEnvInt("BACKFILL_WORKERS", 0)

	locName := getEnv("DATE_LOCATION", "UTC")
	loc, err := time.LoadLocation(locName)
	if err != nil {
		logging.Warn("  Invalid DATE_LOCATION %q, using UTC: %v", locName, err)
		loc = time.UTC
	}

	logging.Info("  DATA_DIR:            %s", dataDir)
	logging.Info("  UPLOAD_DIR:          %s", uploadDir)
	logging.Info("  TEMP_DIR:            %s", tempDir)
	logging.Info("  DATABASE_DIR:        %s", databaseDir)
	logging.Info("  PORT:                %s", port)
	logging.Info("  METRICS_PORT:        %s", metricsPort)
	logging.Info("  METRICS_ENABLED:     %v", metricsEnabled)
	logging.Info("  POLL_INTERVAL:       %v", pollInterval)
	logging.Info("  TRANSCODE_TIMEOUT:   %v", transcodeTimeout)
	logging.Info("  FAILED_RETENTION:    %v", failedRetention)
	logging.Info("  SESSION_DURATION:    %v", sessionDuration)
	logging.Info("  DATE_LOCATION:       %s", loc)
	logging.Info("  BACKFILL_ON_START:   %v", backfillOnStart)
	logging.Info("  BACKFILL_WORKERS:    %d", backfillWorkers)
	logging.Info("  LOG_STATIC_FILES:    %v", logStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", logHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	config := &Config{
		Port:             port,
		MetricsPort:      metricsPort,
		MetricsEnabled:   metricsEnabled,
		PollInterval:     pollInterval,
		TranscodeTimeout: transcodeTimeout,
		FailedRetention:  failedRetention,
		SessionDuration:  sessionDuration,
		DateLocation:     loc,
		BackfillOnStart:  backfillOnStart,
		BackfillWorkers:  backfillWorkers,
		LogStaticFiles:   logStaticFiles,
		LogHealthChecks:  logHealthChecks,
	}

	dirs := []struct {
		name string
		in   string
		out  *string
	}{
		{"data", dataDir, &config.DataDir},
		{"upload", uploadDir, &config.UploadDir},
		{"temp", tempDir, &config.TempDir},
		{"database", databaseDir, &config.DatabaseDir},
	}
	for _, d := range dirs {
		abs, err := filepath.Abs(d.in)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s directory path: %w", d.name, err)
		}
		if err := ensureDirectory(abs, d.name); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", d.name, err)
		}
		if err := testWriteAccess(abs); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", d.name, err)
		}
		logging.Info("  [OK] %-8s %s", d.name, abs)
		*d.out = abs
	}

	config.CatalogPath = filepath.Join(config.DatabaseDir, "media-share.db")
	config.QueuePath = filepath.Join(config.DatabaseDir, "queue.db")

	return config, nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func printBanner() {
	banner := `
------------------------------------------------------------
    __  ___         ___            _____ __
   /  |/  /__  ____/ (_)___ _     / ___// /_  ____ _________
  / /|_/ / _ \/ __  / / __ '/_____\__ \/ __ \/ __ '/ ___/ _ \
 / /  / /  __/ /_/ / / /_/ /_____/__/ / / / / /_/ / /  /  __/
/_/  /_/\___/\__,_/_/\__,_/     /____/_/ /_/\__,_/_/   \___/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// CheckFFmpeg verifies that ffmpeg and ffprobe are on PATH and runnable.
func CheckFFmpeg() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		path, err := exec.LookPath(bin)
		if err != nil {
			return fmt.Errorf("%s not found in PATH", bin)
		}
		logging.Debug("  %s path: %s", bin, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	if line, _, _ := strings.Cut(string(output), "\n"); line != "" {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(line))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid integer for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
