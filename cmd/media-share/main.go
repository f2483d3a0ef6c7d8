package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-share/internal/database"
	"media-share/internal/datetaken"
	"media-share/internal/filesystem"
	"media-share/internal/handlers"
	"media-share/internal/ingest"
	"media-share/internal/logging"
	"media-share/internal/media"
	"media-share/internal/memory"
	"media-share/internal/metrics"
	"media-share/internal/middleware"
	"media-share/internal/queue"
	"media-share/internal/startup"
	"media-share/internal/transcoder"

	"github.com/gorilla/mux"
)

const (
	sessionCleanupInterval = time.Hour
	metricsInterval        = time.Minute
	shutdownTimeout        = 30 * time.Second
)

// components are the long-running parts stopped on shutdown, in order.
type components struct {
	srv        *http.Server
	metricsSrv *http.Server
	worker     *ingest.Worker
	collector  *metrics.Collector
	monitor    *memory.Monitor
	transcoder *transcoder.Transcoder
	cancel     context.CancelFunc
}

func main() {
	startTime := time.Now()

	// Before anything large is allocated
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"uploads":  config.UploadDir,
		"temp":     config.TempDir,
		"database": config.DatabaseDir,
	}))

	metrics.InitializeMetrics()
	metrics.AppInfo.WithLabelValues(startup.Version, startup.Commit, startup.GoVersion).Set(1)

	// Background work stops when ctx is cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStart := time.Now()
	db, err := database.New(ctx, config.CatalogPath)
	if err != nil {
		startup.LogFatal("Failed to initialize catalog database: %v", err)
	}
	defer closeDB("catalog", db)
	startup.LogDatabaseInit("catalog", time.Since(dbStart))

	queueStart := time.Now()
	q, err := queue.Open(ctx, config.QueuePath)
	if err != nil {
		startup.LogFatal("Failed to initialize queue database: %v", err)
	}
	defer closeDB("queue", q)
	startup.LogDatabaseInit("queue", time.Since(queueStart))

	settings := startup.NewRuntimeSettings(db)
	s, err := settings.Reload(ctx)
	if err != nil {
		startup.LogFatal("Failed to load runtime settings: %v", err)
	}
	startup.LogSettingsLoaded(s)

	go cleanSessions(ctx, db)

	// Media processing
	startup.LogTranscoderInit(config)
	trans := transcoder.New(transcoder.Options{Timeout: config.TranscodeTimeout})

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable, previews fall back to pure Go decoding: %v", err)
	}
	defer media.ShutdownVips()
	startup.LogPreviewInit(media.IsVipsAvailable())
	previews := media.NewPreviewGenerator(media.PreviewOptions{})

	dates := datetaken.New(config.DateLocation, trans)

	pipeline := ingest.NewPipeline(config.UploadDir, trans, previews, dates, db)
	intake := ingest.NewIntake(config.TempDir, q, pipeline)

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	startup.LogWorkerInit(config)
	worker := ingest.NewWorker(q, pipeline, ingest.WorkerConfig{
		PollInterval:    config.PollInterval,
		FailedRetention: config.FailedRetention,
		Gate:            monitor,
	})
	recovered, err := worker.Start(ctx)
	if err != nil {
		startup.LogFatal("Failed to start ingest worker: %v", err)
	}
	startup.LogWorkerStarted(recovered)

	if config.BackfillOnStart {
		backfill := ingest.NewBackfill(config.UploadDir, db, previews, dates, config.BackfillWorkers)
		go func() {
			if _, err := backfill.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("Backfill failed: %v", err)
			}
		}()
	}

	collector := metrics.NewCollector(&statsAdapter{db: db, queue: q}, metricsInterval)
	collector.Start()

	h := handlers.New(db, q, intake, worker, settings, config)
	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      buildHandler(h, router, config),
		ReadTimeout:  15 * time.Minute, // uploads of large videos
		WriteTimeout: 0,                // video streaming; bounded per write instead
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(h, config.MetricsPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go handleShutdown(components{
		srv:        srv,
		metricsSrv: metricsSrv,
		worker:     worker,
		collector:  collector,
		monitor:    monitor,
		transcoder: trans,
		cancel:     cancel,
	}, done)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}

	// Databases close via defer once shutdown has drained everything using them.
	<-done
}

// buildHandler wraps the router in the middleware chain. Auth runs
// innermost so access logs and metrics see its 401s.
func buildHandler(h *handlers.Handlers, router *mux.Router, config *startup.Config) http.Handler {
	authed := h.AuthMiddleware(router)

	measured := middleware.Metrics(middleware.DefaultMetricsConfig())(authed)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	logged := middleware.Logger(loggingConfig)(measured)

	return middleware.Compression(middleware.DefaultCompressionConfig())(logged)
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no auth required)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/register", h.Register).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/logout", h.Logout).Methods("POST")
	auth.HandleFunc("/check", h.CheckAuth).Methods("GET")

	// Protected API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", h.Upload).Methods("POST")

	// Queue
	api.HandleFunc("/queue/status", h.QueueStatus).Methods("GET")
	api.HandleFunc("/queue/pending", h.PendingCount).Methods("GET")
	api.HandleFunc("/queue/{id:[0-9]+}/cancel", h.CancelJob).Methods("POST")
	api.HandleFunc("/queue/{id:[0-9]+}/retry", h.RetryJob).Methods("POST")

	// Catalog
	api.HandleFunc("/feed", h.Feed).Methods("GET")
	api.HandleFunc("/gallery", h.Gallery).Methods("GET")
	api.HandleFunc("/gallery/{username}", h.Gallery).Methods("GET")
	api.HandleFunc("/my-uploads", h.MyUploads).Methods("GET")
	api.HandleFunc("/media/dates", h.EditDates).Methods("POST")
	api.HandleFunc("/media/delete", h.DeleteMedia).Methods("POST")

	// Albums
	api.HandleFunc("/albums", h.ListAlbums).Methods("GET")
	api.HandleFunc("/albums", h.CreateAlbum).Methods("POST")
	api.HandleFunc("/albums/{id}/media", h.AlbumMedia).Methods("GET")
	api.HandleFunc("/albums/{id}/items", h.AddAlbumItems).Methods("POST")

	// Admin
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(handlers.AdminOnly)
	admin.HandleFunc("/queue", h.AdminQueue).Methods("GET")
	admin.HandleFunc("/settings", h.GetSettings).Methods("GET")
	admin.HandleFunc("/settings", h.UpdateSettings).Methods("POST")
	admin.HandleFunc("/settings/reload", h.ReloadSettings).Methods("POST")
	admin.HandleFunc("/users", h.ListUsers).Methods("GET")

	// Stored uploads and previews
	r.HandleFunc("/uploads/{filename}", h.ServeUpload).Methods("GET", "HEAD")

	return r
}

func newMetricsServer(h *handlers.Handlers, port string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", h.MetricsHandler())
	metricsMux.HandleFunc("/health", h.LivenessCheck)

	return &http.Server{
		Addr:         ":" + port,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

// statsAdapter feeds catalog and queue counts to the metrics collector.
type statsAdapter struct {
	db    *database.Database
	queue *queue.Store
}

// GetStats implements metrics.StatsProvider
func (a *statsAdapter) GetStats() metrics.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stats metrics.Stats
	if counts, err := a.queue.Stats(ctx); err != nil {
		logging.Warn("Failed to collect queue stats: %v", err)
	} else {
		stats.PendingJobs = counts.Pending
		stats.ProcessingJobs = counts.Processing
		stats.FailedJobs = counts.Failed
	}
	if cs, err := a.db.Stats(ctx); err != nil {
		logging.Warn("Failed to collect catalog stats: %v", err)
	} else {
		stats.TotalAssets = cs.TotalAssets
		stats.TotalUsers = cs.TotalUsers
	}
	return stats
}

func cleanSessions(ctx context.Context, db *database.Database) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := db.CleanExpiredSessions(ctx)
			if err != nil {
				logging.Warn("Session cleanup failed: %v", err)
			} else if n > 0 {
				logging.Debug("Removed %d expired session(s)", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

type closer interface {
	Close() error
}

func closeDB(name string, c closer) {
	if err := c.Close(); err != nil {
		logging.Warn("Failed to close %s database: %v", name, err)
	}
}

func handleShutdown(c components, done chan<- struct{}) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := c.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping background tasks")
	c.cancel()
	c.collector.Stop()
	c.monitor.Stop()
	startup.LogShutdownStepComplete("Background tasks stopped")

	// Interrupt first so a job killed by the transcoder cleanup stays
	// processing and is recovered on the next start.
	startup.LogShutdownStep("Stopping ingest worker")
	c.worker.Interrupt()
	c.transcoder.Cleanup()
	c.worker.Stop()
	startup.LogShutdownStepComplete("Ingest worker stopped")

	if c.metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := c.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownComplete()
}
