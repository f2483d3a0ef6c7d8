package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"media-share/internal/database"
	"media-share/internal/filesystem"
	"media-share/internal/logging"
	"media-share/internal/metrics"
	"media-share/internal/queue"
)

// ErrValidation marks an upload rejected before it reached the pipeline.
var ErrValidation = errors.New("invalid upload")

var log = logging.With("Ingest")

// Normalizer converts a source file into its stored form.
type Normalizer interface {
	Normalize(ctx context.Context, src, dst string, isVideo bool) error
}

// PreviewRenderer writes the preview image for a stored file.
type PreviewRenderer interface {
	Generate(ctx context.Context, src, dst string, isVideo bool) error
}

// DateExtractor finds the capture time of a file. Metadata is read from
// paths in order; name is the filename the user uploaded, consulted when
// none of them carries a date.
type DateExtractor interface {
	DetermineDateTakenFrom(ctx context.Context, name string, paths ...string) *time.Time
}

// Catalog records finished uploads.
type Catalog interface {
	GetAsset(ctx context.Context, filename string) (*database.MediaAsset, error)
	CommitAsset(ctx context.Context, in database.NewAsset) (*database.MediaAsset, error)
}

// Item is one file on its way into the catalog.
type Item struct {
	Username string
	// Source is the temporary file holding the upload.
	Source string
	// SourceName is the name the file was uploaded with.
	SourceName string
	FinalName  string
	Caption    string
	AlbumID    string
	IsVideo    bool
	// Transcode runs the Normalizer; otherwise Source is moved into place.
	Transcode bool
}

// Pipeline turns an uploaded file into a stored file, a preview and a
// catalog row. An attempt either produces all three or none of them.
type Pipeline struct {
	uploadDir  string
	normalizer Normalizer
	previews   PreviewRenderer
	dates      DateExtractor
	catalog    Catalog
}

// NewPipeline creates a pipeline writing into uploadDir.
func NewPipeline(uploadDir string, n Normalizer, p PreviewRenderer, d DateExtractor, c Catalog) *Pipeline {
	return &Pipeline{
		uploadDir:  uploadDir,
		normalizer: n,
		previews:   p,
		dates:      d,
		catalog:    c,
	}
}

// Process runs a claimed queue job through the pipeline. The job's temp
// source is left in place; the worker removes it once the job completes.
func (p *Pipeline) Process(ctx context.Context, job *queue.Job) error {
	// A crash between commit and Complete leaves a job whose asset already
	// exists. Re-running it would collide with the committed row.
	if asset, err := p.catalog.GetAsset(ctx, job.FinalName); err == nil {
		log.Warn("Job %d: %s already committed as %s, skipping", job.ID, job.FinalName, asset.ID)
		return nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("check existing asset: %w", err)
	}

	_, err := p.Ingest(ctx, Item{
		Username:   job.Username,
		Source:     job.OriginalPath,
		SourceName: filepath.Base(job.OriginalPath),
		FinalName:  job.FinalName,
		Caption:    job.Caption,
		AlbumID:    job.AlbumID,
		IsVideo:    job.IsVideo,
		Transcode:  true,
	})
	return err
}

// Ingest stores it, renders its preview, determines its capture date and
// commits the asset, in that order. Any failure removes the stored file and
// preview written by this attempt and commits nothing.
func (p *Pipeline) Ingest(ctx context.Context, it Item) (asset *database.MediaAsset, err error) {
	start := time.Now()
	path := "sync"
	if it.Transcode {
		path = "queued"
	}

	final := filepath.Join(p.uploadDir, it.FinalName)
	preview := filepath.Join(p.uploadDir, database.PreviewName(it.FinalName))

	defer func() {
		metrics.IngestJobDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		if err != nil {
			filesystem.RemoveQuietly(final, preview)
			metrics.IngestJobsTotal.WithLabelValues(path, "error").Inc()
			return
		}
		metrics.IngestJobsTotal.WithLabelValues(path, "success").Inc()
	}()

	if err = step("normalize", func() error {
		if it.Transcode {
			return p.normalizer.Normalize(ctx, it.Source, final, it.IsVideo)
		}
		return filesystem.Move(it.Source, final)
	}); err != nil {
		return nil, fmt.Errorf("store %s: %w", it.FinalName, err)
	}

	if err = step("preview", func() error {
		return p.previews.Generate(ctx, final, preview, it.IsVideo)
	}); err != nil {
		return nil, fmt.Errorf("preview %s: %w", it.FinalName, err)
	}

	// Conversion can drop metadata (HEIC to JPEG loses EXIF), so a
	// transcoded upload is read before its output.
	paths := []string{final}
	if it.Transcode {
		paths = []string{it.Source, final}
	}
	var taken *time.Time
	_ = step("date", func() error {
		taken = p.dates.DetermineDateTakenFrom(ctx, it.SourceName, paths...)
		return nil
	})

	if err = step("commit", func() error {
		var cerr error
		asset, cerr = p.catalog.CommitAsset(ctx, database.NewAsset{
			Username:  it.Username,
			Filename:  it.FinalName,
			Caption:   it.Caption,
			DateTaken: taken,
			AlbumID:   it.AlbumID,
		})
		return cerr
	}); err != nil {
		return nil, fmt.Errorf("commit %s: %w", it.FinalName, err)
	}

	log.Info("Ingested %s for %s (%s) in %v", it.FinalName, it.Username, path, time.Since(start).Round(time.Millisecond))
	return asset, nil
}

func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.IngestStepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}
