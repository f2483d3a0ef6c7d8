package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"media-share/internal/database"
	"media-share/internal/filesystem"
	"media-share/internal/mediatypes"
	"media-share/internal/metrics"
	"media-share/internal/workers"
)

// BackfillCatalog is the catalog access needed to repair existing assets.
type BackfillCatalog interface {
	ListAssets(ctx context.Context) ([]database.MediaAsset, error)
	ListMissingDates(ctx context.Context) ([]database.MediaAsset, error)
	UpdateDateTaken(ctx context.Context, filename string, t time.Time) error
}

// BackfillResult counts what a backfill run repaired.
type BackfillResult struct {
	PreviewsGenerated int           `json:"previewsGenerated"`
	PreviewsFailed    int           `json:"previewsFailed"`
	DatesFound        int           `json:"datesFound"`
	DatesMissing      int           `json:"datesMissing"`
	Duration          time.Duration `json:"duration"`
}

// Backfill regenerates missing previews and fills in capture dates for
// assets committed without one.
type Backfill struct {
	uploadDir string
	catalog   BackfillCatalog
	previews  PreviewRenderer
	dates     DateExtractor
	workers   int
}

// NewBackfill creates a backfill. numWorkers <= 0 sizes the pool from the
// available CPUs.
func NewBackfill(uploadDir string, c BackfillCatalog, p PreviewRenderer, d DateExtractor, numWorkers int) *Backfill {
	if numWorkers <= 0 {
		numWorkers = workers.ForMixed(4)
	}
	return &Backfill{
		uploadDir: uploadDir,
		catalog:   c,
		previews:  p,
		dates:     d,
		workers:   numWorkers,
	}
}

// Run repairs previews, then dates.
func (b *Backfill) Run(ctx context.Context) (BackfillResult, error) {
	start := time.Now()
	var res BackfillResult
	var err error

	res.PreviewsGenerated, res.PreviewsFailed, err = b.Previews(ctx)
	if err != nil {
		return res, err
	}
	res.DatesFound, res.DatesMissing, err = b.Dates(ctx)
	if err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	log.Info("Backfill complete in %v: %d previews generated (%d failed), %d dates found (%d still unknown)",
		res.Duration.Round(time.Millisecond), res.PreviewsGenerated, res.PreviewsFailed, res.DatesFound, res.DatesMissing)
	return res, nil
}

// Previews renders the preview of every asset whose file exists but whose
// preview does not.
func (b *Backfill) Previews(ctx context.Context) (generated, failed int, err error) {
	assets, err := b.catalog.ListAssets(ctx)
	if err != nil {
		return 0, 0, err
	}

	var ok, bad atomic.Int64
	b.each(ctx, assets, func(a database.MediaAsset) {
		final := filepath.Join(b.uploadDir, a.Filename)
		preview := filepath.Join(b.uploadDir, a.PreviewFilename())
		if filesystem.Exists(preview) || !filesystem.Exists(final) {
			return
		}

		isVideo := mediatypes.IsVideo(mediatypes.Ext(a.Filename))
		if err := b.previews.Generate(ctx, final, preview, isVideo); err != nil {
			log.Warn("Backfill preview failed for %s: %v", a.Filename, err)
			metrics.BackfillItemsTotal.WithLabelValues("preview", "error").Inc()
			bad.Add(1)
			return
		}
		metrics.BackfillItemsTotal.WithLabelValues("preview", "success").Inc()
		ok.Add(1)
	})

	return int(ok.Load()), int(bad.Load()), ctx.Err()
}

// Dates determines and stores capture dates for assets that have none.
func (b *Backfill) Dates(ctx context.Context) (found, missing int, err error) {
	assets, err := b.catalog.ListMissingDates(ctx)
	if err != nil {
		return 0, 0, err
	}

	var ok, none atomic.Int64
	b.each(ctx, assets, func(a database.MediaAsset) {
		final := filepath.Join(b.uploadDir, a.Filename)
		if !filesystem.Exists(final) {
			return
		}

		taken := b.dates.DetermineDateTakenFrom(ctx, a.Filename, final)
		if taken == nil {
			metrics.BackfillItemsTotal.WithLabelValues("date", "none").Inc()
			none.Add(1)
			return
		}
		if err := b.catalog.UpdateDateTaken(ctx, a.Filename, *taken); err != nil {
			log.Warn("Backfill date update failed for %s: %v", a.Filename, err)
			metrics.BackfillItemsTotal.WithLabelValues("date", "error").Inc()
			return
		}
		metrics.BackfillItemsTotal.WithLabelValues("date", "success").Inc()
		ok.Add(1)
	})

	return int(ok.Load()), int(none.Load()), ctx.Err()
}

// each runs fn over assets on the worker pool, stopping early when ctx ends.
func (b *Backfill) each(ctx context.Context, assets []database.MediaAsset, fn func(database.MediaAsset)) {
	jobs := make(chan database.MediaAsset)
	var wg sync.WaitGroup

	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				fn(a)
			}
		}()
	}

feed:
	for _, a := range assets {
		select {
		case jobs <- a:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}
