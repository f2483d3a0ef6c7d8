package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"media-share/internal/filesystem"
	"media-share/internal/mediatypes"
	"media-share/internal/metrics"
	"media-share/internal/queue"
)

// Enqueuer accepts uploads that must be converted in the background.
type Enqueuer interface {
	Enqueue(ctx context.Context, in queue.NewJob) (*queue.Job, error)
}

// Upload is one file from an upload request.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Request is a batch of files sharing a caption and album.
type Request struct {
	Username string
	Caption  string
	AlbumID  string
	Files    []Upload
}

// File outcomes reported in a Result.
const (
	OutcomeUploaded = "uploaded"
	OutcomeQueued   = "queued"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// FileResult is the outcome for a single uploaded file.
type FileResult struct {
	Name     string `json:"name"`
	Outcome  string `json:"outcome"`
	Filename string `json:"filename,omitempty"`
	JobID    int64  `json:"jobId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result summarizes an upload request.
type Result struct {
	Uploaded int          `json:"uploaded"`
	Queued   int          `json:"queued"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Files    []FileResult `json:"files"`
}

func (r *Result) add(f FileResult) {
	switch f.Outcome {
	case OutcomeUploaded:
		r.Uploaded++
	case OutcomeQueued:
		r.Queued++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Files = append(r.Files, f)
	metrics.IngestUploadsTotal.WithLabelValues(f.Outcome).Inc()
}

// Intake routes each uploaded file either straight through the pipeline or
// onto the queue, depending on whether it needs transcoding.
type Intake struct {
	tempDir  string
	queue    Enqueuer
	pipeline *Pipeline
}

// NewIntake creates an Intake that stages uploads in tempDir.
func NewIntake(tempDir string, q Enqueuer, p *Pipeline) *Intake {
	return &Intake{tempDir: tempDir, queue: q, pipeline: p}
}

// Accept handles every file in req. Per-file problems are reported in the
// Result and never abort the rest of the batch.
func (in *Intake) Accept(ctx context.Context, req Request) Result {
	b := in.NewBatch(req.Username)
	for _, up := range req.Files {
		b.Add(up)
	}
	return b.Commit(ctx, req.Caption, req.AlbumID)
}

// Batch collects the files of one upload request as they arrive. Files are
// validated and staged by Add and routed by Commit, once the request's
// caption and album are known.
type Batch struct {
	intake   *Intake
	username string
	files    []FileResult
	staged   []stagedFile
}

type stagedFile struct {
	index int
	name  string
	path  string
}

// NewBatch starts a batch for username.
func (in *Intake) NewBatch(username string) *Batch {
	return &Batch{intake: in, username: username}
}

// Add validates up and copies its body into the temp dir. A rejected or
// unreadable file is recorded and the batch carries on.
func (b *Batch) Add(up Upload) {
	name := filepath.Base(up.Filename)
	fr := FileResult{Name: name}

	if err := validate(name, up.ContentType); err != nil {
		log.Debug("Skipping %s: %v", name, err)
		fr.Outcome = OutcomeSkipped
		fr.Error = err.Error()
		b.files = append(b.files, fr)
		return
	}

	tmp, err := b.intake.stage(name, up.Body)
	if err != nil {
		log.Error("Failed to stage %s: %v", name, err)
		fr.Outcome = OutcomeFailed
		fr.Error = "could not store upload"
		b.files = append(b.files, fr)
		return
	}

	b.staged = append(b.staged, stagedFile{index: len(b.files), name: name, path: tmp})
	b.files = append(b.files, fr)
}

// Len returns the number of files added so far.
func (b *Batch) Len() int {
	return len(b.files)
}

// Discard removes every staged file without routing it.
func (b *Batch) Discard() {
	for _, s := range b.staged {
		filesystem.RemoveQuietly(s.path)
	}
	b.staged = nil
}

// Commit routes each staged file, in the order added, and summarizes the
// batch.
func (b *Batch) Commit(ctx context.Context, caption, albumID string) Result {
	caption = strings.TrimSpace(caption)
	albumID = strings.TrimSpace(albumID)

	for _, s := range b.staged {
		b.files[s.index] = b.intake.route(ctx, b.username, caption, albumID, s.name, s.path)
	}
	b.staged = nil

	res := Result{Files: []FileResult{}}
	for _, f := range b.files {
		res.add(f)
	}

	log.Info("Upload from %s: %d uploaded, %d queued, %d skipped, %d failed",
		b.username, res.Uploaded, res.Queued, res.Skipped, res.Failed)
	return res
}

// route queues a staged file that needs transcoding and ingests the rest.
func (in *Intake) route(ctx context.Context, username, caption, albumID, name, tmp string) FileResult {
	fr := FileResult{Name: name}
	ext := mediatypes.Ext(name)
	fr.Filename = uuid.NewString() + mediatypes.NormalizedExt(ext)
	isVideo := mediatypes.IsVideo(ext)

	if mediatypes.RequiresTranscode(ext) {
		job, err := in.queue.Enqueue(ctx, queue.NewJob{
			Username:     username,
			OriginalPath: tmp,
			FinalName:    fr.Filename,
			Caption:      caption,
			IsVideo:      isVideo,
			AlbumID:      albumID,
		})
		if err != nil {
			filesystem.RemoveQuietly(tmp)
			log.Error("Failed to enqueue %s: %v", name, err)
			fr.Outcome = OutcomeFailed
			fr.Error = "could not queue upload"
			return fr
		}
		fr.Outcome = OutcomeQueued
		fr.JobID = job.ID
		return fr
	}

	if _, err := in.pipeline.Ingest(ctx, Item{
		Username:   username,
		Source:     tmp,
		SourceName: name,
		FinalName:  fr.Filename,
		Caption:    caption,
		AlbumID:    albumID,
		IsVideo:    isVideo,
	}); err != nil {
		filesystem.RemoveQuietly(tmp)
		log.Error("Failed to ingest %s: %v", name, err)
		fr.Outcome = OutcomeFailed
		fr.Error = "could not process upload"
		return fr
	}

	fr.Outcome = OutcomeUploaded
	return fr
}

func validate(name, contentType string) error {
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("%w: missing filename", ErrValidation)
	}
	if !mediatypes.AcceptsContentType(contentType) {
		return fmt.Errorf("%w: content type %q is not an image or video", ErrValidation, contentType)
	}
	if !mediatypes.IsMediaFile(mediatypes.Ext(name)) {
		return fmt.Errorf("%w: unsupported file type %q", ErrValidation, mediatypes.Ext(name))
	}
	return nil
}

// stage copies body into a new file in the temp dir. The upload name is kept
// in the temp name so capture dates in filenames survive until ingestion.
func (in *Intake) stage(name string, body io.Reader) (path string, err error) {
	ext := mediatypes.Ext(name)
	base := sanitize(strings.TrimSuffix(name, filepath.Ext(name)))

	f, err := os.CreateTemp(in.tempDir, base+".*"+ext)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			filesystem.RemoveQuietly(f.Name())
		}
	}()

	if _, err = io.Copy(f, body); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// sanitize keeps letters, digits, space and -_. so the name is safe as a
// temp file prefix.
func sanitize(base string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == '-' || r == '_' || r == '.' || r == ' ':
			return r
		default:
			return '_'
		}
	}, base)
	if len(out) > 100 {
		out = out[:100]
	}
	if out == "" {
		out = "upload"
	}
	return out
}
