package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"media-share/internal/filesystem"
	"media-share/internal/logging"
	"media-share/internal/mediatypes"
	"media-share/internal/metrics"
)

// ErrProcessing is wrapped by every failure of an external media tool.
var ErrProcessing = errors.New("media processing failed")

// DefaultTimeout bounds a single ffmpeg run when none is configured.
const DefaultTimeout = 30 * time.Minute

var log = logging.With("Transcoder")

// Options configures a Transcoder.
type Options struct {
	// FFmpegPath and FFprobePath default to "ffmpeg" and "ffprobe" on PATH.
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds each Normalize call.
	Timeout time.Duration
}

// Transcoder converts uploads into browser-friendly formats with ffmpeg.
type Transcoder struct {
	ffmpeg    string
	ffprobe   string
	timeout   time.Duration
	processes map[string]*exec.Cmd
	processMu sync.Mutex
}

// ProbeResult is the subset of ffprobe output used by the pipeline.
type ProbeResult struct {
	Duration     float64   `json:"duration"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Codec        string    `json:"codec"`
	CreationTime time.Time `json:"creationTime"`
}

// New creates a new Transcoder instance.
func New(opts Options) *Transcoder {
	t := &Transcoder{
		ffmpeg:    opts.FFmpegPath,
		ffprobe:   opts.FFprobePath,
		timeout:   opts.Timeout,
		processes: make(map[string]*exec.Cmd),
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.ffprobe == "" {
		t.ffprobe = "ffprobe"
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	return t
}

// Normalize writes a browser-compatible version of src to dst.
//
// Videos are re-encoded to H.264/AAC in an MP4 container. Images are copied
// unchanged when src and dst share an extension and re-encoded to JPEG
// otherwise. Output goes to a temporary sibling of dst and is renamed into
// place only after ffmpeg exits cleanly, so dst is never left half-written.
func (t *Transcoder) Normalize(ctx context.Context, src, dst string, isVideo bool) error {
	kind := "image"
	if isVideo {
		kind = "video"
	}

	if !isVideo && mediatypes.Ext(src) == mediatypes.Ext(dst) {
		if err := filesystem.CopyFile(src, dst); err != nil {
			metrics.TranscoderJobsTotal.WithLabelValues("copy", "error").Inc()
			return fmt.Errorf("%w: copy %s: %v", ErrProcessing, filepath.Base(src), err)
		}
		metrics.TranscoderJobsTotal.WithLabelValues("copy", "success").Inc()
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("%w: create output: %v", ErrProcessing, err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	var args []string
	if isVideo {
		args = []string{
			"-y", "-v", "error",
			"-i", src,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "23",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-b:a", "128k",
			"-movflags", "+faststart",
			"-f", "mp4",
			tmpName,
		}
	} else {
		args = []string{
			"-y", "-v", "error",
			"-i", src,
			"-frames:v", "1",
			"-c:v", "mjpeg",
			"-q:v", "2",
			"-f", "image2",
			tmpName,
		}
	}

	start := time.Now()
	metrics.TranscoderJobsInProgress.Inc()
	err = t.run(ctx, dst, args)
	metrics.TranscoderJobsInProgress.Dec()

	if err != nil {
		filesystem.RemoveQuietly(tmpName)
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.TranscoderJobsTotal.WithLabelValues(kind, status).Inc()
		return err
	}

	if err := filesystem.Move(tmpName, dst); err != nil {
		filesystem.RemoveQuietly(tmpName)
		metrics.TranscoderJobsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("%w: move output into place: %v", ErrProcessing, err)
	}

	metrics.TranscoderJobsTotal.WithLabelValues(kind, "success").Inc()
	if isVideo {
		metrics.TranscoderJobDuration.Observe(time.Since(start).Seconds())
	}
	log.Info("Normalized %s -> %s in %v", filepath.Base(src), filepath.Base(dst), time.Since(start).Round(time.Millisecond))
	return nil
}

// run executes ffmpeg under the configured timeout and tracks the process
// so Cleanup can kill it.
func (t *Transcoder) run(ctx context.Context, key string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.processMu.Lock()
	t.processes[key] = cmd
	t.processMu.Unlock()

	defer func() {
		t.processMu.Lock()
		delete(t.processes, key)
		t.processMu.Unlock()
	}()

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: ffmpeg timed out after %v: %w", ErrProcessing, t.timeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrProcessing, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		log.Error("ffmpeg failed for %s: %v: %s", filepath.Base(key), err, msg)
		return fmt.Errorf("%w: ffmpeg: %v", ErrProcessing, err)
	}
	return nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string            `json:"codec_type"`
		CodecName string            `json:"codec_name"`
		Width     int               `json:"width"`
		Height    int               `json:"height"`
		Tags      map[string]string `json:"tags"`
	} `json:"streams"`
}

// Probe reads container and stream metadata with ffprobe.
func (t *Transcoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		metrics.ProbeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: ffprobe: %v - %s", ErrProcessing, err, strings.TrimSpace(stderr.String()))
	}

	result, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		metrics.ProbeTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ProbeTotal.WithLabelValues("success").Inc()
	return result, nil
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode ffprobe output: %v", ErrProcessing, err)
	}

	result := &ProbeResult{}
	result.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	result.CreationTime = parseCreationTime(out.Format.Tags["creation_time"])

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if result.Codec == "" {
			result.Codec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
		}
		if result.CreationTime.IsZero() {
			result.CreationTime = parseCreationTime(s.Tags["creation_time"])
		}
	}

	return result, nil
}

func parseCreationTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			// Cameras without a clock write the epoch.
			if t.Year() <= 1970 {
				return time.Time{}
			}
			return t
		}
	}
	return time.Time{}
}

// CreationTime returns the creation_time recorded in the container, or a
// zero time when there is none.
func (t *Transcoder) CreationTime(ctx context.Context, path string) (time.Time, error) {
	result, err := t.Probe(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return result.CreationTime, nil
}

// Active returns the number of ffmpeg processes currently running.
func (t *Transcoder) Active() int {
	t.processMu.Lock()
	defer t.processMu.Unlock()
	return len(t.processes)
}

// Cleanup stops all active transcoding processes.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	for path, cmd := range t.processes {
		if cmd.Process != nil {
			log.Info("Killing transcoding process for: %s", path)
			if err := cmd.Process.Kill(); err != nil {
				log.Warn("failed to kill transcoding process for %s: %v", path, err)
			}
		}
	}
}
