package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-share/internal/filesystem"
	"media-share/internal/logging"
	"media-share/internal/metrics"
	"media-share/internal/transcoder"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// DefaultPreviewWidth is the width of every generated preview.
	DefaultPreviewWidth = 320

	// DefaultPreviewTimeout bounds a single ffmpeg frame extraction.
	DefaultPreviewTimeout = 2 * time.Minute

	// MaxImagePixels is the largest image decoded in-process by imaging.
	// Bigger images go through ffmpeg, which scales while decoding.
	MaxImagePixels = 40_000_000

	previewQuality = 85

	// videoSeek matches the frame position the web player poster uses.
	videoSeek = "0.5"
)

var log = logging.With("Preview")

// PreviewOptions configures a PreviewGenerator.
type PreviewOptions struct {
	FFmpegPath string
	Width      int
	Timeout    time.Duration
}

// PreviewGenerator renders small JPEG previews for images and videos.
type PreviewGenerator struct {
	ffmpeg  string
	width   int
	timeout time.Duration
}

// NewPreviewGenerator creates a generator, filling in defaults for zero options.
func NewPreviewGenerator(opts PreviewOptions) *PreviewGenerator {
	g := &PreviewGenerator{
		ffmpeg:  opts.FFmpegPath,
		width:   opts.Width,
		timeout: opts.Timeout,
	}
	if g.ffmpeg == "" {
		g.ffmpeg = "ffmpeg"
	}
	if g.width <= 0 {
		g.width = DefaultPreviewWidth
	}
	if g.timeout <= 0 {
		g.timeout = DefaultPreviewTimeout
	}
	return g
}

// Width returns the preview width in pixels.
func (g *PreviewGenerator) Width() int {
	return g.width
}

// Generate writes a JPEG preview of src to dst.
//
// Videos use a frame half a second in, falling back to the first frame for
// clips shorter than that. Images are tried with libvips, then imaging, then
// ffmpeg. dst is replaced atomically and never left partially written.
// Every error wraps transcoder.ErrProcessing.
func (g *PreviewGenerator) Generate(ctx context.Context, src, dst string, isVideo bool) error {
	start := time.Now()
	kind := "image"
	if isVideo {
		kind = "video"
	}

	var (
		method string
		err    error
	)
	if isVideo {
		method, err = g.videoPreview(ctx, src, dst)
	} else {
		method, err = g.imagePreview(ctx, src, dst)
	}

	metrics.PreviewGenerationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PreviewGenerationsTotal.WithLabelValues(kind, method, "error").Inc()
		log.Warn("Preview failed for %s: %v", filepath.Base(src), err)
		return fmt.Errorf("%w: preview %s: %v", transcoder.ErrProcessing, filepath.Base(src), err)
	}

	metrics.PreviewGenerationsTotal.WithLabelValues(kind, method, "success").Inc()
	log.Debug("Preview %s generated via %s in %v", filepath.Base(dst), method, time.Since(start).Round(time.Millisecond))
	return nil
}

func (g *PreviewGenerator) videoPreview(ctx context.Context, src, dst string) (string, error) {
	img, err := g.ffmpegFrame(ctx, src, true)
	if err != nil {
		log.Debug("Seek to %ss failed for %s, using first frame: %v", videoSeek, filepath.Base(src), err)
		img, err = g.ffmpegFrame(ctx, src, false)
		if err != nil {
			return "ffmpeg", err
		}
	}
	return "ffmpeg", g.writeImage(dst, img)
}

func (g *PreviewGenerator) imagePreview(ctx context.Context, src, dst string) (string, error) {
	if IsVipsAvailable() {
		buf, err := vipsPreview(src, g.width, previewQuality)
		if err == nil {
			return "vips", filesystem.WriteAtomic(dst, func(w io.Writer) error {
				_, err := w.Write(buf)
				return err
			})
		}
		log.Debug("vips failed for %s: %v, trying imaging", filepath.Base(src), err)
	}

	if tooLarge(src) {
		log.Debug("%s exceeds %d pixels, decoding with ffmpeg", filepath.Base(src), MaxImagePixels)
	} else {
		img, err := imaging.Open(src, imaging.AutoOrientation(true))
		if err == nil {
			return "imaging", g.writeImage(dst, img)
		}
		log.Debug("imaging.Open failed for %s: %v, trying ffmpeg", filepath.Base(src), err)
	}

	img, err := g.ffmpegFrame(ctx, src, false)
	if err != nil {
		return "ffmpeg", fmt.Errorf("all image decode methods failed: %w", err)
	}
	return "ffmpeg", g.writeImage(dst, img)
}

// tooLarge reports whether the image header describes more pixels than
// MaxImagePixels. Unreadable headers are left to the decoder to reject.
func tooLarge(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return false
	}
	return cfg.Width*cfg.Height > MaxImagePixels
}

// ffmpegFrame decodes one frame of src scaled to the preview width.
func (g *PreviewGenerator) ffmpegFrame(ctx context.Context, src string, seek bool) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args := []string{"-v", "error"}
	if seek {
		args = append(args, "-ss", videoSeek)
	}
	args = append(args,
		"-i", src,
		"-frames:v", "1",
		"-vf", "scale="+strconv.Itoa(g.width)+":-2",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	cmd := exec.CommandContext(ctx, g.ffmpeg, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", filepath.Base(src))
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

// writeImage resizes img to the preview width and writes it as JPEG.
func (g *PreviewGenerator) writeImage(dst string, img image.Image) error {
	if img.Bounds().Dx() != g.width {
		img = imaging.Resize(img, g.width, 0, imaging.Lanczos)
	}
	return filesystem.WriteAtomic(dst, func(w io.Writer) error {
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(previewQuality))
	})
}
