package datetaken

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"media-share/internal/logging"
	"media-share/internal/mediatypes"
	"media-share/internal/metrics"
)

// exifLayout is the EXIF DateTimeOriginal format.
const exifLayout = "2006:01:02 15:04:05"

// Extensions whose embedded metadata is consulted before the filename.
var (
	exifExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
		".heic": true, ".heif": true, ".tif": true, ".tiff": true,
	}
	// HEIF keeps EXIF as a separate item rather than an APP1 segment.
	heifExtensions = map[string]bool{".heic": true, ".heif": true}

	containerExtensions = map[string]bool{
		".mp4": true, ".webm": true, ".mov": true, ".avi": true,
		".mkv": true, ".3gp": true, ".m4v": true,
	}
)

// CreationTimeProber reads the creation time recorded in a media container.
type CreationTimeProber interface {
	CreationTime(ctx context.Context, path string) (time.Time, error)
}

// Extractor determines when a photo or video was captured.
type Extractor struct {
	// Location interprets wall-clock values that carry no offset (EXIF and
	// filenames). Nil means UTC.
	Location *time.Location
	// Prober reads container metadata for videos. Nil skips that step.
	Prober CreationTimeProber
}

var log = logging.With("Date")

// New returns an Extractor.
func New(loc *time.Location, prober CreationTimeProber) *Extractor {
	return &Extractor{Location: loc, Prober: prober}
}

func (e *Extractor) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// DetermineDateTaken returns the capture time of the file at path, or nil if
// none can be found. Metadata is consulted first, then the filename. It
// never fails.
func (e *Extractor) DetermineDateTaken(ctx context.Context, path string) *time.Time {
	return e.DetermineDateTakenAs(ctx, path, filepath.Base(path))
}

// DetermineDateTakenAs is DetermineDateTaken for a file stored under a
// generated name: metadata is read from path, but the filename patterns are
// matched against name, the name the file was uploaded with.
func (e *Extractor) DetermineDateTakenAs(ctx context.Context, path, name string) *time.Time {
	return e.DetermineDateTakenFrom(ctx, name, path)
}

// DetermineDateTakenFrom reads embedded metadata from each of paths in turn
// and only then falls back to the patterns in name. Passing the upload
// before its converted copy keeps metadata the conversion dropped.
func (e *Extractor) DetermineDateTakenFrom(ctx context.Context, name string, paths ...string) *time.Time {
	for _, path := range paths {
		if t, ok := e.fromMetadata(ctx, path); ok {
			return &t
		}
	}

	if t, ok := ParseFilename(name, e.location()); ok {
		metrics.DateExtractionsTotal.WithLabelValues("filename").Inc()
		log.Debug("filename: %s -> %s", name, t)
		return &t
	}

	metrics.DateExtractionsTotal.WithLabelValues("none").Inc()
	log.Debug("no capture date found for %s", name)
	return nil
}

func (e *Extractor) fromMetadata(ctx context.Context, path string) (time.Time, bool) {
	ext := mediatypes.Ext(path)

	switch {
	case exifExtensions[ext]:
		if t, ok := e.fromEXIF(path); ok {
			metrics.DateExtractionsTotal.WithLabelValues("exif").Inc()
			log.Debug("EXIF: %s -> %s", path, t)
			return t, true
		}
	case containerExtensions[ext]:
		if t, ok := e.fromContainer(ctx, path); ok {
			metrics.DateExtractionsTotal.WithLabelValues("container").Inc()
			log.Debug("container: %s -> %s", path, t)
			return t, true
		}
	}
	return time.Time{}, false
}

func (e *Extractor) fromEXIF(path string) (t time.Time, ok bool) {
	defer func() {
		// goexif panics on some malformed IFDs
		if r := recover(); r != nil {
			log.Warn("EXIF decoder panic for %s: %v", path, r)
			ok = false
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	var src io.Reader = f
	if heifExtensions[mediatypes.Ext(path)] {
		if src, err = heifExif(f); err != nil {
			log.Debug("no EXIF item in %s: %v", path, err)
			return time.Time{}, false
		}
	}

	x, err := exif.Decode(src)
	if err != nil {
		log.Debug("no EXIF in %s: %v", path, err)
		return time.Time{}, false
	}

	tag, err := x.Get(exif.DateTimeOriginal)
	if err != nil {
		return time.Time{}, false
	}
	raw, err := tag.StringVal()
	if err != nil {
		return time.Time{}, false
	}

	return parseEXIFTime(raw, e.location())
}

func parseEXIFTime(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "\x00")
	t, err := time.ParseInLocation(exifLayout, raw, loc)
	if err != nil || t.Year() < 1900 {
		return time.Time{}, false
	}
	return t, true
}

func (e *Extractor) fromContainer(ctx context.Context, path string) (time.Time, bool) {
	if e.Prober == nil {
		return time.Time{}, false
	}
	t, err := e.Prober.CreationTime(ctx, path)
	if err != nil || t.IsZero() {
		if err != nil {
			log.Debug("probe failed for %s: %v", path, err)
		}
		return time.Time{}, false
	}
	return t, true
}

type filenamePattern struct {
	re     *regexp.Regexp
	layout string
}

// Tried in order; the first pattern whose match parses as a real calendar
// date wins.
var filenamePatterns = []filenamePattern{
	{regexp.MustCompile(`(\d{8})[-_](\d{6})`), "20060102150405"},
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2}) (\d{2})\.(\d{2})\.(\d{2})`), "20060102150405"},
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[-_](\d{2})[-_](\d{2})[-_](\d{2})`), "20060102150405"},
	{regexp.MustCompile(`(\d{14})`), "20060102150405"},
	{regexp.MustCompile(`(\d{4})[-_](\d{2})[-_](\d{2})`), "20060102"},
}

// ParseFilename extracts a capture time embedded in a filename such as
// "IMG_20210614_093015.jpg", "Photo 2021-06-14 09.30.15.heic" or
// "Screenshot_2021-06-14-09-30-15.png". The extension is ignored.
func ParseFilename(name string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))

	for _, p := range filenamePatterns {
		m := p.re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		t, err := time.ParseInLocation(p.layout, strings.Join(m[1:], ""), loc)
		if err != nil {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}
