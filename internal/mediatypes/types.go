package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType represents the type of a media file.
type FileType string

const (
	// FileTypeImage represents an image file.
	FileTypeImage FileType = "image"
	// FileTypeVideo represents a video file.
	FileTypeVideo FileType = "video"
	// FileTypeOther represents an unknown or unsupported file type.
	FileTypeOther FileType = "other"
)

// ImageExtensions maps file extensions to whether they are accepted image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
}

// VideoExtensions maps file extensions to whether they are accepted video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".m4v":  true,
	".3gp":  true,
}

// TranscodeExtensions are the formats browsers cannot display directly.
// Uploads in these formats go through the queue.
var TranscodeExtensions = map[string]bool{
	".mov":  true,
	".heic": true,
	".heif": true,
	".3gp":  true,
	".mkv":  true,
	".avi":  true,
	".wmv":  true,
	".flv":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",

	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
}

// Ext returns the lowercase extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// GetFileType returns the FileType for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
func GetFileType(ext string) FileType {
	if ImageExtensions[ext] {
		return FileTypeImage
	}
	if VideoExtensions[ext] {
		return FileTypeVideo
	}
	return FileTypeOther
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsMediaFile returns true if the extension represents a supported media file.
func IsMediaFile(ext string) bool {
	return GetFileType(ext) != FileTypeOther
}

// IsVideo reports whether ext is a video extension.
func IsVideo(ext string) bool {
	return VideoExtensions[ext]
}

// IsImage reports whether ext is an image extension.
func IsImage(ext string) bool {
	return ImageExtensions[ext]
}

// RequiresTranscode reports whether an upload with this extension must be
// converted before it can be shown, and therefore goes through the queue.
// This is the only place that decides between the synchronous and queued
// ingestion paths.
func RequiresTranscode(ext string) bool {
	return TranscodeExtensions[ext]
}

// NormalizedExt returns the extension of the stored file for an upload with
// extension ext. Videos that need transcoding become .mp4, HEIC/HEIF stills
// become .jpg; everything else keeps its extension.
func NormalizedExt(ext string) string {
	if !RequiresTranscode(ext) {
		return ext
	}
	if IsVideo(ext) {
		return ".mp4"
	}
	return ".jpg"
}

// AcceptsContentType reports whether a declared upload content type is an
// image or video type.
func AcceptsContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/")
}
