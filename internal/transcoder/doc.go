// Package transcoder wraps ffmpeg and ffprobe for the ingestion pipeline.
//
// [Transcoder.Normalize] turns an upload into a browser-friendly file
// (H.264/AAC MP4 for video, JPEG for HEIC stills) under a configurable
// timeout, and [Transcoder.Probe] reads duration, codec, dimensions and the
// container creation time. Every tool failure wraps [ErrProcessing].
package transcoder
