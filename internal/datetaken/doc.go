// Package datetaken finds the capture date of uploaded photos and videos.
//
// Sources are tried in order:
//
//  1. Embedded metadata: EXIF DateTimeOriginal for images, the container
//     creation_time (via ffprobe) for videos.
//  2. Date patterns in the filename, as produced by common phones, cloud
//     exports and screenshot tools.
//
// Values without a zone offset are read in the Extractor's Location. A file
// with no recognizable date yields nil; the gallery then falls back to the
// upload time.
package datetaken
