// Package mediatypes classifies uploads by file extension.
//
// It is a dependency-free leaf package so that the intake endpoint, the
// worker, the preview generator and the date extractor all agree on what
// counts as an image or a video.
//
// The most important function is [RequiresTranscode]: uploads for which it
// returns true are persisted and queued for background conversion; all other
// media is ingested synchronously within the upload request.
//
//	ext := mediatypes.Ext(header.Filename)
//	if mediatypes.RequiresTranscode(ext) {
//	    // enqueue; stored name ends in mediatypes.NormalizedExt(ext)
//	}
package mediatypes
