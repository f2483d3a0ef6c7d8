// Package media renders the small JPEG previews shown in the feed and
// gallery.
//
// PreviewGenerator picks the cheapest decoder that works for a file:
// libvips (when InitVips succeeded), then imaging, then ffmpeg. Videos always
// go through ffmpeg.
package media
