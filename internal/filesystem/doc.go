// Package filesystem wraps the file operations used by the ingestion
// pipeline with retries for stale NFS file handles.
//
// Upload, temp and database directories are frequently network mounts in
// container deployments. An ESTALE error there is usually transient, so
// stat, open, remove and rename are retried with capped exponential backoff
// before the error is returned. Each retry is counted in the
// media_share_filesystem_* metrics, labeled with the volume name resolved by
// [VolumeResolver].
//
// Outputs are written with [WriteAtomic]: data goes to a hidden temporary
// sibling which is renamed over the destination only after it has been fully
// written and synced, so readers never observe a partial preview or video.
//
//	err := filesystem.WriteAtomic(previewPath, func(w io.Writer) error {
//	    return jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
//	})
package filesystem
