package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"media-share/internal/ingest"
	"media-share/internal/logging"
)

// maxFieldBytes bounds the caption and album_id form fields.
const maxFieldBytes = 64 << 10

// maxUploadBytes bounds a whole upload request.
var maxUploadBytes int64 = 4 << 30

// Upload accepts a multipart form with one or more "files", an optional
// "caption" and an optional "album_id", in any order. Each file part is
// copied straight into the temp dir as it is read. Files that need
// transcoding are queued; the rest are stored before the response is
// written.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSONError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	batch := h.intake.NewBatch(user.Username)
	var caption, albumID string

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			switch p.FormName() {
			case "files":
				if p.FileName() != "" {
					batch.Add(ingest.Upload{
						Filename:    p.FileName(),
						ContentType: p.Header.Get("Content-Type"),
						Body:        p,
					})
				}
			case "caption":
				caption, err = readField(p)
			case "album_id":
				albumID, err = readField(p)
			}
			closeQuietly(p)
		}
		if err != nil {
			batch.Discard()
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
				return
			}
			logging.Debug("Rejected upload from %s: %v", user.Username, err)
			writeJSONError(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
	}

	if batch.Len() == 0 {
		writeJSONError(w, "no files uploaded", http.StatusBadRequest)
		return
	}

	writeJSONResponse(w, batch.Commit(r.Context(), caption, albumID))
}

func readField(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", fmt.Errorf("form field longer than %d bytes", maxFieldBytes)
	}
	return string(data), nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		logging.Debug("close upload part: %v", err)
	}
}
