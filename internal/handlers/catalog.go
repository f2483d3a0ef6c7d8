package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"media-share/internal/database"
	"media-share/internal/filesystem"
	"media-share/internal/logging"
	"media-share/internal/mediatypes"
	"media-share/internal/streaming"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// assetView is a MediaAsset with the URLs a client needs to display it.
type assetView struct {
	database.MediaAsset
	PreviewFilename string `json:"previewFilename"`
	URL             string `json:"url"`
	PreviewURL      string `json:"previewUrl"`
	IsVideo         bool   `json:"isVideo"`
}

type galleryView struct {
	Month string      `json:"month"`
	Items []assetView `json:"items"`
}

func newAssetView(a database.MediaAsset) assetView {
	return assetView{
		MediaAsset:      a,
		PreviewFilename: a.PreviewFilename(),
		URL:             "/uploads/" + a.Filename,
		PreviewURL:      "/uploads/" + a.PreviewFilename(),
		IsVideo:         mediatypes.IsVideo(mediatypes.Ext(a.Filename)),
	}
}

func assetViews(assets []database.MediaAsset) []assetView {
	views := make([]assetView, len(assets))
	for i, a := range assets {
		views[i] = newAssetView(a)
	}
	return views
}

// Feed returns the newest uploads across all users.
func (h *Handlers) Feed(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultFeedLimit)
	if limit == 0 || limit > maxFeedLimit {
		limit = defaultFeedLimit
	}
	offset := queryInt(r, "offset", 0)

	assets, err := h.db.Feed(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "feed", err)
		return
	}
	writeJSONResponse(w, assetViews(assets))
}

// Gallery returns uploads grouped by capture month, for everyone or for
// the {username} in the route.
func (h *Handlers) Gallery(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	groups, err := h.db.Gallery(r.Context(), username, h.dateLocation)
	if err != nil {
		writeError(w, "gallery", err)
		return
	}

	views := make([]galleryView, len(groups))
	for i, g := range groups {
		views[i] = galleryView{Month: g.Month, Items: assetViews(g.Items)}
	}
	writeJSONResponse(w, views)
}

// MyUploads returns the caller's uploads, newest first.
func (h *Handlers) MyUploads(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	assets, err := h.db.ListUserUploads(r.Context(), user.Username)
	if err != nil {
		writeError(w, "my uploads", err)
		return
	}
	writeJSONResponse(w, assetViews(assets))
}

// EditDatesRequest sets or clears the capture date of an asset. An empty
// DateTaken clears it.
type EditDatesRequest struct {
	Filename  string `json:"filename"`
	DateTaken string `json:"dateTaken"`
}

// Layouts accepted for user-entered dates. Those without an offset are read
// in the configured date location.
var dateLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (h *Handlers) parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, h.dateLocation); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("unrecognized date format")
}

// EditDates lets the owner of an asset correct its capture date.
func (h *Handlers) EditDates(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req EditDatesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Filename == "" {
		writeJSONError(w, "filename is required", http.StatusBadRequest)
		return
	}
	taken, err := h.parseDate(req.DateTaken)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.db.EditDates(r.Context(), req.Filename, user.Username, taken); err != nil {
		writeError(w, "edit dates", err)
		return
	}
	writeJSONStatus(w, "updated")
}

// DeleteMediaRequest names the asset to delete.
type DeleteMediaRequest struct {
	Filename string `json:"filename"`
}

// DeleteMedia removes one of the caller's assets, its file and its preview.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req DeleteMediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validStoredName(req.Filename) {
		writeJSONError(w, "invalid filename", http.StatusBadRequest)
		return
	}

	if err := h.db.DeleteAsset(r.Context(), req.Filename, user.Username); err != nil {
		writeError(w, "delete media", err)
		return
	}

	filesystem.RemoveQuietly(
		filepath.Join(h.uploadDir, req.Filename),
		filepath.Join(h.uploadDir, database.PreviewName(req.Filename)),
	)
	logging.Info("User %s deleted %s", user.Username, req.Filename)
	writeJSONStatus(w, "deleted")
}

// validStoredName reports whether name can only refer to a file directly
// inside the upload directory.
func validStoredName(name string) bool {
	return name != "" &&
		name == filepath.Base(name) &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`)
}

// ServeUpload serves a stored file or preview from the upload directory.
func (h *Handlers) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if !validStoredName(name) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	f, err := filesystem.OpenWithRetry(filepath.Join(h.uploadDir, name), filesystem.DefaultRetryConfig())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		logging.Error("Failed to open %s: %v", name, err)
		http.Error(w, "Failed to access file", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Debug("close %s: %v", name, err)
		}
	}()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	// Previews are JPEG whatever their name says.
	isPreview := strings.HasPrefix(name, database.PreviewName(""))
	if isPreview {
		w.Header().Set("Content-Type", "image/jpeg")
	} else {
		w.Header().Set("Content-Type", mediatypes.GetMimeType(mediatypes.Ext(name)))
	}
	// Stored names are never reused, so content behind a name never changes.
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if isPreview || !mediatypes.IsVideo(mediatypes.Ext(name)) {
		http.ServeContent(w, r, name, info.ModTime(), f)
		return
	}

	sw := streaming.NewWriter(r.Context(), w, streaming.DefaultConfig())
	defer sw.Close()
	http.ServeContent(sw, r, name, info.ModTime(), f)

	if err := sw.Err(); err != nil {
		written, elapsed := sw.Stats()
		logging.Debug("Stream of %s ended after %d bytes in %v: %v", name, written, elapsed.Round(time.Millisecond), err)
	}
}
