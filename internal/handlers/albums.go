package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// CreateAlbumRequest is the body of an album creation request.
type CreateAlbumRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AddAlbumItemsRequest lists stored filenames to attach to an album.
type AddAlbumItemsRequest struct {
	Filenames []string `json:"filenames"`
}

// ListAlbums returns every album with its item count.
func (h *Handlers) ListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := h.db.ListAlbums(r.Context())
	if err != nil {
		writeError(w, "list albums", err)
		return
	}
	writeJSONResponse(w, albums)
}

// CreateAlbum creates an empty album owned by the caller.
func (h *Handlers) CreateAlbum(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req CreateAlbumRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, "album name is required", http.StatusBadRequest)
		return
	}

	album, err := h.db.CreateAlbum(r.Context(), req.Name, strings.TrimSpace(req.Description), user.Username)
	if err != nil {
		writeError(w, "create album", err)
		return
	}
	writeJSONStatusCode(w, http.StatusCreated, album)
}

// AlbumMedia returns the assets in the {id} album.
func (h *Handlers) AlbumMedia(w http.ResponseWriter, r *http.Request) {
	assets, err := h.db.AlbumMedia(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "album media", err)
		return
	}
	writeJSONResponse(w, assetViews(assets))
}

// AddAlbumItems attaches existing assets to the {id} album. Attaching an
// asset twice is not an error.
func (h *Handlers) AddAlbumItems(w http.ResponseWriter, r *http.Request) {
	var req AddAlbumItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Filenames) == 0 {
		writeJSONError(w, "filenames are required", http.StatusBadRequest)
		return
	}

	added, err := h.db.AddAlbumItems(r.Context(), mux.Vars(r)["id"], req.Filenames)
	if err != nil {
		writeError(w, "add album items", err)
		return
	}
	writeJSONResponse(w, map[string]int{"added": added})
}
