package database

import "time"

// User is a registered account.
type User struct {
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session represents an authenticated user session. Token is only
// populated when the session is created; storage keeps its hash.
type Session struct {
	Username  string    `json:"username"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MediaAsset is a finished, viewable upload.
type MediaAsset struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Filename   string     `json:"filename"`
	Caption    string     `json:"caption"`
	UploadedAt time.Time  `json:"uploadedAt"`
	DateTaken  *time.Time `json:"dateTaken,omitempty"`
}

// PreviewFilename is the name of the preview image stored next to the asset.
func (m MediaAsset) PreviewFilename() string {
	return PreviewName(m.Filename)
}

// SortTime is the capture date when known, otherwise the upload time.
func (m MediaAsset) SortTime() time.Time {
	if m.DateTaken != nil {
		return *m.DateTaken
	}
	return m.UploadedAt
}

// PreviewName returns the preview filename for a final media filename.
func PreviewName(filename string) string {
	return "preview_" + filename
}

// NewAsset is the input to CommitAsset.
type NewAsset struct {
	Username  string
	Filename  string
	Caption   string
	DateTaken *time.Time
	AlbumID   string
}

// GalleryGroup is a set of assets sharing a capture month.
type GalleryGroup struct {
	Month string       `json:"month"`
	Items []MediaAsset `json:"items"`
}

// Album is a named collection of assets.
type Album struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	CoverFilename   string    `json:"coverFilename,omitempty"`
	CreatorUsername string    `json:"creatorUsername"`
	CreatedAt       time.Time `json:"createdAt"`
	ItemCount       int       `json:"itemCount"`
}

// CatalogStats summarizes catalog size.
type CatalogStats struct {
	TotalAssets int `json:"totalAssets"`
	TotalUsers  int `json:"totalUsers"`
	TotalAlbums int `json:"totalAlbums"`
}
