package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"media-share/internal/logging"
)

const mediaColumns = "id, username, filename, caption, uploaded_at, date_taken"

// GalleryMonthFormat is the layout used to label gallery groups.
const GalleryMonthFormat = "January 2006"

// CommitAsset records a finished upload and, when AlbumID names an existing
// album, attaches it to that album. Both happen in one transaction.
func (d *Database) CommitAsset(ctx context.Context, in NewAsset) (*MediaAsset, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("commit_asset", start, err) }()

	asset := &MediaAsset{
		ID:         uuid.NewString(),
		Username:   in.Username,
		Filename:   in.Filename,
		Caption:    in.Caption,
		UploadedAt: time.Unix(time.Now().Unix(), 0),
		DateTaken:  in.DateTaken,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO media ("+mediaColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			asset.ID, asset.Username, asset.Filename, asset.Caption,
			asset.UploadedAt.Unix(), unixOrNil(asset.DateTaken),
		); err != nil {
			return fmt.Errorf("failed to insert media %s: %w", asset.Filename, err)
		}

		if in.AlbumID == "" {
			return nil
		}

		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM albums WHERE id = ?", in.AlbumID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			logging.Warn("Album %s not found, %s not attached", in.AlbumID, asset.Filename)
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO album_items (album_id, filename) VALUES (?, ?)", in.AlbumID, asset.Filename)
		return err
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// GetAsset returns the asset stored under filename.
func (d *Database) GetAsset(ctx context.Context, filename string) (*MediaAsset, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	asset, err := scanAsset(d.db.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM media WHERE filename = ?", filename))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return asset, err
}

// Feed returns the newest uploads first.
func (d *Database) Feed(ctx context.Context, limit, offset int) ([]MediaAsset, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return d.queryAssets(ctx, "feed",
		"SELECT "+mediaColumns+" FROM media ORDER BY uploaded_at DESC, rowid DESC LIMIT ? OFFSET ?",
		limit, offset)
}

// ListUserUploads returns one user's uploads, newest first.
func (d *Database) ListUserUploads(ctx context.Context, username string) ([]MediaAsset, error) {
	return d.queryAssets(ctx, "list_user_uploads",
		"SELECT "+mediaColumns+" FROM media WHERE username = ? COLLATE NOCASE ORDER BY uploaded_at DESC, rowid DESC",
		username)
}

// ListAssets returns every asset. Used by the preview backfill.
func (d *Database) ListAssets(ctx context.Context) ([]MediaAsset, error) {
	return d.queryAssets(ctx, "list_assets",
		"SELECT "+mediaColumns+" FROM media ORDER BY rowid")
}

// ListMissingDates returns assets whose capture date is unknown.
func (d *Database) ListMissingDates(ctx context.Context) ([]MediaAsset, error) {
	return d.queryAssets(ctx, "list_missing_dates",
		"SELECT "+mediaColumns+" FROM media WHERE date_taken IS NULL ORDER BY rowid")
}

// Gallery returns assets grouped by capture month, newest first. When
// username is empty all users are included. Month labels are computed in loc.
func (d *Database) Gallery(ctx context.Context, username string, loc *time.Location) ([]GalleryGroup, error) {
	var assets []MediaAsset
	var err error
	if username == "" {
		assets, err = d.queryAssets(ctx, "gallery",
			"SELECT "+mediaColumns+" FROM media ORDER BY COALESCE(date_taken, uploaded_at) DESC, rowid DESC")
	} else {
		assets, err = d.queryAssets(ctx, "gallery",
			"SELECT "+mediaColumns+" FROM media WHERE username = ? COLLATE NOCASE ORDER BY COALESCE(date_taken, uploaded_at) DESC, rowid DESC",
			username)
	}
	if err != nil {
		return nil, err
	}
	return GroupByMonth(assets, loc), nil
}

// GroupByMonth groups assets that are already sorted newest first.
func GroupByMonth(assets []MediaAsset, loc *time.Location) []GalleryGroup {
	if loc == nil {
		loc = time.UTC
	}
	groups := []GalleryGroup{}
	for _, a := range assets {
		month := a.SortTime().In(loc).Format(GalleryMonthFormat)
		if n := len(groups); n > 0 && groups[n-1].Month == month {
			groups[n-1].Items = append(groups[n-1].Items, a)
			continue
		}
		groups = append(groups, GalleryGroup{Month: month, Items: []MediaAsset{a}})
	}
	return groups
}

// UpdateDateTaken sets the capture date found by backfill.
func (d *Database) UpdateDateTaken(ctx context.Context, filename string, t time.Time) error {
	start := time.Now()
	var err error
	defer func() { RecordQuery("update_date_taken", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "UPDATE media SET date_taken = ? WHERE filename = ?", t.Unix(), filename)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotFound
	}
	return err
}

// EditDates lets the owner set or clear the capture date of an asset.
func (d *Database) EditDates(ctx context.Context, filename, username string, dateTaken *time.Time) error {
	start := time.Now()
	var err error
	defer func() { RecordQuery("edit_dates", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOwner(ctx, tx, filename, username); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE media SET date_taken = ? WHERE filename = ?", unixOrNil(dateTaken), filename)
		return err
	})
	return err
}

// DeleteAsset removes an asset owned by username along with its album
// memberships. The caller removes the files.
func (d *Database) DeleteAsset(ctx context.Context, filename, username string) error {
	start := time.Now()
	var err error
	defer func() { RecordQuery("delete_asset", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOwner(ctx, tx, filename, username); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM album_items WHERE filename = ?", filename); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE albums SET cover_filename = '' WHERE cover_filename = ?", filename); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM media WHERE filename = ?", filename)
		return err
	})
	return err
}

// Stats returns catalog counts.
func (d *Database) Stats(ctx context.Context) (CatalogStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s CatalogStats
	err := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM media),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM albums)`,
	).Scan(&s.TotalAssets, &s.TotalUsers, &s.TotalAlbums)
	return s, err
}

func checkOwner(ctx context.Context, tx *sql.Tx, filename, username string) error {
	var owner string
	err := tx.QueryRowContext(ctx, "SELECT username FROM media WHERE filename = ?", filename).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !strings.EqualFold(owner, username) {
		return ErrForbidden
	}
	return nil
}

func (d *Database) queryAssets(ctx context.Context, op, query string, args ...interface{}) ([]MediaAsset, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery(op, start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []MediaAsset{}
	for rows.Next() {
		var a *MediaAsset
		a, err = scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	err = rows.Err()
	return assets, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*MediaAsset, error) {
	var a MediaAsset
	var uploadedAt int64
	var dateTaken sql.NullInt64
	if err := row.Scan(&a.ID, &a.Username, &a.Filename, &a.Caption, &uploadedAt, &dateTaken); err != nil {
		return nil, err
	}
	a.UploadedAt = time.Unix(uploadedAt, 0)
	if dateTaken.Valid {
		t := time.Unix(dateTaken.Int64, 0)
		a.DateTaken = &t
	}
	return &a, nil
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
