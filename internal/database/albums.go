package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateAlbum creates an empty album owned by creator.
func (d *Database) CreateAlbum(ctx context.Context, name, description, creator string) (*Album, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("create_album", start, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		err = fmt.Errorf("album name is required")
		return nil, err
	}

	album := &Album{
		ID:              uuid.NewString(),
		Name:            name,
		Description:     description,
		CreatorUsername: creator,
		CreatedAt:       time.Unix(time.Now().Unix(), 0),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"INSERT INTO albums (id, name, description, creator_username, created_at) VALUES (?, ?, ?, ?, ?)",
		album.ID, album.Name, album.Description, album.CreatorUsername, album.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return album, nil
}

// ListAlbums returns all albums, newest first, with item counts.
func (d *Database) ListAlbums(ctx context.Context) ([]Album, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("list_albums", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.description, a.cover_filename, a.creator_username, a.created_at,
			(SELECT COUNT(*) FROM album_items i WHERE i.album_id = a.id)
		FROM albums a
		ORDER BY a.created_at DESC, a.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	albums := []Album{}
	for rows.Next() {
		var a Album
		var createdAt int64
		if err = rows.Scan(&a.ID, &a.Name, &a.Description, &a.CoverFilename, &a.CreatorUsername, &createdAt, &a.ItemCount); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		albums = append(albums, a)
	}
	err = rows.Err()
	return albums, err
}

// AddAlbumItems attaches existing assets to an album. Already attached
// assets and unknown filenames are ignored. It returns the number added.
func (d *Database) AddAlbumItems(ctx context.Context, albumID string, filenames []string) (int, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("add_album_items", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	added := 0
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM albums WHERE id = ?", albumID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		for _, f := range filenames {
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO album_items (album_id, filename)
				SELECT ?, filename FROM media WHERE filename = ?`, albumID, f)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE albums SET cover_filename = COALESCE(
				(SELECT filename FROM album_items WHERE album_id = ? ORDER BY added_at, rowid LIMIT 1), '')
			WHERE id = ? AND cover_filename = ''`, albumID, albumID)
		return err
	})
	return added, err
}

// AlbumMedia returns the assets in an album ordered by capture date.
func (d *Database) AlbumMedia(ctx context.Context, albumID string) ([]MediaAsset, error) {
	d.mu.RLock()
	var exists int
	qctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	err := d.db.QueryRowContext(qctx, "SELECT 1 FROM albums WHERE id = ?", albumID).Scan(&exists)
	cancel()
	d.mu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return d.queryAssets(ctx, "album_media", `
		SELECT m.id, m.username, m.filename, m.caption, m.uploaded_at, m.date_taken
		FROM album_items i JOIN media m ON m.filename = i.filename
		WHERE i.album_id = ?
		ORDER BY COALESCE(m.date_taken, m.uploaded_at) DESC, m.rowid DESC`, albumID)
}
