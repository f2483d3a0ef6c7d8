package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"media-share/internal/logging"
	"media-share/internal/metrics"
)

// Migration is one forward-only schema change. Versions must be unique and
// are applied in ascending order.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrate applies every migration whose version is not yet recorded in
// schema_migrations. Each migration runs in its own transaction. It returns
// the number of migrations applied.
func Migrate(ctx context.Context, db *sql.DB, name string, migrations []Migration) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, err
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	count := 0
	for i, m := range ordered {
		if i > 0 && ordered[i-1].Version == m.Version {
			return count, fmt.Errorf("duplicate migration version %d", m.Version)
		}
		if applied[m.Version] {
			continue
		}

		start := time.Now()
		if err := applyMigration(ctx, db, m); err != nil {
			return count, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		logging.Info("Migrated %s database to version %d (%s) in %v", name, m.Version, m.Name, time.Since(start))
		metrics.DBMigrationsApplied.WithLabelValues(name).Inc()
		count++
	}

	return count, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var catalogMigrations = []Migration{
	{
		Version: 1,
		Name:    "users_and_sessions",
		SQL: `
		CREATE TABLE users (
			username TEXT PRIMARY KEY COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			avatar TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE sessions (
			token_hash TEXT PRIMARY KEY,
			username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX idx_sessions_expires ON sessions(expires_at);
		`,
	},
	{
		Version: 2,
		Name:    "media",
		SQL: `
		CREATE TABLE media (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			filename TEXT NOT NULL UNIQUE,
			caption TEXT NOT NULL DEFAULT '',
			uploaded_at INTEGER NOT NULL,
			date_taken INTEGER
		);

		CREATE INDEX idx_media_username ON media(username COLLATE NOCASE);
		CREATE INDEX idx_media_uploaded ON media(uploaded_at);
		CREATE INDEX idx_media_sort ON media(COALESCE(date_taken, uploaded_at));
		`,
	},
	{
		Version: 3,
		Name:    "albums",
		SQL: `
		CREATE TABLE albums (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			cover_filename TEXT NOT NULL DEFAULT '',
			creator_username TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE album_items (
			album_id TEXT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			added_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			UNIQUE(album_id, filename)
		);

		CREATE INDEX idx_album_items_filename ON album_items(filename);
		`,
	},
	{
		Version: 4,
		Name:    "settings",
		SQL: `
		CREATE TABLE settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		`,
	},
}
