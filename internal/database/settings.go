package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetSetting returns the stored value for key and whether it was present.
func (d *Database) GetSetting(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("get_setting", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err = d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting stores a key-value pair.
func (d *Database) SetSetting(ctx context.Context, key, value string) error {
	start := time.Now()
	var err error
	defer func() { RecordQuery("set_setting", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
