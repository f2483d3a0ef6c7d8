package database

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"media-share/internal/logging"
)

// Register creates an account. The first account becomes an administrator.
// When signupLocked is set, registration is refused once any account exists.
func (d *Database) Register(ctx context.Context, username, password string, signupLocked bool) (*User, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("register", start, err) }()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		err = fmt.Errorf("username and password are required")
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user := &User{Username: username, CreatedAt: time.Unix(time.Now().Unix(), 0)}

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
			return err
		}
		if signupLocked && count > 0 {
			return ErrSignupLocked
		}
		user.IsAdmin = count == 0

		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username = ?", username).Scan(&exists)
		if err == nil {
			return ErrUserExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO users (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)",
			username, string(hash), user.IsAdmin, user.CreatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	if user.IsAdmin {
		logging.Info("Registered first user %q as administrator", username)
	}
	return user, nil
}

// Authenticate checks a username and password.
func (d *Database) Authenticate(ctx context.Context, username, password string) (*User, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("authenticate", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var user User
	var hash string
	var createdAt int64
	err = d.db.QueryRowContext(ctx,
		"SELECT username, password_hash, is_admin, avatar, created_at FROM users WHERE username = ?",
		strings.TrimSpace(username),
	).Scan(&user.Username, &hash, &user.IsAdmin, &user.Avatar, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrInvalidCredentials
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		err = ErrInvalidCredentials
		return nil, err
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// GetUser returns an account by name.
func (d *Database) GetUser(ctx context.Context, username string) (*User, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("get_user", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var user User
	var createdAt int64
	err = d.db.QueryRowContext(ctx,
		"SELECT username, is_admin, avatar, created_at FROM users WHERE username = ?", username,
	).Scan(&user.Username, &user.IsAdmin, &user.Avatar, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// ListUsers returns all accounts ordered by registration time.
func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("list_users", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT username, is_admin, avatar, created_at FROM users ORDER BY created_at, username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		var createdAt int64
		if err = rows.Scan(&u.Username, &u.IsAdmin, &u.Avatar, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, u)
	}
	err = rows.Err()
	return users, err
}

// UserCount returns the number of registered accounts.
func (d *Database) UserCount(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// SetPassword replaces a user's password and ends all of their sessions.
func (d *Database) SetPassword(ctx context.Context, username, password string) error {
	start := time.Now()
	var err error
	defer func() { RecordQuery("set_password", start, err) }()

	if password == "" {
		err = fmt.Errorf("password is required")
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE username = ?", string(hash), username)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE username = ?", username)
		return err
	})
	return err
}

// CreateSession creates a new session for a user.
func (d *Database) CreateSession(ctx context.Context, username string, duration time.Duration) (*Session, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("create_session", start, err) }()

	tokenBytes := make([]byte, 32)
	if _, err = rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := time.Now().Add(duration)

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"INSERT INTO sessions (token_hash, username, expires_at) VALUES (?, ?, ?)",
		hashToken(tokenBytes), username, expiresAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{Username: username, Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateSession returns the user owning a live session token.
func (d *Database) ValidateSession(ctx context.Context, token string) (*User, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("validate_session", start, err) }()

	tokenBytes, decErr := hex.DecodeString(token)
	if decErr != nil || len(tokenBytes) == 0 {
		err = ErrInvalidSession
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var user User
	var expiresAt, createdAt int64
	err = d.db.QueryRowContext(ctx, `
		SELECT u.username, u.is_admin, u.avatar, u.created_at, s.expires_at
		FROM sessions s JOIN users u ON u.username = s.username
		WHERE s.token_hash = ?`,
		hashToken(tokenBytes),
	).Scan(&user.Username, &user.IsAdmin, &user.Avatar, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrInvalidSession
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if time.Now().Unix() > expiresAt {
		err = ErrInvalidSession
		return nil, err
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// DeleteSession removes a session.
func (d *Database) DeleteSession(ctx context.Context, token string) error {
	tokenBytes, err := hex.DecodeString(token)
	if err != nil {
		return fmt.Errorf("invalid token format: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", hashToken(tokenBytes))
	return err
}

// CleanExpiredSessions removes all expired sessions.
func (d *Database) CleanExpiredSessions(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { RecordQuery("clean_expired_sessions", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func hashToken(tokenBytes []byte) string {
	hash := sha256.Sum256(tokenBytes)
	return hex.EncodeToString(hash[:])
}
