package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-share/internal/database"
)

func setupTestDB(t *testing.T) (*database.Database, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(context.Background(), catalogPath(dir))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close database: %v", err)
		}
	})
	return db, dir
}

// fakePasswords replaces the terminal prompt with canned answers.
func fakePasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func(string) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestPrintUsage(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("printUsage panicked: %v", r)
		}
	}()
	printUsage()
}

func TestCatalogPath(t *testing.T) {
	got := catalogPath(filepath.Join("data", "database"))
	want := filepath.Join("data", "database", "media-share.db")
	if got != want {
		t.Errorf("catalogPath() = %q, want %q", got, want)
	}
}

func TestCheckNewPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		confirm  string
		wantErr  bool
	}{
		{"valid", "secret1", "secret1", false},
		{"minimum length", "123456", "123456", false},
		{"mismatch", "secret1", "secret2", true},
		{"too short", "12345", "12345", true},
		{"empty", "", "", true},
		{"too long", strings.Repeat("a", 73), strings.Repeat("a", 73), true},
		{"maximum length", strings.Repeat("a", 72), strings.Repeat("a", 72), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkNewPassword([]byte(tt.password), []byte(tt.confirm))
			if (err != nil) != tt.wantErr {
				t.Errorf("checkNewPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResetPasswordIntegration(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Register(ctx, "alice", "oldpassword", false); err != nil {
		t.Fatal(err)
	}
	session, err := db.CreateSession(ctx, "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	fakePasswords(t, "newpassword", "newpassword")
	if !resetPassword(ctx, db, "alice") {
		t.Fatal("resetPassword() = false")
	}

	if _, err := db.Authenticate(ctx, "alice", "newpassword"); err != nil {
		t.Errorf("Expected new password to work: %v", err)
	}
	if _, err := db.Authenticate(ctx, "alice", "oldpassword"); err == nil {
		t.Error("Expected old password to be rejected")
	}
	if _, err := db.ValidateSession(ctx, session.Token); err == nil {
		t.Error("Expected existing session to be invalidated")
	}
}

func TestResetPasswordRejectsIntegration(t *testing.T) {
	tests := []struct {
		name     string
		username string
		answers  []string
	}{
		{"unknown user", "bob", []string{"newpassword", "newpassword"}},
		{"mismatch", "alice", []string{"newpassword", "different"}},
		{"too short", "alice", []string{"abc", "abc"}},
		{"input error", "alice", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _ := setupTestDB(t)
			ctx := context.Background()
			if _, err := db.Register(ctx, "alice", "oldpassword", false); err != nil {
				t.Fatal(err)
			}

			fakePasswords(t, tt.answers...)
			if resetPassword(ctx, db, tt.username) {
				t.Fatal("resetPassword() = true")
			}
			if _, err := db.Authenticate(ctx, "alice", "oldpassword"); err != nil {
				t.Errorf("Expected password to be unchanged: %v", err)
			}
		})
	}
}

func TestShowStatusIntegration(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	var out bytes.Buffer
	if !showStatus(ctx, db, &out) {
		t.Fatal("showStatus() = false")
	}
	if !strings.Contains(out.String(), "No accounts yet") {
		t.Errorf("Unexpected empty status %q", out.String())
	}

	for _, name := range []string{"alice", "bob"} {
		if _, err := db.Register(ctx, name, "password123", false); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SetSetting(ctx, "signup_locked", "true"); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if !showStatus(ctx, db, &out) {
		t.Fatal("showStatus() = false")
	}
	for _, want := range []string{"2 account(s)", "signups locked: yes", "alice", "admin", "bob", "user"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in status output:\n%s", want, out.String())
		}
	}
}

func TestRunIntegration(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"status", []string{"status"}, 0},
		{"reset without username", []string{"reset"}, 1},
		{"reset unknown user", []string{"reset", "nobody"}, 1},
		{"unknown command", []string{"frobnicate"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(ctx, tt.args, dir); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}

	if _, err := os.Stat(catalogPath(dir)); err != nil {
		t.Errorf("Expected catalog to be created in DATABASE_DIR: %v", err)
	}
}

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"reset", "reset"},
		{"status", "status"},
		{"my-cmd_1", "my-cmd_1"},
		{"rm -rf /", "rm_-rf__"},
		{"\x1b[31mred", "__31mred"},
		{"naïve", "na_ve"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := sanitizeCommand(tt.in)
			if got != tt.want {
				t.Errorf("sanitizeCommand(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if sanitizeCommand(got) != got {
				t.Errorf("sanitizeCommand is not idempotent for %q", tt.in)
			}
		})
	}
}
