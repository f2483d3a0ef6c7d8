package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	db, _ := setupTestDB(t)

	first := mustRegister(t, db, "alice")
	second := mustRegister(t, db, "bob")

	if !first.IsAdmin {
		t.Error("first user should be admin")
	}
	if second.IsAdmin {
		t.Error("second user should not be admin")
	}
}

func TestRegisterErrors(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	mustRegister(t, db, "alice")

	tests := []struct {
		name     string
		username string
		password string
		locked   bool
		want     error
	}{
		{"duplicate", "alice", "pw", false, ErrUserExists},
		{"duplicate different case", "ALICE", "pw", false, ErrUserExists},
		{"signup locked", "carol", "pw", true, ErrSignupLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Register(ctx, tt.username, tt.password, tt.locked)
			if !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := db.Register(ctx, "", "pw", false); err == nil {
		t.Error("expected error for empty username")
	}
}

func TestRegisterLockedAllowsFirstUser(t *testing.T) {
	db, _ := setupTestDB(t)

	u, err := db.Register(context.Background(), "admin", "pw", true)
	if err != nil {
		t.Fatalf("first registration must succeed even when locked: %v", err)
	}
	if !u.IsAdmin {
		t.Error("expected admin")
	}
}

func TestAuthenticate(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustRegister(t, db, "alice")

	u, err := db.Authenticate(ctx, "alice", "secret-alice")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if u.Username != "alice" || !u.IsAdmin {
		t.Errorf("unexpected user %+v", u)
	}

	if _, err := db.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := db.Authenticate(ctx, "nobody", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustRegister(t, db, "alice")

	s, err := db.CreateSession(ctx, "alice", time.Hour)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(s.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(s.Token))
	}

	u, err := db.ValidateSession(ctx, s.Token)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("session user = %s", u.Username)
	}

	if err := db.DeleteSession(ctx, s.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ValidateSession(ctx, s.Token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("deleted session error = %v", err)
	}
}

func TestValidateSessionRejects(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustRegister(t, db, "alice")

	expired, err := db.CreateSession(ctx, "alice", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	for _, token := range []string{"", "not-hex", "abcd", expired.Token} {
		if _, err := db.ValidateSession(ctx, token); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("ValidateSession(%q) error = %v, want ErrInvalidSession", token, err)
		}
	}

	n, err := db.CleanExpiredSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned %d sessions, want 1", n)
	}
}

func TestSetPasswordEndsSessions(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustRegister(t, db, "alice")
	mustRegister(t, db, "bob")

	aliceSession, _ := db.CreateSession(ctx, "alice", time.Hour)
	bobSession, _ := db.CreateSession(ctx, "bob", time.Hour)

	if err := db.SetPassword(ctx, "alice", "new-password"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	if _, err := db.ValidateSession(ctx, aliceSession.Token); err == nil {
		t.Error("alice's session should be revoked")
	}
	if _, err := db.ValidateSession(ctx, bobSession.Token); err != nil {
		t.Errorf("bob's session should survive: %v", err)
	}
	if _, err := db.Authenticate(ctx, "alice", "new-password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	if err := db.SetPassword(ctx, "nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPassword unknown user error = %v", err)
	}
}

func TestGetAndListUsers(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustRegister(t, db, "alice")
	mustRegister(t, db, "bob")

	u, err := db.GetUser(ctx, "Bob")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Username != "bob" {
		t.Errorf("GetUser returned %s", u.Username)
	}

	if _, err := db.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser unknown error = %v", err)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Errorf("ListUsers returned %d users", len(users))
	}
}
