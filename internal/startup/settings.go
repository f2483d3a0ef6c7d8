package startup

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Setting keys persisted in the catalog settings table.
const (
	SettingSignupLocked = "signup_locked"
)

// Settings are the runtime options an administrator may change while the
// server is running. A Settings value is never mutated; updates replace it.
type Settings struct {
	SignupLocked bool `json:"signupLocked"`
}

// SettingsStore persists settings as key/value strings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// RuntimeSettings holds the current Settings and swaps them atomically.
type RuntimeSettings struct {
	store   SettingsStore
	current atomic.Pointer[Settings]
}

// NewRuntimeSettings returns a holder backed by store. Call Reload to read
// persisted values; until then the zero Settings apply.
func NewRuntimeSettings(store SettingsStore) *RuntimeSettings {
	rs := &RuntimeSettings{store: store}
	rs.current.Store(&Settings{})
	return rs
}

// Get returns the current settings snapshot.
func (rs *RuntimeSettings) Get() Settings {
	return *rs.current.Load()
}

// Reload reads settings from the store and replaces the snapshot.
func (rs *RuntimeSettings) Reload(ctx context.Context) (Settings, error) {
	var s Settings

	raw, ok, err := rs.store.GetSetting(ctx, SettingSignupLocked)
	if err != nil {
		return rs.Get(), fmt.Errorf("failed to read %s: %w", SettingSignupLocked, err)
	}
	if ok {
		s.SignupLocked, err = strconv.ParseBool(raw)
		if err != nil {
			return rs.Get(), fmt.Errorf("invalid %s value %q: %w", SettingSignupLocked, raw, err)
		}
	}

	rs.current.Store(&s)
	return s, nil
}

// Update persists s and then makes it current.
func (rs *RuntimeSettings) Update(ctx context.Context, s Settings) error {
	if err := rs.store.SetSetting(ctx, SettingSignupLocked, strconv.FormatBool(s.SignupLocked)); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	rs.current.Store(&s)
	return nil
}
