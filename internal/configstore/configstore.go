// Package configstore holds the persisted user settings.
package configstore

import (
	"context"
	"fmt"
	"sync"

	"go-pagewatch/internal/data"

	"github.com/spf13/cast"
)

// Recognized setting keys.
const (
	KeyIsFirstRun                = "isFirstRun"
	KeySchemaVersion             = "schemaVersion"
	KeyGlobalScanIntervalMinutes = "globalScanIntervalMinutes"
)

// UnknownKeyError is returned by Set for keys the store does not recognize.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown setting %q", e.Key)
}

// Settings is a snapshot of all recognized settings.
type Settings struct {
	IsFirstRun                bool `json:"isFirstRun"`
	SchemaVersion             int  `json:"schemaVersion"`
	GlobalScanIntervalMinutes int  `json:"globalScanIntervalMinutes"`
}

// Store caches the settings in memory and writes them back as one batch.
type Store struct {
	mu       sync.RWMutex
	store    data.Store
	defaults Settings
	current  Settings
}

// New returns a Store backed by store. defaultInterval is used when no
// global scan interval has been saved yet.
func New(store data.Store, defaultInterval int) *Store {
	defaults := Settings{
		IsFirstRun:                true,
		SchemaVersion:             0,
		GlobalScanIntervalMinutes: defaultInterval,
	}
	return &Store{store: store, defaults: defaults, current: defaults}
}

// Load reads the persisted settings, filling defaults for missing keys.
// Unknown keys are ignored.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	next := s.defaults
	if v, ok := raw[KeyIsFirstRun]; ok {
		if next.IsFirstRun, err = cast.ToBoolE(v); err != nil {
			return fmt.Errorf("setting %s: %w", KeyIsFirstRun, err)
		}
	}
	if v, ok := raw[KeySchemaVersion]; ok {
		if next.SchemaVersion, err = cast.ToIntE(v); err != nil {
			return fmt.Errorf("setting %s: %w", KeySchemaVersion, err)
		}
	}
	if v, ok := raw[KeyGlobalScanIntervalMinutes]; ok {
		if next.GlobalScanIntervalMinutes, err = cast.ToIntE(v); err != nil {
			return fmt.Errorf("setting %s: %w", KeyGlobalScanIntervalMinutes, err)
		}
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Get returns the value of a recognized key.
func (s *Store) Get(key string) (interface{}, error) {
	snap := s.Snapshot()
	switch key {
	case KeyIsFirstRun:
		return snap.IsFirstRun, nil
	case KeySchemaVersion:
		return snap.SchemaVersion, nil
	case KeyGlobalScanIntervalMinutes:
		return snap.GlobalScanIntervalMinutes, nil
	default:
		return nil, &UnknownKeyError{Key: key}
	}
}

// Set changes a setting in memory. Call Save to persist it.
func (s *Store) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case KeyIsFirstRun:
		v, err := cast.ToBoolE(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		s.current.IsFirstRun = v
	case KeySchemaVersion:
		v, err := cast.ToIntE(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		s.current.SchemaVersion = v
	case KeyGlobalScanIntervalMinutes:
		v, err := cast.ToIntE(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		if v <= 0 {
			return fmt.Errorf("setting %s must be positive, got %d", key, v)
		}
		s.current.GlobalScanIntervalMinutes = v
	default:
		return &UnknownKeyError{Key: key}
	}
	return nil
}

// IsFirstRun reports whether the first-run seeding is still pending.
func (s *Store) IsFirstRun() bool { return s.Snapshot().IsFirstRun }

// SchemaVersion returns the persisted data schema version.
func (s *Store) SchemaVersion() int { return s.Snapshot().SchemaVersion }

// GlobalScanIntervalMinutes returns the default scan interval.
func (s *Store) GlobalScanIntervalMinutes() int { return s.Snapshot().GlobalScanIntervalMinutes }

// Save persists the whole snapshot in a single commit.
func (s *Store) Save(ctx context.Context) error {
	b := data.Batch{Settings: Encode(s.Snapshot())}
	if err := s.store.Commit(ctx, b); err != nil {
		return &data.PersistError{Op: "save settings", Err: err}
	}
	return nil
}

// Encode converts settings into their persisted string form.
func Encode(st Settings) map[string]string {
	return map[string]string{
		KeyIsFirstRun:                cast.ToString(st.IsFirstRun),
		KeySchemaVersion:             cast.ToString(st.SchemaVersion),
		KeyGlobalScanIntervalMinutes: cast.ToString(st.GlobalScanIntervalMinutes),
	}
}
