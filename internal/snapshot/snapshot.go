// Package snapshot persists whole-account state as serialized blobs in a
// key/value store. Every account owns exactly one snapshot key; the shared
// registry and the last-active marker live under well-known keys. Writes
// are wholesale; a snapshot is never partially updated.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wesim/internal/model"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("snapshot: not found")

const (
	registryKey   = "global_registry"
	lastActiveKey = "last_active_user"
	rememberedKey = "remembered_user"
)

// UserDataKey returns the storage key a user's snapshot lives under.
// The key shape is part of the persistence contract and must not change.
func UserDataKey(userID string) string {
	return "user_data_" + userID
}

// KV is the raw storage a Store is built on. Get returns ErrNotFound for
// absent keys.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store reads and writes typed records over a KV backend.
type Store struct {
	kv KV
}

// NewStore wraps a KV backend.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// LoadSnapshot returns the persisted snapshot for a user, or ErrNotFound.
func (s *Store) LoadSnapshot(ctx context.Context, userID string) (*model.Snapshot, error) {
	raw, err := s.kv.Get(ctx, UserDataKey(userID))
	if err != nil {
		return nil, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %q: %w", userID, err)
	}
	return &snap, nil
}

// SaveSnapshot serializes and writes a user's full snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, userID string, snap *model.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %q: %w", userID, err)
	}
	return s.kv.Set(ctx, UserDataKey(userID), string(raw))
}

// DeleteSnapshot removes a user's snapshot. Missing keys are not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, UserDataKey(userID))
}

// LoadRegistry returns the shared user directory. An empty directory is
// returned when none has been written yet.
func (s *Store) LoadRegistry(ctx context.Context) (model.Registry, error) {
	raw, err := s.kv.Get(ctx, registryKey)
	if errors.Is(err, ErrNotFound) {
		return model.Registry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var reg model.Registry
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return reg, nil
}

// SaveRegistry writes the shared user directory.
func (s *Store) SaveRegistry(ctx context.Context, reg model.Registry) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return s.kv.Set(ctx, registryKey, string(raw))
}

// LastActiveUser returns the auto-resume marker, or "" when logged out.
func (s *Store) LastActiveUser(ctx context.Context) (string, error) {
	id, err := s.kv.Get(ctx, lastActiveKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

// SetLastActiveUser records the auto-resume marker; an empty id clears it.
func (s *Store) SetLastActiveUser(ctx context.Context, userID string) error {
	if userID == "" {
		return s.kv.Delete(ctx, lastActiveKey)
	}
	return s.kv.Set(ctx, lastActiveKey, userID)
}

// RememberedUser returns the login-form prefill, or "".
func (s *Store) RememberedUser(ctx context.Context) (string, error) {
	id, err := s.kv.Get(ctx, rememberedKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

// SetRememberedUser records the login-form prefill.
func (s *Store) SetRememberedUser(ctx context.Context, userID string) error {
	return s.kv.Set(ctx, rememberedKey, userID)
}
