// Package registry is the shared directory of all known accounts. It plays
// the role of a backend user service: unique immutable ids, public profile
// fields and credential checks, independent of any one account's snapshot.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"wesim/internal/model"
	"wesim/internal/snapshot"
)

var (
	// ErrNotFound means no account exists for the id.
	ErrNotFound = errors.New("registry: user not found")
	// ErrConflict means the id is already registered.
	ErrConflict = errors.New("registry: user id taken")
	// ErrBadCredential means the password check failed.
	ErrBadCredential = errors.New("registry: wrong password")
)

var idPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// ValidateID checks that a user id conforms to account naming rules.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid user id %q: must match ^[a-z0-9_-]{1,32}$", id)
	}
	return nil
}

// Registry reads and writes the shared directory through the snapshot store.
type Registry struct {
	store *snapshot.Store
}

// New creates a registry over the given store.
func New(store *snapshot.Store) *Registry {
	return &Registry{store: store}
}

// Register creates a new account entry with a generated avatar. Fails with
// ErrConflict when the id is taken.
func (r *Registry) Register(ctx context.Context, id, password string) (model.RegistryEntry, error) {
	if err := ValidateID(id); err != nil {
		return model.RegistryEntry{}, err
	}
	reg, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return model.RegistryEntry{}, err
	}
	if _, taken := reg[id]; taken {
		return model.RegistryEntry{}, ErrConflict
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.RegistryEntry{}, fmt.Errorf("hash password: %w", err)
	}
	entry := model.RegistryEntry{
		ID:           id,
		Name:         id,
		AvatarURL:    model.AvatarURL(id),
		PasswordHash: string(hash),
	}
	reg[id] = entry
	if err := r.store.SaveRegistry(ctx, reg); err != nil {
		return model.RegistryEntry{}, err
	}
	return entry, nil
}

// Authenticate verifies credentials for a login. Fails with ErrNotFound for
// unknown ids and ErrBadCredential for a wrong password.
func (r *Registry) Authenticate(ctx context.Context, id, password string) (model.RegistryEntry, error) {
	reg, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return model.RegistryEntry{}, err
	}
	entry, ok := reg[id]
	if !ok {
		return model.RegistryEntry{}, ErrNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(entry.PasswordHash), []byte(password)) != nil {
		return model.RegistryEntry{}, ErrBadCredential
	}
	return entry, nil
}

// Get returns the public entry for an id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (model.RegistryEntry, error) {
	reg, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return model.RegistryEntry{}, err
	}
	entry, ok := reg[id]
	if !ok {
		return model.RegistryEntry{}, ErrNotFound
	}
	return entry, nil
}

// SetAvatar mirrors an account's current avatar into the directory so that
// other users' contact views stay current. Unknown ids are a no-op.
func (r *Registry) SetAvatar(ctx context.Context, id, avatarURL string) error {
	reg, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	entry, ok := reg[id]
	if !ok || entry.AvatarURL == avatarURL {
		return nil
	}
	entry.AvatarURL = avatarURL
	reg[id] = entry
	return r.store.SaveRegistry(ctx, reg)
}
