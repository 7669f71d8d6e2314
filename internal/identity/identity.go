// Package identity owns the local user's durable identity: an id derived from a display name.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
)

// MinIDLength is the shortest id a display name may normalize to.
const MinIDLength = 2

// Identity is how a participant is known to peers.
type Identity struct {
	ID          string          `json:"id" validate:"required,min=2,alphanum,lowercase"`
	DisplayName string          `json:"displayName" validate:"required"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

var validate = validator.New()

// Normalize lowercases name and drops every character outside [a-z0-9].
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeID normalizes name and fails with errs.ErrValidation when the result is too short.
func NormalizeID(name string) (string, error) {
	id := Normalize(name)
	if len(id) < MinIDLength {
		return "", errs.New(errs.CodeValidation,
			fmt.Sprintf("%q must contain at least %d letters or digits", name, MinIDLength))
	}
	return id, nil
}

// Validate checks the identity's field constraints.
func (i Identity) Validate() error {
	if err := validate.Struct(i); err != nil {
		return errs.Wrap(errs.CodeValidation, "invalid identity", err)
	}
	return nil
}

// Service loads and saves the identity through an IdentityStore.
type Service struct {
	store store.IdentityStore
}

// NewService creates an identity service.
func NewService(st store.IdentityStore) *Service {
	return &Service{store: st}
}

// Register derives an id from displayName and persists it, replacing any prior identity.
func (s *Service) Register(ctx context.Context, displayName string) (Identity, error) {
	displayName = strings.TrimSpace(displayName)
	id, err := NormalizeID(displayName)
	if err != nil {
		return Identity{}, err
	}

	identity := Identity{ID: id, DisplayName: displayName}
	if err := identity.Validate(); err != nil {
		return Identity{}, err
	}

	if err := s.store.SaveIdentity(ctx, &store.Identity{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
	}); err != nil {
		return Identity{}, fmt.Errorf("persist identity: %w", err)
	}

	return identity, nil
}

// Current returns the persisted identity. ok is false when none has been registered.
func (s *Service) Current(ctx context.Context) (identity Identity, ok bool, err error) {
	rec, err := s.store.LoadIdentity(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, false, nil
		}
		return Identity{}, false, fmt.Errorf("load identity: %w", err)
	}

	return Identity{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Settings:    rec.Settings,
	}, true, nil
}

// UpdateSettings replaces the opaque settings of the current identity.
func (s *Service) UpdateSettings(ctx context.Context, settings json.RawMessage) (Identity, error) {
	current, ok, err := s.Current(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, errs.ErrNotRegistered
	}
	if len(settings) > 0 && !json.Valid(settings) {
		return Identity{}, errs.New(errs.CodeValidation, "settings must be valid JSON")
	}

	current.Settings = settings
	if err := s.store.SaveIdentity(ctx, &store.Identity{
		ID:          current.ID,
		DisplayName: current.DisplayName,
		Settings:    current.Settings,
	}); err != nil {
		return Identity{}, fmt.Errorf("persist identity: %w", err)
	}
	return current, nil
}
