package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Identity is the persisted local identity. Only one is stored at a time.
type Identity struct {
	ID          string
	DisplayName string
	Settings    []byte // opaque JSON
	UpdatedAt   time.Time
}

// Friend is an accepted friend of the local identity.
type Friend struct {
	OwnerID     string
	FriendID    string
	DisplayName string
	AddedAt     time.Time
}

// IdentityStore handles local identity persistence.
type IdentityStore interface {
	// SaveIdentity stores the identity, replacing any previous one.
	SaveIdentity(ctx context.Context, identity *Identity) error

	// LoadIdentity returns the stored identity or ErrNotFound.
	LoadIdentity(ctx context.Context) (*Identity, error)
}

// FriendStore handles friend list persistence.
type FriendStore interface {
	// SaveFriend inserts or updates a friend of ownerID.
	SaveFriend(ctx context.Context, friend *Friend) error

	// ListFriends lists friends of ownerID ordered by friend id.
	ListFriends(ctx context.Context, ownerID string) ([]*Friend, error)

	// DeleteFriend removes a friend of ownerID. Missing records are not an error.
	DeleteFriend(ctx context.Context, ownerID, friendID string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	IdentityStore
	FriendStore

	// Close closes the underlying database.
	Close() error
}
