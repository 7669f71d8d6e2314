// Package badger implements store.Store on an embedded BadgerDB key-value store.
//
// Keys:
//
//	identity                       -> JSON identity record
//	friend:{owner_id}:{friend_id}  -> JSON friend record
//
// Friend keys sort lexicographically by friend id within an owner prefix.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
)

const identityKey = "identity"

// BadgerStore implements store.Store for BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// New opens (or creates) a Badger database in dir.
func New(dir string) (*BadgerStore, error) {
	return open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
}

// NewInMemory opens a throwaway in-memory database. Useful for tests.
func NewInMemory() (*BadgerStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func friendPrefix(ownerID string) []byte {
	return []byte("friend:" + ownerID + ":")
}

func friendKey(ownerID, friendID string) []byte {
	return append(friendPrefix(ownerID), friendID...)
}

// SaveIdentity stores the identity, replacing any previous one.
func (s *BadgerStore) SaveIdentity(_ context.Context, identity *store.Identity) error {
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(identityKey), data)
	})
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// LoadIdentity returns the stored identity or store.ErrNotFound.
func (s *BadgerStore) LoadIdentity(_ context.Context) (*store.Identity, error) {
	var identity store.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(identityKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &identity)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return &identity, nil
}

// SaveFriend inserts or updates a friend record. An existing AddedAt is kept.
func (s *BadgerStore) SaveFriend(_ context.Context, friend *store.Friend) error {
	key := friendKey(friend.OwnerID, friend.FriendID)
	err := s.db.Update(func(txn *badger.Txn) error {
		record := *friend
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing store.Friend
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return err
			}
			record.AddedAt = existing.AddedAt
		case errors.Is(err, badger.ErrKeyNotFound):
			if record.AddedAt.IsZero() {
				record.AddedAt = time.Now().UTC()
			}
		default:
			return err
		}

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("save friend: %w", err)
	}
	return nil
}

// ListFriends lists friends of ownerID ordered by friend id.
func (s *BadgerStore) ListFriends(_ context.Context, ownerID string) ([]*store.Friend, error) {
	var friends []*store.Friend
	prefix := friendPrefix(ownerID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f store.Friend
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &f) }); err != nil {
				return err
			}
			friends = append(friends, &f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

// DeleteFriend removes a friend record.
func (s *BadgerStore) DeleteFriend(_ context.Context, ownerID, friendID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(friendKey(ownerID, friendID))
	})
	if err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	return nil
}
