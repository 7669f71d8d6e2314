package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
)

// Common errors for friend operations.
var (
	ErrCannotFriendSelf = errors.New("cannot add yourself as a friend")
	ErrNotFriends       = errors.New("not a friend")
)

// Service keeps the friends list of the local identity.
type Service struct {
	store store.FriendStore
	now   func() time.Time
}

// New creates a new friends Service.
func New(st store.FriendStore) *Service {
	return &Service{
		store: st,
		now:   time.Now,
	}
}

// Add records friend as a friend of owner. Adding an existing friend refreshes its display name
// and keeps the original date.
func (s *Service) Add(ctx context.Context, owner, friend identity.Identity) (*store.Friend, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("add friend: owner id is empty")
	}
	if owner.ID == friend.ID {
		return nil, ErrCannotFriendSelf
	}
	if _, err := identity.NormalizeID(friend.ID); err != nil {
		return nil, err
	}

	existing, err := s.find(ctx, owner.ID, friend.ID)
	if err != nil && !errors.Is(err, ErrNotFriends) {
		return nil, err
	}

	record := &store.Friend{
		OwnerID:     owner.ID,
		FriendID:    friend.ID,
		DisplayName: strings.TrimSpace(friend.DisplayName),
		AddedAt:     s.now().UTC(),
	}
	if record.DisplayName == "" {
		record.DisplayName = friend.ID
	}
	if existing != nil {
		record.AddedAt = existing.AddedAt
	}

	if err := s.store.SaveFriend(ctx, record); err != nil {
		return nil, fmt.Errorf("save friend: %w", err)
	}
	return record, nil
}

// List returns the friends of ownerID ordered by id.
func (s *Service) List(ctx context.Context, ownerID string) ([]*store.Friend, error) {
	friends, err := s.store.ListFriends(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

// IsFriend reports whether friendID is on ownerID's list.
func (s *Service) IsFriend(ctx context.Context, ownerID, friendID string) (bool, error) {
	_, err := s.find(ctx, ownerID, friendID)
	if errors.Is(err, ErrNotFriends) {
		return false, nil
	}
	return err == nil, err
}

// Remove drops friendID from ownerID's list.
func (s *Service) Remove(ctx context.Context, ownerID, friendID string) error {
	if _, err := s.find(ctx, ownerID, friendID); err != nil {
		return err
	}
	if err := s.store.DeleteFriend(ctx, ownerID, friendID); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	return nil
}

func (s *Service) find(ctx context.Context, ownerID, friendID string) (*store.Friend, error) {
	friends, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, f := range friends {
		if f.FriendID == friendID {
			return f, nil
		}
	}
	return nil, ErrNotFriends
}
