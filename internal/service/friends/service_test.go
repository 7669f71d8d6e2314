package friends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	"github.com/vovakirdan/wirechat-p2p/internal/store/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

var alice = identity.Identity{ID: "alice", DisplayName: "Alice"}

func TestAddAndList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Add(ctx, alice, identity.Identity{ID: "carol", DisplayName: "Carol"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, alice, identity.Identity{ID: "bob"})
	require.NoError(t, err)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "bob", list[0].FriendID)
	require.Equal(t, "bob", list[0].DisplayName, "missing display name falls back to the id")
	require.Equal(t, "Carol", list[1].DisplayName)

	others, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, others)
}

func TestAddTwiceKeepsDate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	_, err := svc.Add(ctx, alice, identity.Identity{ID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	svc.now = func() time.Time { return first.Add(time.Hour) }
	rec, err := svc.Add(ctx, alice, identity.Identity{ID: "bob", DisplayName: "Bobby"})
	require.NoError(t, err)
	require.True(t, rec.AddedAt.Equal(first))

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Bobby", list[0].DisplayName)
}

func TestAddRejectsSelfAndBadIDs(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Add(ctx, alice, alice)
	require.ErrorIs(t, err, ErrCannotFriendSelf)

	_, err = svc.Add(ctx, alice, identity.Identity{ID: "x"})
	require.True(t, errors.Is(err, errs.ErrValidation))

	_, err = svc.Add(ctx, identity.Identity{}, identity.Identity{ID: "bob"})
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Add(ctx, alice, identity.Identity{ID: "bob"})
	require.NoError(t, err)

	ok, err := svc.IsFriend(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Remove(ctx, "alice", "bob"))
	require.ErrorIs(t, svc.Remove(ctx, "alice", "bob"), ErrNotFriends)

	ok, err = svc.IsFriend(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, ok)
}
