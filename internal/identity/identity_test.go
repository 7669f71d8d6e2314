package identity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/store/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewService(st)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ann!", "ann"},
		{"ann", "ann"},
		{"  Bob Smith ", "bobsmith"},
		{"R2-D2", "r2d2"},
		{"Zoë", "zo"},
		{"!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegisterIsStableAcrossSpellings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, "Ann!")
	require.NoError(t, err)
	second, err := svc.Register(ctx, "ann")
	require.NoError(t, err)

	require.Equal(t, "ann", first.ID)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "ann", second.DisplayName)
}

func TestRegisterRejectsShortIDs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"!", "1", "a!!", "", "   ", "é"} {
		_, err := svc.Register(ctx, name)
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("Register(%q): expected validation error, got %v", name, err)
		}
	}

	// Nothing was persisted by the failed attempts.
	_, ok, err := svc.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCurrentReturnsPersistedIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, ok, err := svc.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok, "absence is not an error")

	_, err = svc.Register(ctx, "Alice")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Bob")
	require.NoError(t, err)

	got, ok, err := svc.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", got.ID)
	require.Equal(t, "Bob", got.DisplayName)
}

func TestUpdateSettings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateSettings(ctx, json.RawMessage(`{"theme":"dark"}`))
	require.ErrorIs(t, err, errs.ErrNotRegistered)

	_, err = svc.Register(ctx, "carol")
	require.NoError(t, err)

	_, err = svc.UpdateSettings(ctx, json.RawMessage(`{not json`))
	require.ErrorIs(t, err, errs.ErrValidation)

	updated, err := svc.UpdateSettings(ctx, json.RawMessage(`{"theme":"dark"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"theme":"dark"}`, string(updated.Settings))

	got, _, err := svc.Current(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"theme":"dark"}`, string(got.Settings))
}

func TestIdentityValidate(t *testing.T) {
	require.NoError(t, Identity{ID: "ann", DisplayName: "Ann"}.Validate())
	require.ErrorIs(t, Identity{ID: "Ann", DisplayName: "Ann"}.Validate(), errs.ErrValidation)
	require.ErrorIs(t, Identity{ID: "a", DisplayName: "A"}.Validate(), errs.ErrValidation)
	require.ErrorIs(t, Identity{ID: "ann"}.Validate(), errs.ErrValidation)
}
