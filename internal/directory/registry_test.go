package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-p2p/internal/log"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(ttl time.Duration) (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(ttl, log.Nop())
	r.now = clock.now
	return r, clock
}

func TestRegistryRegisterTaken(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)

	rec, err := r.Register("alice", "ws://a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.LeaseID == "" {
		t.Fatal("expected lease id")
	}

	if _, err := r.Register("alice", "ws://b"); !errors.Is(err, ErrTaken) {
		t.Fatalf("expected ErrTaken, got %v", err)
	}

	got, err := r.Lookup("alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.URL != "ws://a" {
		t.Fatalf("expected first url to win, got %s", got.URL)
	}
}

func TestRegistryExpiredLeaseIsReplaced(t *testing.T) {
	r, clock := newTestRegistry(time.Minute)

	first, err := r.Register("alice", "ws://a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	clock.advance(time.Minute)
	if _, err := r.Lookup("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired lease to be invisible, got %v", err)
	}

	second, err := r.Register("alice", "ws://b")
	if err != nil {
		t.Fatalf("re-register after expiry: %v", err)
	}
	if second.LeaseID == first.LeaseID {
		t.Fatal("expected a fresh lease id")
	}

	if _, err := r.Refresh("alice", first.LeaseID); !errors.Is(err, ErrLeaseMismatch) {
		t.Fatalf("expected stale lease to be rejected, got %v", err)
	}
}

func TestRegistryRefreshExtends(t *testing.T) {
	r, clock := newTestRegistry(time.Minute)

	rec, _ := r.Register("alice", "ws://a")
	clock.advance(40 * time.Second)

	refreshed, err := r.Refresh("alice", rec.LeaseID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed.ExpiresAt.After(rec.ExpiresAt) {
		t.Fatal("expected expiry to move forward")
	}

	clock.advance(40 * time.Second)
	if _, err := r.Lookup("alice"); err != nil {
		t.Fatalf("expected refreshed lease to be live: %v", err)
	}
}

func TestRegistryReleaseAndSweep(t *testing.T) {
	r, clock := newTestRegistry(time.Minute)

	alice, _ := r.Register("alice", "ws://a")
	if _, err := r.Register("bob", "ws://b"); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	if err := r.Release("alice", "wrong"); !errors.Is(err, ErrLeaseMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := r.Release("alice", alice.LeaseID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := r.Lookup("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected alice gone, got %v", err)
	}

	clock.advance(2 * time.Minute)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept lease, got %d", n)
	}
	if n := r.Sweep(); n != 0 {
		t.Fatalf("expected nothing left to sweep, got %d", n)
	}
}
