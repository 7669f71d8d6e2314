// Package directory is the signaling side of the WebSocket broker: peers claim their id here and
// publish the URL their endpoint listens on, and dialers look that URL up. Claims are leases that
// must be refreshed before they expire. No chat traffic passes through the directory.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrTaken is returned when the id is held by a live lease.
	ErrTaken = errors.New("peer id taken")
	// ErrNotFound is returned when no live lease exists for the id.
	ErrNotFound = errors.New("peer not found")
	// ErrLeaseMismatch is returned when a lease id does not match the current holder.
	ErrLeaseMismatch = errors.New("lease mismatch")
)

// Record is one live claim.
type Record struct {
	ID        string
	URL       string
	LeaseID   string
	ExpiresAt time.Time
}

// Registry holds the live claims.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
	log     *zerolog.Logger
}

// NewRegistry creates a registry whose leases last ttl.
func NewRegistry(ttl time.Duration, logger *zerolog.Logger) *Registry {
	return &Registry{
		records: make(map[string]Record),
		ttl:     ttl,
		now:     time.Now,
		log:     logger,
	}
}

// TTL returns the lease duration.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Register claims id for url. A claim whose lease already expired is replaced.
func (r *Registry) Register(id, url string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.records[id]; ok && now.Before(existing.ExpiresAt) {
		return Record{}, ErrTaken
	}

	rec := Record{
		ID:        id,
		URL:       url,
		LeaseID:   uuid.NewString(),
		ExpiresAt: now.Add(r.ttl),
	}
	r.records[id] = rec
	return rec, nil
}

// Refresh extends the lease identified by leaseID.
func (r *Registry) Refresh(id, leaseID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveLocked(id, leaseID)
	if err != nil {
		return Record{}, err
	}
	rec.ExpiresAt = r.now().Add(r.ttl)
	r.records[id] = rec
	return rec, nil
}

// Release drops the lease identified by leaseID.
func (r *Registry) Release(id, leaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.liveLocked(id, leaseID); err != nil {
		return err
	}
	delete(r.records, id)
	return nil
}

// Lookup returns the live claim for id.
func (r *Registry) Lookup(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok || !r.now().Before(rec.ExpiresAt) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *Registry) liveLocked(id, leaseID string) (Record, error) {
	rec, ok := r.records[id]
	if !ok || !r.now().Before(rec.ExpiresAt) {
		return Record{}, ErrNotFound
	}
	if rec.LeaseID != leaseID {
		return Record{}, ErrLeaseMismatch
	}
	return rec, nil
}

// Sweep removes expired claims and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	dropped := 0
	for id, rec := range r.records {
		if !now.Before(rec.ExpiresAt) {
			delete(r.records, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps expired claims every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug().Int("expired", n).Msg("swept expired leases")
			}
		case <-ctx.Done():
			return
		}
	}
}
