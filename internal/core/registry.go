package core

import (
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Registry is the ordered set of open connections, keyed by remote peer id.
// It is owned by the session loop and never touched concurrently.
type Registry struct {
	conns []*Connection

	// onChange receives the ids after every Add that inserted and every Remove.
	onChange func(ids []string)
	// onEmpty runs when a Remove or Clear leaves the registry empty, before onChange.
	onEmpty func()

	log *zerolog.Logger
}

// NewRegistry builds an empty registry. Nil callbacks are allowed.
func NewRegistry(onChange func([]string), onEmpty func(), logger *zerolog.Logger) *Registry {
	if onChange == nil {
		onChange = func([]string) {}
	}
	if onEmpty == nil {
		onEmpty = func() {}
	}
	return &Registry{onChange: onChange, onEmpty: onEmpty, log: logger}
}

// Add appends c unless a connection to the same remote id is already registered.
// Returns true if c was added.
func (r *Registry) Add(c *Connection) bool {
	if _, exists := r.Get(c.RemoteID()); exists {
		r.log.Debug().Str("peer_id", c.RemoteID()).Msg("duplicate connection ignored")
		return false
	}
	r.conns = append(r.conns, c)
	r.onChange(r.IDs())
	return true
}

// Replace swaps c in for the connection registered under the same remote id and returns
// the one it displaced. Without a match it behaves like Add. The id list is unchanged by a
// swap, so no change notification fires for it.
func (r *Registry) Replace(c *Connection) (*Connection, bool) {
	_, idx, found := lo.FindIndexOf(r.conns, func(existing *Connection) bool {
		return existing.RemoteID() == c.RemoteID()
	})
	if !found {
		r.Add(c)
		return nil, false
	}
	old := r.conns[idx]
	r.conns[idx] = c
	return old, true
}

// Remove drops the connection to remoteID and returns it. The change notification fires
// whether or not the id was present.
func (r *Registry) Remove(remoteID string) (*Connection, bool) {
	c, idx, found := lo.FindIndexOf(r.conns, func(c *Connection) bool {
		return c.RemoteID() == remoteID
	})
	if found {
		r.conns = append(r.conns[:idx], r.conns[idx+1:]...)
	}

	if len(r.conns) == 0 {
		r.onEmpty()
	}
	r.onChange(r.IDs())
	return c, found
}

// Clear drops every connection and returns them in insertion order.
func (r *Registry) Clear() []*Connection {
	removed := r.conns
	r.conns = nil

	r.onEmpty()
	r.onChange(r.IDs())
	return removed
}

// Get returns the registered connection to remoteID.
func (r *Registry) Get(remoteID string) (*Connection, bool) {
	return lo.Find(r.conns, func(c *Connection) bool {
		return c.RemoteID() == remoteID
	})
}

// Contains reports whether c itself, not merely its remote id, is registered.
func (r *Registry) Contains(c *Connection) bool {
	return lo.Contains(r.conns, c)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int { return len(r.conns) }

// IDs returns a snapshot of the remote ids in insertion order.
func (r *Registry) IDs() []string {
	return lo.Map(r.conns, func(c *Connection, _ int) string {
		return c.RemoteID()
	})
}

// Broadcast queues data on every connection and returns how many accepted it.
// Closed or saturated connections are skipped.
func (r *Registry) Broadcast(data []byte) int {
	return r.Relay(data, "")
}

// Relay is Broadcast without the connection to excludeID.
func (r *Registry) Relay(data []byte, excludeID string) int {
	sent := 0
	for _, c := range r.conns {
		if excludeID != "" && c.RemoteID() == excludeID {
			continue
		}
		if c.enqueue(data) {
			sent++
		}
	}
	return sent
}
