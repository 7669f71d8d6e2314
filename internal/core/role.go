package core

import "sync/atomic"

// Role is the local process's position in the room.
type Role int32

const (
	// RoleGuest dialed out to a host, or has no connections at all.
	RoleGuest Role = iota
	// RoleHost accepted an inbound connection and relays chat between its peers.
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "guest"
}

// roleState is written by the session loop and read from anywhere.
type roleState struct {
	v atomic.Int32
}

func (s *roleState) BecomeHost()  { s.v.Store(int32(RoleHost)) }
func (s *roleState) BecomeGuest() { s.v.Store(int32(RoleGuest)) }

// Reset returns to Guest once the registry is empty.
func (s *roleState) Reset() { s.BecomeGuest() }

func (s *roleState) Get() Role    { return Role(s.v.Load()) }
func (s *roleState) IsHost() bool { return s.Get() == RoleHost }
