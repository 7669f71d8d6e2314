// Package broker defines the peer connection broker the session is built on: a way to become
// reachable under an id, accept inbound connections and dial other ids.
//
// Implementations live in subpackages: memory (in-process) and ws (WebSocket endpoints found
// through the directory service).
package broker

import (
	"context"
	"errors"
)

var (
	// ErrIDTaken is returned by Listen when the id is already reachable elsewhere.
	ErrIDTaken = errors.New("id already taken")
	// ErrPeerUnavailable is returned by Dial when the remote id is not reachable.
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrClosed is returned by operations on a closed endpoint or connection,
	// and by Read once the remote side closed cleanly.
	ErrClosed = errors.New("closed")
)

// Broker makes a process reachable under an id.
type Broker interface {
	Listen(ctx context.Context, id string) (Endpoint, error)
}

// Endpoint is a listening registration. Dial presents the endpoint's id to the remote side.
type Endpoint interface {
	ID() string
	// Accept blocks until an inbound connection arrives, ctx ends or the endpoint closes.
	Accept(ctx context.Context) (Conn, error)
	Dial(ctx context.Context, remoteID string) (Conn, error)
	// Close stops listening and releases the id. Connections already handed out stay open.
	Close() error
}

// Conn is an open, message-oriented, ordered connection to one remote peer.
type Conn interface {
	RemoteID() string
	// Read returns the next whole message.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}
