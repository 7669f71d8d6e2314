package core

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-p2p/internal/identity"
)

// EventKind is a notification the session emits to its consumer.
type EventKind int

const (
	// EventMessage delivers a chat message received from a peer.
	EventMessage EventKind = iota
	// EventStatus reports a lifecycle status change, see Status.
	EventStatus
	// EventInbox delivers a friend request or a room invite awaiting a decision.
	EventInbox
	// EventFriendAdded notifies that a peer accepted our friend request.
	EventFriendAdded
	// EventConnectionsChanged carries the current registry ids after every add or remove.
	EventConnectionsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventStatus:
		return "status"
	case EventInbox:
		return "inbox"
	case EventFriendAdded:
		return "friend_added"
	case EventConnectionsChanged:
		return "connections_changed"
	default:
		return "unknown"
	}
}

// Status tags carried by EventStatus.
type Status string

const (
	StatusReady     Status = "ready"
	StatusTaken     Status = "taken"
	StatusError     Status = "error"
	StatusReqSent   Status = "req_sent"
	StatusConnected Status = "connected"
)

// RequestKind tells friend requests and room invites apart.
type RequestKind int

const (
	RequestFriend RequestKind = iota
	RequestRoom
)

// InboxRequest lives until the consumer accepts or declines it.
type InboxRequest struct {
	Kind   RequestKind
	From   identity.Identity
	RoomID string
	// Conn is the connection the request arrived on; pass it to AcceptFriend or DeclineRequest.
	Conn *Connection
}

// Event is sent to the consumer to describe what happened.
type Event struct {
	Kind EventKind
	// From is the remote peer id the event concerns, when there is one.
	From    string
	Message json.RawMessage
	Status  Status
	Err     error
	Request *InboxRequest
	Friend  *identity.Identity
	Peers   []string
}
