package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
)

// Type discriminates wire payloads.
type Type string

const (
	ProtocolVersion = 1

	TypeFriendRequest Type = "FRIEND_REQ"
	TypeFriendAccept  Type = "FRIEND_ACCEPT"
	TypeRoomInvite    Type = "ROOM_INVITE"
	TypeChat          Type = "CHAT"
)

// Payload is one of FriendRequest, FriendAccept, RoomInvite or Chat.
type Payload interface {
	Type() Type
	sealed()
}

// FriendRequest asks the receiver to become a friend of User.
type FriendRequest struct {
	User identity.Identity
}

// FriendAccept answers a FriendRequest.
type FriendAccept struct {
	User identity.Identity
}

// RoomInvite asks the receiver to connect back to User to join RoomID.
type RoomInvite struct {
	User   identity.Identity
	RoomID string
}

// Chat carries an opaque chat message.
type Chat struct {
	Msg json.RawMessage
}

func (FriendRequest) Type() Type { return TypeFriendRequest }
func (FriendAccept) Type() Type  { return TypeFriendAccept }
func (RoomInvite) Type() Type    { return TypeRoomInvite }
func (Chat) Type() Type          { return TypeChat }

func (FriendRequest) sealed() {}
func (FriendAccept) sealed()  {}
func (RoomInvite) sealed()    {}
func (Chat) sealed()          {}

// envelope is the flat JSON record on the wire.
type envelope struct {
	Type   Type               `json:"type"`
	User   *identity.Identity `json:"user,omitempty"`
	RoomID string             `json:"roomId,omitempty"`
	Msg    json.RawMessage    `json:"msg,omitempty"`
}

// ChatMessage is the message shape the console puts inside CHAT payloads.
// Other clients may send any JSON value.
type ChatMessage struct {
	From    string `json:"from,omitempty"`
	Content string `json:"content"`
	TS      int64  `json:"ts,omitempty"`
}

// Encode serializes a payload.
func Encode(p Payload) ([]byte, error) {
	env := envelope{Type: p.Type()}
	switch v := p.(type) {
	case FriendRequest:
		env.User = &v.User
	case FriendAccept:
		env.User = &v.User
	case RoomInvite:
		env.User = &v.User
		env.RoomID = v.RoomID
	case Chat:
		if len(v.Msg) == 0 {
			return nil, errors.New("chat payload without msg")
		}
		env.Msg = v.Msg
	default:
		return nil, fmt.Errorf("encode: unsupported payload %T", p)
	}
	return json.Marshal(env)
}

// Decode parses a payload. Malformed records and unknown types fail with errs.ErrUnknownPayload.
func Decode(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.Wrap(errs.CodeUnknownPayload, "malformed payload", err)
	}

	switch env.Type {
	case TypeFriendRequest:
		if env.User == nil {
			return nil, missingField(env.Type, "user")
		}
		return FriendRequest{User: *env.User}, nil
	case TypeFriendAccept:
		if env.User == nil {
			return nil, missingField(env.Type, "user")
		}
		return FriendAccept{User: *env.User}, nil
	case TypeRoomInvite:
		if env.User == nil {
			return nil, missingField(env.Type, "user")
		}
		if env.RoomID == "" {
			return nil, missingField(env.Type, "roomId")
		}
		return RoomInvite{User: *env.User, RoomID: env.RoomID}, nil
	case TypeChat:
		if len(env.Msg) == 0 {
			return nil, missingField(env.Type, "msg")
		}
		return Chat{Msg: env.Msg}, nil
	case "":
		return nil, errs.New(errs.CodeUnknownPayload, "payload without type")
	default:
		return nil, errs.New(errs.CodeUnknownPayload, fmt.Sprintf("unknown payload type %q", env.Type))
	}
}

func missingField(t Type, field string) error {
	return errs.New(errs.CodeUnknownPayload, fmt.Sprintf("%s payload without %s", t, field))
}

// NewChat wraps any JSON-marshalable value in a Chat payload.
func NewChat(msg any) (Chat, error) {
	if raw, ok := msg.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return Chat{}, errors.New("chat message is not valid JSON")
		}
		return Chat{Msg: raw}, nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return Chat{}, fmt.Errorf("marshal chat message: %w", err)
	}
	return Chat{Msg: raw}, nil
}
