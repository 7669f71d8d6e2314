package core

import (
	"errors"

	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/proto"
)

// handleData decodes one inbound message and dispatches it. Runs on the loop.
func (s *Session) handleData(c *Connection, data []byte) {
	if !s.tracked(c) {
		return
	}

	payload, err := proto.Decode(data)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) && e.Err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed payload")
		} else {
			c.log.Debug().Err(err).Msg("dropping unknown payload")
		}
		return
	}

	s.dispatch(c, payload)
}

// dispatch routes a decoded payload. Only registered connections may carry chat, and only
// a host relays it onwards. Friend requests and invites never keep a connection in the room.
func (s *Session) dispatch(c *Connection, payload proto.Payload) {
	switch p := payload.(type) {
	case proto.FriendRequest:
		s.releaseRequest(c)
		s.emit(&Event{
			Kind: EventInbox,
			From: c.RemoteID(),
			Request: &InboxRequest{
				Kind: RequestFriend,
				From: p.User,
				Conn: c,
			},
		})
	case proto.FriendAccept:
		friend := p.User
		s.emit(&Event{Kind: EventFriendAdded, From: c.RemoteID(), Friend: &friend})
		// The request connection has served its purpose.
		if !c.Inbound() {
			s.closeSide(c)
		}
	case proto.RoomInvite:
		s.releaseRequest(c)
		s.emit(&Event{
			Kind: EventInbox,
			From: c.RemoteID(),
			Request: &InboxRequest{
				Kind:   RequestRoom,
				From:   p.User,
				RoomID: p.RoomID,
				Conn:   c,
			},
		})
	case proto.Chat:
		if !s.registry.Contains(c) {
			c.log.Debug().Msg("dropping chat from unregistered connection")
			return
		}
		s.settle(c)
		s.emit(&Event{Kind: EventMessage, From: c.RemoteID(), Message: p.Msg})

		if s.role.IsHost() {
			data, err := proto.Encode(p)
			if err != nil {
				c.log.Warn().Err(err).Msg("re-encode chat for relay")
				return
			}
			n := s.registry.Relay(data, c.RemoteID())
			c.log.Debug().Int("recipients", n).Msg("relayed chat")
		}
	default:
		c.log.Debug().Str("type", string(payload.Type())).Msg("no handler for payload")
	}
}

func (s *Session) releaseRequest(c *Connection) {
	if c.Inbound() && s.registry.Contains(c) {
		s.demote(c)
	}
}
