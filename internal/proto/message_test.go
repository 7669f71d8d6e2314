package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
)

func TestDecodeVariants(t *testing.T) {
	ann := identity.Identity{ID: "ann", DisplayName: "Ann"}

	tests := []struct {
		name string
		wire string
		want Payload
	}{
		{
			name: "friend request",
			wire: `{"type":"FRIEND_REQ","user":{"id":"ann","displayName":"Ann"}}`,
			want: FriendRequest{User: ann},
		},
		{
			name: "friend accept",
			wire: `{"type":"FRIEND_ACCEPT","user":{"id":"ann","displayName":"Ann"}}`,
			want: FriendAccept{User: ann},
		},
		{
			name: "room invite",
			wire: `{"type":"ROOM_INVITE","user":{"id":"ann","displayName":"Ann"},"roomId":"r1"}`,
			want: RoomInvite{User: ann, RoomID: "r1"},
		},
		{
			name: "chat",
			wire: `{"type":"CHAT","msg":{"content":"hi"}}`,
			want: Chat{Msg: json.RawMessage(`{"content":"hi"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.wire))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"not json":         `{"type":`,
		"no type":          `{"msg":{}}`,
		"unknown type":     `{"type":"TYPING","user":{"id":"ann"}}`,
		"lowercase type":   `{"type":"chat","msg":{}}`,
		"request w/o user": `{"type":"FRIEND_REQ"}`,
		"invite w/o room":  `{"type":"ROOM_INVITE","user":{"id":"ann","displayName":"Ann"}}`,
		"chat w/o msg":     `{"type":"CHAT"}`,
	}

	for name, wire := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(wire))
			require.ErrorIs(t, err, errs.ErrUnknownPayload)
		})
	}
}

func TestEncodeUsesFlatRecord(t *testing.T) {
	data, err := Encode(RoomInvite{User: identity.Identity{ID: "ann", DisplayName: "Ann"}, RoomID: "lobby"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"ROOM_INVITE","user":{"id":"ann","displayName":"Ann"},"roomId":"lobby"}`, string(data))

	chat, err := NewChat(ChatMessage{Content: "hi"})
	require.NoError(t, err)
	data, err = Encode(chat)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"CHAT","msg":{"content":"hi"}}`, string(data))

	_, err = Encode(Chat{})
	require.Error(t, err)
}

func TestNewChatRejectsInvalidRawJSON(t *testing.T) {
	_, err := NewChat(json.RawMessage(`{oops`))
	require.Error(t, err)

	chat, err := NewChat(json.RawMessage(`"plain"`))
	require.NoError(t, err)
	require.Equal(t, `"plain"`, string(chat.Msg))
}
