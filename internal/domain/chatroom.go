// Package domain holds the durable-store-facing data model of the chat
// fabric: chat rooms, messages, read markers, and sessions.
package domain

import "time"

// ChatRoomType gates which inbound message types a room admits.
type ChatRoomType int

const (
	ChatRoomRegular     ChatRoomType = 1
	ChatRoomMassPublic  ChatRoomType = 2
	ChatRoomMassPrivate ChatRoomType = 3
)

// ChatRoom is a durable row describing a conversation and its membership.
type ChatRoom struct {
	ChatRoomID string
	Type       ChatRoomType
	AppUsers   []string
}

// HasMember reports whether appUserID is a member of the room.
func (r *ChatRoom) HasMember(appUserID string) bool {
	for _, id := range r.AppUsers {
		if id == appUserID {
			return true
		}
	}
	return false
}

// Allows reports whether the given inbound message type is admissible for
// this room's type.
func (r *ChatRoom) Allows(messageType string) bool {
	switch r.Type {
	case ChatRoomMassPublic, ChatRoomMassPrivate:
		return messageType == "ROUTABLE" || messageType == "GET_HISTORY"
	default:
		return true
	}
}

// ChatMessage is a durable persisted message row.
type ChatMessage struct {
	ChatRoomID         string
	MessageTimestampID int64
	AppUserID          string
	Message            map[string]any
}

// LastMessageRead is the durable read-marker row for (app_user_id, chat_room_id).
type LastMessageRead struct {
	ChatRoomID         string
	AppUserID          string
	MessageTimestampID int64
}

// Session maps a bearer token to the (app_user_id, device_id) it authenticates.
type Session struct {
	Token             string
	AppUserID         string
	DeviceID          string
	ApplicationID     string
}

// CustomData is free-form per-user metadata attached to outbound ROUTABLE
// frames (cached with a short TTL by internal/cache).
type CustomData map[string]any

// ApplicationSettings describes one tenant application's chat configuration.
type ApplicationSettings struct {
	ApplicationID            string
	IsChatActive              bool
	MaxConcurrentOnlineUsers  int
	FirebaseServerKey         string
}

// DeviceToken is a cached push-notification registration for one device.
type DeviceToken struct {
	Token         string
	ApplicationID string
}

// now is overridable in tests.
var now = time.Now
