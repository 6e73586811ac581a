// Package wire defines the JSON-over-websocket message vocabulary shared
// between edge servers and central routers, and between clients and edge
// servers.
package wire

// Message type tags. Every frame on every socket in the fabric is a JSON
// object carrying one of these in its "type" field.
const (
	TypeAddAppUserWebsocket    = "ADD_APP_USER_WEBSOCKET"
	TypeRemoveAppUserWebsocket = "REMOVE_APP_USER_WEBSOCKET"
	TypeFullSync               = "FULL_SYNC"
	TypeRoutable               = "ROUTABLE"
	TypeSystemRoutable         = "SYSTEM_ROUTABLE"
	TypeSetLastMessageRead     = "SET_LAST_MESSAGE_READ"
	TypeOfflineNotification    = "OFFLINE_NOTIFICATION"
	TypeServerMode             = "SERVER_MODE"
	TypeGetHistory             = "GET_HISTORY"
	TypeGetLastMessagesRead    = "GET_LAST_MESSAGES_READ"
	TypeGetLastChatRoomMessage = "GET_LAST_CHAT_ROOM_MESSAGE"
	TypeGetUnreadMessagesCount = "GET_UNREAD_MESSAGES_COUNT"
	TypeConnectedUsersInfo     = "CONNECTED_USERS_INFO"
	TypeError                  = "ERROR"
)

const ServerModeOperational = "OPERATIONAL"

// Envelope is the minimal shape every frame must satisfy; handlers decode
// the full payload separately once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

// AddAppUserWebsocket is sent ES -> CR when a user's first device attaches
// locally.
type AddAppUserWebsocket struct {
	Type                   string `json:"type"`
	ApplicationUserID      string `json:"application_user_identifier"`
}

// RemoveAppUserWebsocket is sent ES -> CR when a user's last device detaches.
type RemoveAppUserWebsocket struct {
	Type              string `json:"type"`
	ApplicationUserID string `json:"application_user_identifier"`
}

// FullSync is sent ES -> CR immediately after a router connection is
// established, carrying every app_user_id currently known locally.
type FullSync struct {
	Type                   string   `json:"type"`
	ApplicationUserIDs []string `json:"application_user_identifiers"`
}

// Routable carries a chat-room message. ES -> CR on submission, CR -> ES
// fanned out to every edge owning a recipient.
type Routable struct {
	Type                   string                 `json:"type"`
	ChatRoomID             string                 `json:"chat_room_identifier"`
	AppUserID              string                 `json:"app_user_identifier"`
	ApplicationUserIDs     []string               `json:"application_user_identifiers"`
	MessageTimestampID     int64                  `json:"message_timestamp_identifier"`
	Message                map[string]any         `json:"message"`
	CustomData             map[string]any         `json:"custom_data,omitempty"`
}

// SystemRoutable is a CR-mediated broadcast that never triggers persistence
// or offline notification on receipt.
type SystemRoutable struct {
	Type               string         `json:"type"`
	ChatRoomID         string         `json:"chat_room_identifier"`
	ApplicationUserIDs []string       `json:"application_user_identifiers"`
	MessageTimestampID int64          `json:"message_timestamp_identifier"`
	Message            map[string]any `json:"message"`
}

// SetLastMessageRead mirrors Routable minus the message body.
type SetLastMessageRead struct {
	Type               string   `json:"type"`
	ChatRoomID         string   `json:"chat_room_identifier"`
	AppUserID          string   `json:"app_user_identifier"`
	ApplicationUserIDs []string `json:"application_user_identifiers"`
	MessageTimestampID int64    `json:"message_timestamp_identifier"`
}

// OfflineNotification is emitted CR -> ES for recipients absent from the
// UserLocator at routing time.
type OfflineNotification struct {
	Type               string         `json:"type"`
	ApplicationUserIDs []string       `json:"application_user_identifiers"`
	ChatRoomID         string         `json:"chat_room_identifier"`
	AppUserID          string         `json:"application_user_identifier"`
	Message            map[string]any `json:"message"`
}

// ServerMode announces a CR's mode transition to a connected edge.
type ServerMode struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GetHistoryRequest/Reply implement chat room history pagination.
type GetHistoryRequest struct {
	Type                           string `json:"type"`
	ChatRoomID                     string `json:"chat_room_identifier"`
	FromMessageTimestampID int64  `json:"from_message_timestamp_identifier"`
	Limit                          int    `json:"limit,omitempty"`
}

type GetHistoryReply struct {
	Type       string           `json:"type"`
	ChatRoomID string           `json:"chat_room_identifier"`
	Payload    []map[string]any `json:"payload"`
}

// SetLastMessageReadRequest is the client-facing request (no
// application_user_identifiers, unlike the CR-bound broadcast form).
type SetLastMessageReadRequest struct {
	Type                   string `json:"type"`
	ChatRoomID             string `json:"chat_room_identifier"`
	MessageTimestampID int64  `json:"message_timestamp_identifier"`
}

type GetLastMessagesReadRequest struct {
	Type       string `json:"type"`
	ChatRoomID string `json:"chat_room_identifier"`
}

type GetLastMessagesReadReply struct {
	Type       string           `json:"type"`
	ChatRoomID string           `json:"chat_room_identifier"`
	Payload    []map[string]any `json:"payload"`
}

type GetLastChatRoomMessageRequest struct {
	Type             string   `json:"type"`
	ChatRoomIDs []string `json:"chat_room_identifiers"`
}

type LastChatRoomMessage struct {
	ChatRoomID          string `json:"chat_room_identifier"`
	HasUnreadMessages          bool   `json:"has_unread_messages"`
	LastMessageText            string `json:"last_message_text"`
	MessageTimestampID int64  `json:"message_timestamp_identifier"`
}

type GetLastChatRoomMessageReply struct {
	Type    string                 `json:"type"`
	Payload []LastChatRoomMessage `json:"payload"`
}

type GetUnreadMessagesCountRequest struct {
	Type             string   `json:"type"`
	ChatRoomIDs []string `json:"chat_room_identifiers"`
}

type UnreadMessagesCount struct {
	ChatRoomID          string `json:"chat_room_identifier"`
	UnreadMessagesCount int    `json:"unread_messages_count"`
}

type GetUnreadMessagesCountReply struct {
	Type    string                `json:"type"`
	Payload []UnreadMessagesCount `json:"payload"`
}

// ConnectedUsersInfo answers a manager connection's status query.
type ConnectedUsersInfo struct {
	Type                 string `json:"type"`
	ApplicationID        string `json:"application_identifier"`
	ConnectedUsersCount int    `json:"connected_users_count"`
}

// ErrorFrame is the wire shape of internal/errors.ChatError.
type ErrorFrame struct {
	Type      string        `json:"type"`
	Exception ErrorExcerpt `json:"exception"`
}

type ErrorExcerpt struct {
	Message   string         `json:"message"`
	ErrorCode int            `json:"error_code"`
	Extra     map[string]any `json:"extra,omitempty"`
}
