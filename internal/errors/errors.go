// Package errors implements the wire error taxonomy of the chat fabric.
// Error codes are part of the wire contract and must not change.
package errors

import "fmt"

// ChatError is the error type every handler on the fabric returns for a
// condition that must surface to the client as a structured ERROR frame.
type ChatError struct {
	Code    int
	Message string
	Extra   map[string]any
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("chat error %d: %s", e.Code, e.Message)
}

func newErr(code int, message string, extra map[string]any) *ChatError {
	return &ChatError{Code: code, Message: message, Extra: extra}
}

// NewChatServerException wraps an unhandled exception in the inbound loop.
func NewChatServerException(className string, cause error) *ChatError {
	return newErr(10000, "Exception in chat websocket server.", map[string]any{
		"class_name": className,
		"exception":  fmt.Sprint(cause),
	})
}

// NewUserNotInChatRoom reports that the sender is not a room member.
func NewUserNotInChatRoom(chatRoomID, appUserID string) *ChatError {
	return newErr(10001, "User does not belong to this chat room.", map[string]any{
		"chat_room_identifier":        chatRoomID,
		"application_user_identifier": appUserID,
	})
}

// NewWrongMessageType reports a non-string payload field, or a message
// type that a manager connection does not accept.
func NewWrongMessageType() *ChatError {
	return newErr(10002, "Message must be string type.", nil)
}

// NewChatRoomIdentifiersListLength reports a >10 element id list.
func NewChatRoomIdentifiersListLength() *ChatError {
	return newErr(10003, "Length of chat_room_identifiers list cant be grater than 10.", nil)
}

// NewInvalidMessageFormat reports a JSON parse failure or non-object frame.
func NewInvalidMessageFormat() *ChatError {
	return newErr(10004, "Invalid message format: Must be a dictionary with proper fields.", nil)
}

// NewMissingRequiredField reports an absent mandatory field.
func NewMissingRequiredField(fieldName string) *ChatError {
	return newErr(10005, "Missing required field.", map[string]any{"field_name": fieldName})
}

// NewDnsConnections reports that no operational router is available.
func NewDnsConnections() *ChatError {
	return newErr(10006, "Central router is not connected. Ignoring message.", nil)
}

// NewMessageSpam reports the anti-spam trip; the caller must close the socket.
func NewMessageSpam() *ChatError {
	return newErr(10007, "Message spam detected: the rate exceeded 300 messages per minute. Server will close the socket.", nil)
}

// NewInvalidChatRoomMessageType reports a message type not admissible for
// the room's type.
func NewInvalidChatRoomMessageType(chatRoomType int, methodType string) *ChatError {
	return newErr(10008, "Invalid message type for chat room. See details.", map[string]any{
		"chat_room_type": chatRoomType,
		"method_type":    methodType,
	})
}

// NewChatRoomDoesNotExists reports a chat room lookup miss.
func NewChatRoomDoesNotExists() *ChatError {
	return newErr(10009, "Chat room does not exists.", nil)
}
