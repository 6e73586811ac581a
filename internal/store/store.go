// Package store provides the durable table-store interface consumed by
// the chat fabric, and a modernc.org/sqlite-backed implementation of it.
//
// The durable store is an external collaborator: a production deployment
// binds Repository to the tenant's actual table store (DynamoDB, in the
// system this module's specification was distilled from). This package's
// sqlite adapter is a complete, swappable stand-in satisfying the same
// interface.
package store

import (
	"context"

	"github.com/ashureev/chatfabric/internal/domain"
)

// Repository is the durable table-store contract used by the edge server.
type Repository interface {
	// FetchSession resolves a bearer token to the (app_user_id, device_id,
	// application_id) it authenticates. Returns nil, nil if not found.
	FetchSession(ctx context.Context, token string) (*domain.Session, error)

	// FetchChatRoom returns the chat room by id, or nil, nil if absent.
	FetchChatRoom(ctx context.Context, chatRoomID string) (*domain.ChatRoom, error)

	// FetchChatRoomMessages returns up to limit messages in chatRoomID with
	// message_timestamp_identifier < fromID, newest first.
	FetchChatRoomMessages(ctx context.Context, chatRoomID string, fromID int64, limit int) ([]*domain.ChatMessage, error)

	// FetchLatestChatRoomMessage returns the newest message in the room, or
	// nil, nil if the room has none.
	FetchLatestChatRoomMessage(ctx context.Context, chatRoomID string) (*domain.ChatMessage, error)

	// FetchReadMessageUsers returns the app_user_ids that have a read
	// marker at exactly messageTimestampID in chatRoomID.
	FetchReadMessageUsers(ctx context.Context, chatRoomID string, messageTimestampID int64) ([]string, error)

	// FetchLastMessagesRead returns every read-marker row for chatRoomID.
	FetchLastMessagesRead(ctx context.Context, chatRoomID string) ([]*domain.LastMessageRead, error)

	// FetchLastMessageRead returns appUserID's read marker in chatRoomID,
	// or nil, nil if none exists.
	FetchLastMessageRead(ctx context.Context, chatRoomID, appUserID string) (*domain.LastMessageRead, error)

	// CountMessagesAfter counts messages in chatRoomID newer than afterID,
	// capped at limit.
	CountMessagesAfter(ctx context.Context, chatRoomID string, afterID int64, limit int) (int, error)

	// CreateChatMessage persists a message and returns its assigned
	// monotonic nanosecond timestamp id.
	CreateChatMessage(ctx context.Context, chatRoomID, appUserID string, message map[string]any) (int64, error)

	// UpsertLastMessageRead deletes any prior read marker for
	// (chatRoomID, appUserID) and inserts a fresh one at messageTimestampID.
	UpsertLastMessageRead(ctx context.Context, chatRoomID, appUserID string, messageTimestampID int64) error

	// FetchCustomData returns free-form per-user metadata, or nil, nil if
	// none is stored.
	FetchCustomData(ctx context.Context, appUserID string) (domain.CustomData, error)

	// FetchDeviceTokens returns every push token registered under appUserID.
	FetchDeviceTokens(ctx context.Context, appUserID string) ([]domain.DeviceToken, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
