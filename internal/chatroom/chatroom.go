// Package chatroom implements chat-room lookup and membership validation,
// shared by every ES inbound handler that needs to authorize a sender
// against a room.
package chatroom

import (
	"context"

	"github.com/ashureev/chatfabric/internal/domain"
	cerrors "github.com/ashureev/chatfabric/internal/errors"
	"github.com/ashureev/chatfabric/internal/store"
)

// Validate fetches chatRoomID and checks that messageType is admissible
// and that appUserID is a member (required for all room types except
// MASS_PUBLIC). It returns the room on success.
func Validate(ctx context.Context, repo store.Repository, chatRoomID, appUserID, messageType string) (*domain.ChatRoom, error) {
	room, err := repo.FetchChatRoom(ctx, chatRoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, cerrors.NewChatRoomDoesNotExists()
	}

	if !room.Allows(messageType) {
		return nil, cerrors.NewInvalidChatRoomMessageType(int(room.Type), messageType)
	}

	if room.Type != domain.ChatRoomMassPublic && !room.HasMember(appUserID) {
		return nil, cerrors.NewUserNotInChatRoom(chatRoomID, appUserID)
	}

	return room, nil
}
