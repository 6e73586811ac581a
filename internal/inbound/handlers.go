package inbound

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/chatroom"
	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/domain"
	cerrors "github.com/ashureev/chatfabric/internal/errors"
	"github.com/ashureev/chatfabric/internal/wire"
)

const (
	antispamWindow = 60 * time.Second
	antispamLimit  = 300
)

func (s *Service) handleRoutable(ctx context.Context, client *directory.Client, raw []byte) error {
	var req wire.Routable
	if err := json.Unmarshal(raw, &req); err != nil {
		return cerrors.NewInvalidMessageFormat()
	}
	if req.ChatRoomID == "" {
		return cerrors.NewMissingRequiredField("chat_room_identifier")
	}

	room, err := chatroom.Validate(ctx, s.repo, req.ChatRoomID, client.AppUserID, wire.TypeRoutable)
	if err != nil {
		return err
	}

	timestampID, err := s.repo.CreateChatMessage(ctx, req.ChatRoomID, client.AppUserID, req.Message)
	if err != nil {
		return err
	}
	s.counters.Inc(client.ApplicationID, "messages_persisted")

	customData, _ := s.cache.CustomData(ctx, client.AppUserID)

	out := wire.Routable{
		Type:               wire.TypeRoutable,
		ChatRoomID:         req.ChatRoomID,
		AppUserID:          client.AppUserID,
		ApplicationUserIDs: room.AppUsers,
		MessageTimestampID: timestampID,
		Message:            req.Message,
		CustomData:         customData,
	}
	if err := s.routers.Send(ctx, out); err != nil {
		return err
	}

	return s.persistAndBroadcastLastRead(ctx, client, room, req.ChatRoomID, timestampID)
}

func (s *Service) persistAndBroadcastLastRead(ctx context.Context, client *directory.Client, room *domain.ChatRoom, chatRoomID string, timestampID int64) error {
	if err := s.repo.UpsertLastMessageRead(ctx, chatRoomID, client.AppUserID, timestampID); err != nil {
		return err
	}

	out := wire.SetLastMessageRead{
		Type:               wire.TypeSetLastMessageRead,
		ChatRoomID:         chatRoomID,
		AppUserID:          client.AppUserID,
		ApplicationUserIDs: room.AppUsers,
		MessageTimestampID: timestampID,
	}
	return s.routers.Send(ctx, out)
}

func (s *Service) handleGetHistory(ctx context.Context, client *directory.Client, raw []byte) error {
	var req wire.GetHistoryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return cerrors.NewInvalidMessageFormat()
	}
	if req.ChatRoomID == "" {
		return cerrors.NewMissingRequiredField("chat_room_identifier")
	}

	if _, err := chatroom.Validate(ctx, s.repo, req.ChatRoomID, client.AppUserID, wire.TypeGetHistory); err != nil {
		return err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if s.maxHistory > 0 && limit > s.maxHistory {
		limit = s.maxHistory
	}

	messages, err := s.repo.FetchChatRoomMessages(ctx, req.ChatRoomID, req.FromMessageTimestampID, limit)
	if err != nil {
		return err
	}

	payload := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, s.annotate(ctx, m))
	}

	return s.reply(ctx, client, wire.GetHistoryReply{
		Type:       wire.TypeGetHistory,
		ChatRoomID: req.ChatRoomID,
		Payload:    payload,
	})
}

func (s *Service) annotate(ctx context.Context, m *domain.ChatMessage) map[string]any {
	customData, _ := s.cache.CustomData(ctx, m.AppUserID)
	return map[string]any{
		"chat_room_identifier":         m.ChatRoomID,
		"message_timestamp_identifier": m.MessageTimestampID,
		"app_user_identifier":          m.AppUserID,
		"message":                      m.Message,
		"custom_data":                  customData,
	}
}

func (s *Service) handleSetLastMessageRead(ctx context.Context, client *directory.Client, raw []byte) error {
	var req wire.SetLastMessageReadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return cerrors.NewInvalidMessageFormat()
	}
	if req.ChatRoomID == "" {
		return cerrors.NewMissingRequiredField("chat_room_identifier")
	}

	room, err := chatroom.Validate(ctx, s.repo, req.ChatRoomID, client.AppUserID, wire.TypeSetLastMessageRead)
	if err != nil {
		return err
	}

	return s.persistAndBroadcastLastRead(ctx, client, room, req.ChatRoomID, req.MessageTimestampID)
}

func (s *Service) handleGetLastMessagesRead(ctx context.Context, client *directory.Client, raw []byte) error {
	var req wire.GetLastMessagesReadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return cerrors.NewInvalidMessageFormat()
	}
	if req.ChatRoomID == "" {
		return cerrors.NewMissingRequiredField("chat_room_identifier")
	}

	if _, err := chatroom.Validate(ctx, s.repo, req.ChatRoomID, client.AppUserID, wire.TypeGetLastMessagesRead); err != nil {
		return err
	}

	rows, err := s.repo.FetchLastMessagesRead(ctx, req.ChatRoomID)
	if err != nil {
		return err
	}

	payload := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, map[string]any{
			"chat_room_identifier":         row.ChatRoomID,
			"app_user_identifier":          row.AppUserID,
			"message_timestamp_identifier": row.MessageTimestampID,
		})
	}

	return s.reply(ctx, client, wire.GetLastMessagesReadReply{
		Type:       wire.TypeGetLastMessagesRead,
		ChatRoomID: req.ChatRoomID,
		Payload:    payload,
	})
}

func (s *Service) handleGetLastChatRoomMessage(ctx context.Context, client *directory.Client, raw []byte) error {
	var req wire.GetLastChatRoomMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return cerrors.NewInvalidMessageFormat()
	}

	payload := make([]wire.LastChatRoomMessage, 0, len(req.ChatRoomIDs))
	for _, chatRoomID := range req.ChatRoomIDs {
		if _, err := chatroom.Validate(ctx, s.repo, chatRoomID, client.AppUserID, wire.TypeGetLastChatRoomMessage); err != nil {
			return err
		}

		latest, err := s.repo.FetchLatestChatRoomMessage(ctx, chatRoomID)
		if err != nil {
			return err
		}
		if latest == nil {
			continue
		}

		readers, err := s.repo.FetchReadMessageUsers(ctx, chatRoomID, latest.MessageTimestampID)
		if err != nil {
			return err
		}

		hasUnread := true
		for _, r := range readers {
			if r == client.AppUserID {
				hasUnread = false
				break
			}
		}

		payload = append(payload, wire.LastChatRoomMessage{
			ChatRoomID:         chatRoomID,
			HasUnreadMessages:  hasUnread,
			LastMessageText:    textOf(latest.Message),
			MessageTimestampID: latest.MessageTimestampID,
		})
	}

	return s.reply(ctx, client, wire.GetLastChatRoomMessageReply{
		Type:    wire.TypeGetLastChatRoomMessage,
		Payload: payload,
	})
}

func textOf(message map[string]any) string {
	if v, ok := message["text"].(string); ok {
		return v
	}
	return ""
}

func (s *Service) handleGetUnreadMessagesCount(ctx context.Context, client *directory.Client, raw []byte) error {
	var req wire.GetUnreadMessagesCountRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return cerrors.NewInvalidMessageFormat()
	}
	if len(req.ChatRoomIDs) > 10 {
		return cerrors.NewChatRoomIdentifiersListLength()
	}

	payload := make([]wire.UnreadMessagesCount, 0, len(req.ChatRoomIDs))
	for _, chatRoomID := range req.ChatRoomIDs {
		if _, err := chatroom.Validate(ctx, s.repo, chatRoomID, client.AppUserID, wire.TypeGetUnreadMessagesCount); err != nil {
			return err
		}

		lastRead, err := s.repo.FetchLastMessageRead(ctx, chatRoomID, client.AppUserID)
		if err != nil {
			return err
		}
		var afterID int64
		if lastRead != nil {
			afterID = lastRead.MessageTimestampID
		}

		count, err := s.repo.CountMessagesAfter(ctx, chatRoomID, afterID, s.lastReadCap)
		if err != nil {
			return err
		}

		payload = append(payload, wire.UnreadMessagesCount{
			ChatRoomID:          chatRoomID,
			UnreadMessagesCount: count,
		})
	}

	return s.reply(ctx, client, wire.GetUnreadMessagesCountReply{
		Type:    wire.TypeGetUnreadMessagesCount,
		Payload: payload,
	})
}

func (s *Service) reply(ctx context.Context, client *directory.Client, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Conn.Write(ctx, websocket.MessageText, b)
}
