// Package inbound implements the edge server's InboundMessageService: the
// per-frame pipeline applied to every message a client sends.
package inbound

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/antispam"
	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/cache"
	"github.com/ashureev/chatfabric/internal/directory"
	cerrors "github.com/ashureev/chatfabric/internal/errors"
	"github.com/ashureev/chatfabric/internal/metrics"
	"github.com/ashureev/chatfabric/internal/store"
	"github.com/ashureev/chatfabric/internal/wire"
	"github.com/ashureev/chatfabric/internal/workerpool"
)

// RouterSender is the subset of routerpool.Pool the service needs: one
// round-robin send to the operational subset, plus a cheap check of
// whether that subset is non-empty.
type RouterSender interface {
	Send(ctx context.Context, v any) error
	HasOperational() bool
}

// Alerter is the subset of alert.Notifier the service needs: notify the
// admins of an exception, rate-limited by the implementation.
type Alerter interface {
	Notify(err error)
}

const defaultHistoryLimit = 20

// Service runs the per-connection anti-spam gate and dispatches decoded
// client frames.
type Service struct {
	repo        store.Repository
	cache       *cache.Service
	routers     RouterSender
	apps        *applications.Directory
	counters    *metrics.Counters
	alerter     Alerter
	pool        *workerpool.Pool
	maxHistory  int
	lastReadCap int
}

// New constructs a Service. maxHistory bounds GET_HISTORY's limit;
// lastReadCap bounds GET_UNREAD_MESSAGES_COUNT's per-room count. alerter
// and pool may both be nil; when set, every error written back to a
// client also fires an admin alert, offloaded to pool so a slow SMTP send
// never blocks the connection's read loop.
func New(repo store.Repository, c *cache.Service, routers RouterSender, apps *applications.Directory, counters *metrics.Counters, alerter Alerter, pool *workerpool.Pool, maxHistory, lastReadCap int) *Service {
	return &Service{repo: repo, cache: c, routers: routers, apps: apps, counters: counters, alerter: alerter, pool: pool, maxHistory: maxHistory, lastReadCap: lastReadCap}
}

// Serve runs client's read loop: anti-spam gate, then JSON dispatch by
// type, until the socket closes or the spam limit trips.
func (s *Service) Serve(ctx context.Context, client *directory.Client) {
	gate := antispam.NewGate(antispamWindow, antispamLimit)

	for {
		_, raw, err := client.Conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("client websocket closed", "app_user_id", client.AppUserID)
			} else {
				slog.Warn("client websocket read error", "error", err, "app_user_id", client.AppUserID)
			}
			return
		}

		if !gate.Allow() {
			s.writeError(ctx, client, cerrors.NewMessageSpam())
			return
		}

		if client.IsManager {
			s.handleManagerFrame(ctx, client, raw)
			continue
		}

		s.dispatch(ctx, client, raw)
	}
}

func (s *Service) dispatch(ctx context.Context, client *directory.Client, raw []byte) {
	if !s.routers.HasOperational() {
		s.writeError(ctx, client, cerrors.NewDnsConnections())
		return
	}

	msgType := decodeType(raw)

	var err error
	switch msgType {
	case wire.TypeRoutable:
		err = s.handleRoutable(ctx, client, raw)
	case wire.TypeGetHistory:
		err = s.handleGetHistory(ctx, client, raw)
	case wire.TypeSetLastMessageRead:
		err = s.handleSetLastMessageRead(ctx, client, raw)
	case wire.TypeGetLastMessagesRead:
		err = s.handleGetLastMessagesRead(ctx, client, raw)
	case wire.TypeGetLastChatRoomMessage:
		err = s.handleGetLastChatRoomMessage(ctx, client, raw)
	case wire.TypeGetUnreadMessagesCount:
		err = s.handleGetUnreadMessagesCount(ctx, client, raw)
	default:
		err = cerrors.NewInvalidMessageFormat()
	}

	if err != nil {
		s.writeError(ctx, client, err)
	}
}

func (s *Service) handleManagerFrame(ctx context.Context, client *directory.Client, raw []byte) {
	if decodeType(raw) != wire.TypeConnectedUsersInfo {
		s.writeError(ctx, client, cerrors.NewWrongMessageType())
		return
	}

	var req struct {
		ApplicationID string `json:"application_identifier"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	reply := wire.ConnectedUsersInfo{
		Type:                wire.TypeConnectedUsersInfo,
		ApplicationID:       req.ApplicationID,
		ConnectedUsersCount: int(s.apps.Count(req.ApplicationID)),
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_ = client.Conn.Write(ctx, websocket.MessageText, b)
}

func (s *Service) writeError(ctx context.Context, client *directory.Client, err error) {
	s.notifyAdmins(err)

	frame := toErrorFrame(err)
	b, marshalErr := json.Marshal(frame)
	if marshalErr != nil {
		return
	}
	_ = client.Conn.Write(ctx, websocket.MessageText, b)
}

func toErrorFrame(err error) wire.ErrorFrame {
	if ce, ok := err.(*cerrors.ChatError); ok {
		return wire.ErrorFrame{
			Type: wire.TypeError,
			Exception: wire.ErrorExcerpt{
				Message:   ce.Message,
				ErrorCode: ce.Code,
				Extra:     ce.Extra,
			},
		}
	}
	return wire.ErrorFrame{
		Type: wire.TypeError,
		Exception: wire.ErrorExcerpt{
			Message:   err.Error(),
			ErrorCode: 10000,
		},
	}
}

func (s *Service) notifyAdmins(err error) {
	if s.alerter == nil {
		return
	}
	if s.pool == nil {
		s.alerter.Notify(err)
		return
	}
	s.pool.Submit(func() { s.alerter.Notify(err) })
}

func decodeType(raw []byte) string {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Type
}
