// Package routermsg implements the edge server's handling of frames
// received from a central router: local fan-out to client devices and
// offline-notification enqueueing.
package routermsg

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/offlinequeue"
	"github.com/ashureev/chatfabric/internal/wire"
)

// Service fans CR-originated frames out to locally attached client
// devices and feeds the offline queue.
type Service struct {
	dir   *directory.Directory
	queue *offlinequeue.Queue
}

// New constructs a Service.
func New(dir *directory.Directory, queue *offlinequeue.Queue) *Service {
	return &Service{dir: dir, queue: queue}
}

// recipientFrame is the shape shared by ROUTABLE, SYSTEM_ROUTABLE and
// SET_LAST_MESSAGE_READ as received from the router: each carries
// application_user_identifiers naming who should receive the remainder of
// the frame verbatim.
type recipientFrame struct {
	Type               string   `json:"type"`
	ApplicationUserIDs []string `json:"application_user_identifiers"`
}

// HandleFrame is the routerpool FrameHandler entry point.
func (s *Service) HandleFrame(ctx context.Context, routerID string, raw []byte) {
	var env recipientFrame
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Type {
	case wire.TypeRoutable, wire.TypeSystemRoutable, wire.TypeSetLastMessageRead:
		s.fanOutLocal(ctx, env.ApplicationUserIDs, raw)
	case wire.TypeOfflineNotification:
		s.handleOfflineNotification(raw)
	}
}

// fanOutLocal delivers raw to every local device belonging to any id in
// recipients, after popping application_user_identifiers from the frame:
// that field is routing metadata for the router hop, not part of the
// client-facing message.
func (s *Service) fanOutLocal(ctx context.Context, recipients []string, raw []byte) {
	payload := stripRecipients(raw)
	for _, appUserID := range recipients {
		for _, c := range s.dir.Devices(appUserID) {
			if err := c.Conn.Write(ctx, websocket.MessageText, payload); err != nil {
				slog.Debug("failed to deliver to local device", "app_user_id", appUserID, "device_id", c.DeviceID, "error", err)
			}
		}
	}
}

// stripRecipients removes application_user_identifiers and re-serializes.
// If raw does not decode as a JSON object, it is passed through unchanged.
func stripRecipients(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	delete(obj, "application_user_identifiers")
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

func (s *Service) handleOfflineNotification(raw []byte) {
	var n wire.OfflineNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return
	}

	for _, appUserID := range n.ApplicationUserIDs {
		if appUserID == n.AppUserID {
			continue
		}
		s.queue.Enqueue(offlinequeue.Notification{
			AppUserID:  appUserID,
			ChatRoomID: n.ChatRoomID,
			Message:    n.Message,
		})
	}
}
