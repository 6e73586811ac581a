// Package push implements delivery of offline notifications to device
// push tokens, grouped per application and keyed by that application's
// firebase server key.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/cache"
	"github.com/ashureev/chatfabric/internal/offlinequeue"
	"github.com/ashureev/chatfabric/internal/workerpool"
)

const fcmSendURL = "https://fcm.googleapis.com/fcm/send"

// Sender abstracts the actual push-gateway call, overridable in tests.
type Sender func(ctx context.Context, serverKey, deviceToken string, notification offlinequeue.Notification) error

// Gateway resolves device tokens and application credentials and offloads
// the blocking send to a worker pool.
type Gateway struct {
	cache *cache.Service
	apps  *applications.Directory
	pool  *workerpool.Pool
	send  Sender
}

// New constructs a Gateway using the given caches/pool. If send is nil, a
// default HTTP sender is used.
func New(c *cache.Service, apps *applications.Directory, pool *workerpool.Pool, send Sender) *Gateway {
	if send == nil {
		send = httpSend
	}
	return &Gateway{cache: c, apps: apps, pool: pool, send: send}
}

// Deliver resolves n's recipient's device tokens, grouped by each
// token's own application, and submits one push send per token to the
// worker pool. A group whose application has no push credentials
// configured is silently dropped, per spec.
func (g *Gateway) Deliver(ctx context.Context, n offlinequeue.Notification) {
	tokens, err := g.cache.DeviceTokens(ctx, n.AppUserID)
	if err != nil {
		slog.Warn("failed to fetch device tokens", "error", err, "app_user_id", n.AppUserID)
		return
	}

	for _, t := range tokens {
		settings, ok := g.apps.Get(t.ApplicationID)
		if !ok || settings.FirebaseServerKey == "" {
			slog.Debug("dropping offline notification, no push credentials", "application_id", t.ApplicationID, "app_user_id", n.AppUserID)
			continue
		}

		token := t.Token
		serverKey := settings.FirebaseServerKey
		g.pool.Submit(func() {
			if err := g.send(ctx, serverKey, token, n); err != nil {
				slog.Warn("push send failed", "error", err, "app_user_id", n.AppUserID)
			}
		})
	}
}

type fcmPayload struct {
	To   string         `json:"to"`
	Data map[string]any `json:"data"`
}

func httpSend(ctx context.Context, serverKey, deviceToken string, n offlinequeue.Notification) error {
	body, err := json.Marshal(fcmPayload{
		To: deviceToken,
		Data: map[string]any{
			"chat_room_identifier": n.ChatRoomID,
			"app_user_identifier":  n.AppUserID,
			"message":              n.Message,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fcmSendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "key="+serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
