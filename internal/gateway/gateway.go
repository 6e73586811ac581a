// Package gateway implements the edge server's ClientGateway: websocket
// upgrade validation, session resolution, and UserDirectory registration
// for client connections.
package gateway

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/store"
	"github.com/ashureev/chatfabric/internal/wire"
)

// RouterBroadcaster is the subset of RouterPool the gateway needs: telling
// every connected router about a user's first/last local device.
type RouterBroadcaster interface {
	BroadcastAll(ctx context.Context, v any)
}

// ConnectionHandler runs a client's read loop once accepted. It blocks
// until the connection closes; ServeHTTP tears down directory state and
// closes the socket when it returns.
type ConnectionHandler func(ctx context.Context, client *directory.Client)

// Gateway is the ES-side http.Handler for client websocket upgrades.
type Gateway struct {
	repo          store.Repository
	apps          *applications.Directory
	dir           *directory.Directory
	routers       RouterBroadcaster
	managerSecret string
	onConnect     ConnectionHandler
}

// New constructs a Gateway.
func New(repo store.Repository, apps *applications.Directory, dir *directory.Directory, routers RouterBroadcaster, managerSecret string, onConnect ConnectionHandler) *Gateway {
	return &Gateway{
		repo:          repo,
		apps:          apps,
		dir:           dir,
		routers:       routers,
		managerSecret: managerSecret,
		onConnect:     onConnect,
	}
}

// ServeHTTP implements the upgrade acceptance chain described for
// ClientGateway: path, token, session, capacity, manager detection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.URL.Path, "/socket") {
		http.NotFound(w, r)
		return
	}

	token := r.Header.Get("X-TOKEN")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.NotFound(w, r)
		return
	}
	if !strings.Contains(token, ":") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ctx := r.Context()
	session, err := g.repo.FetchSession(ctx, token)
	if err != nil {
		slog.Error("session lookup failed", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if session == nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	applicationID := token[strings.LastIndex(token, ":")+1:]

	isManager := subtle.ConstantTimeCompare([]byte(r.Header.Get("X-MANAGER-SECRET")), []byte(g.managerSecret)) == 1 && g.managerSecret != ""

	appSettings, ok := g.apps.Get(applicationID)
	if !ok || !appSettings.IsChatActive {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !g.apps.TryAccept(applicationID, appSettings.MaxConcurrentOnlineUsers) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Error("failed to accept client websocket", "error", err)
		g.apps.Release(applicationID)
		return
	}

	client := &directory.Client{
		AppUserID:     session.AppUserID,
		DeviceID:      session.DeviceID,
		ApplicationID: applicationID,
		IsManager:     isManager,
		Conn:          conn,
	}

	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "connection ended")
		if !isManager {
			g.disconnect(ctx, client)
		}
		g.apps.Release(applicationID)
	}()

	if !isManager {
		if g.dir.Add(client) {
			g.routers.BroadcastAll(ctx, wire.AddAppUserWebsocket{
				Type:              wire.TypeAddAppUserWebsocket,
				ApplicationUserID: client.AppUserID,
			})
		}
	}

	if g.onConnect != nil {
		g.onConnect(ctx, client)
	}
}

func (g *Gateway) disconnect(ctx context.Context, client *directory.Client) {
	if g.dir.Remove(client.AppUserID, client.DeviceID) {
		g.routers.BroadcastAll(ctx, wire.RemoveAppUserWebsocket{
			Type:              wire.TypeRemoveAppUserWebsocket,
			ApplicationUserID: client.AppUserID,
		})
	}
}
