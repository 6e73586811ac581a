package edgeregistry

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

const (
	headerRouterSecret  = "X-ROUTER-INTERNAL-SECRET"
	headerEdgeID        = "X-WEBSOCKET-SERVER-IDENTIFIER"
	headerSystemChannel = "X-IS-SYSTEM-MESSAGE-SOCKET"
)

// FrameHandler processes one decoded frame from edgeID. system reports
// whether the connection was opened as a system-message channel.
type FrameHandler func(ctx context.Context, edgeID string, system bool, raw []byte)

// OnConnect/OnDisconnect notify the rest of the router of edge lifecycle
// events (ModeController registration, UserLocator sweep).
type OnConnect func(edgeID string, system bool)
type OnDisconnect func(edgeID string, system bool)

// Gateway is the CR-side http.Handler that accepts edge websocket
// connections.
type Gateway struct {
	secret       string
	registry     *Registry
	onFrame      FrameHandler
	onConnect    OnConnect
	onDisconnect OnDisconnect
}

// NewGateway constructs a Gateway validating against secret.
func NewGateway(secret string, registry *Registry, onFrame FrameHandler, onConnect OnConnect, onDisconnect OnDisconnect) *Gateway {
	return &Gateway{
		secret:       secret,
		registry:     registry,
		onFrame:      onFrame,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
	}
}

// ServeHTTP validates the shared secret and edge identifier, accepts the
// upgrade, and runs the read loop until the socket closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	given := r.Header.Get(headerRouterSecret)
	if subtle.ConstantTimeCompare([]byte(given), []byte(g.secret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	system := r.Header.Get(headerSystemChannel) == "true"
	edgeID := r.Header.Get(headerEdgeID)
	if edgeID == "" && !system {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept edge websocket", "error", err, "edge_id", edgeID)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "router shutting down connection")
	}()

	edge := g.registry.Add(edgeID, conn)
	defer g.registry.Remove(edgeID, edge)

	if g.onConnect != nil {
		g.onConnect(edgeID, system)
	}
	defer func() {
		if g.onDisconnect != nil {
			g.onDisconnect(edgeID, system)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.readLoop(ctx, conn, edgeID, system)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, edgeID string, system bool) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("edge websocket closed", "edge_id", edgeID)
			} else {
				slog.Warn("edge websocket read error", "error", err, "edge_id", edgeID)
			}
			return
		}
		if g.onFrame != nil {
			g.onFrame(ctx, edgeID, system, data)
		}
	}
}

// DecodeType extracts the "type" field from a raw frame without fully
// unmarshaling its payload, used to dispatch before picking the concrete
// struct to decode into.
func DecodeType(raw []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Type
}
