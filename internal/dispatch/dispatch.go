// Package dispatch implements the central router's message routing: what
// happens to a frame once it has arrived from an edge, keyed on its type.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ashureev/chatfabric/internal/edgeregistry"
	cerrors "github.com/ashureev/chatfabric/internal/errors"
	"github.com/ashureev/chatfabric/internal/locator"
	"github.com/ashureev/chatfabric/internal/mode"
	"github.com/ashureev/chatfabric/internal/wire"
	"github.com/ashureev/chatfabric/internal/workerpool"
)

// Alerter is the subset of alert.Notifier the router needs: notify the
// admins of an exception, rate-limited by the implementation.
type Alerter interface {
	Notify(err error)
}

// Router owns the UserLocator, the edge Registry, and the ModeController
// and fans ROUTABLE-family frames out to every edge holding a recipient.
type Router struct {
	locator  *locator.Locator
	registry *edgeregistry.Registry
	mode     *mode.Controller
	alerter  Alerter
	pool     *workerpool.Pool
}

// New constructs a Router over the given locator, registry and mode
// controller.
func New(loc *locator.Locator, reg *edgeregistry.Registry, mc *mode.Controller) *Router {
	return &Router{locator: loc, registry: reg, mode: mc}
}

// WithAlerting attaches an admin Alerter and the shared worker pool to
// offload its sends to. Both may be nil, which disables alerting.
func (rt *Router) WithAlerting(alerter Alerter, pool *workerpool.Pool) *Router {
	rt.alerter = alerter
	rt.pool = pool
	return rt
}

func (rt *Router) notifyAdmins(err error) {
	if rt.alerter == nil {
		return
	}
	if rt.pool == nil {
		rt.alerter.Notify(err)
		return
	}
	rt.pool.Submit(func() { rt.alerter.Notify(err) })
}

// HandleFrame is the Gateway FrameHandler: it decodes raw by type tag and
// dispatches to the matching handler. System channels only ever carry
// SYSTEM_ROUTABLE frames.
func (rt *Router) HandleFrame(ctx context.Context, edgeID string, system bool, raw []byte) {
	switch edgeregistry.DecodeType(raw) {
	case wire.TypeAddAppUserWebsocket:
		rt.handleAdd(edgeID, raw)
	case wire.TypeRemoveAppUserWebsocket:
		rt.handleRemove(edgeID, raw)
	case wire.TypeFullSync:
		rt.handleFullSync(edgeID, raw)
	case wire.TypeRoutable:
		rt.handleRoutable(ctx, edgeID, raw)
	case wire.TypeSystemRoutable:
		rt.handleSystemRoutable(ctx, raw)
	case wire.TypeSetLastMessageRead:
		rt.handleSetLastMessageRead(ctx, raw)
	default:
		slog.Warn("unrecognized frame from edge", "edge_id", edgeID)
	}
}

func (rt *Router) handleAdd(edgeID string, raw []byte) {
	var m wire.AddAppUserWebsocket
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	rt.locator.Add(m.ApplicationUserID, edgeID)
}

func (rt *Router) handleRemove(edgeID string, raw []byte) {
	var m wire.RemoveAppUserWebsocket
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	rt.locator.Remove(m.ApplicationUserID, edgeID)
}

func (rt *Router) handleFullSync(edgeID string, raw []byte) {
	var m wire.FullSync
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	rt.locator.AddEdgeUsers(edgeID, m.ApplicationUserIDs)
}

// handleRoutable fans a ROUTABLE frame out to every edge currently
// claiming one of its recipients. Recipients absent from the locator are
// collected into one OFFLINE_NOTIFICATION sent back to the sender edge.
// The list is not filtered here; the receiving edge skips the sender's
// own id when it enqueues the notifications.
func (rt *Router) handleRoutable(ctx context.Context, senderEdgeID string, raw []byte) {
	var m wire.Routable
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}

	offline := rt.fanOut(ctx, m.ApplicationUserIDs, m.AppUserID, m.ChatRoomID, m.Message, m)
	if len(offline) == 0 {
		return
	}

	notice := wire.OfflineNotification{
		Type:               wire.TypeOfflineNotification,
		ApplicationUserIDs: offline,
		ChatRoomID:         m.ChatRoomID,
		AppUserID:          m.AppUserID,
		Message:            m.Message,
	}
	if err := rt.registry.Send(ctx, senderEdgeID, notice); err != nil {
		slog.Warn("failed to send offline notification to sender edge", "edge_id", senderEdgeID, "error", err)
		rt.notifyAdmins(cerrors.NewChatServerException("dispatch.Router.handleRoutable", err))
	}
}

func (rt *Router) handleSystemRoutable(ctx context.Context, raw []byte) {
	var m wire.SystemRoutable
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	// SYSTEM_ROUTABLE never produces an offline notification, so the
	// offline subset is discarded.
	_ = rt.fanOut(ctx, m.ApplicationUserIDs, "", m.ChatRoomID, m.Message, m)
}

func (rt *Router) handleSetLastMessageRead(ctx context.Context, raw []byte) {
	var m wire.SetLastMessageRead
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	for _, appUserID := range m.ApplicationUserIDs {
		for _, edgeID := range rt.locator.Edges(appUserID) {
			_ = rt.registry.Send(ctx, edgeID, m)
		}
	}
}

// fanOut sends payload once to each distinct edge claiming any of
// recipients and returns the recipients that no edge claims. A failed
// send to one edge is logged and reported to the admins, and delivery to
// the other edges continues. senderID, chatRoomID and message are not
// used here; handleRoutable builds the OFFLINE_NOTIFICATION itself from
// the returned list.
func (rt *Router) fanOut(ctx context.Context, recipients []string, senderID, chatRoomID string, message map[string]any, payload any) []string {
	var offline []string
	sentTo := map[string]bool{}

	for _, appUserID := range recipients {
		edges := rt.locator.Edges(appUserID)
		if len(edges) == 0 {
			offline = append(offline, appUserID)
			continue
		}
		for _, edgeID := range edges {
			if sentTo[edgeID] {
				continue
			}
			if err := rt.registry.Send(ctx, edgeID, payload); err != nil {
				slog.Warn("failed to deliver to edge", "edge_id", edgeID, "error", err)
				rt.notifyAdmins(cerrors.NewChatServerException("dispatch.Router.fanOut", err))
				continue
			}
			sentTo[edgeID] = true
		}
	}
	return offline
}

// OfflineRecipients reports which of recipients currently have no claim
// in the locator, used by callers that need the offline set without
// performing the fan-out themselves.
func (rt *Router) OfflineRecipients(recipients []string) []string {
	var offline []string
	for _, appUserID := range recipients {
		if !rt.locator.IsOnline(appUserID) {
			offline = append(offline, appUserID)
		}
	}
	return offline
}

// DisconnectEdge sweeps edgeID out of the locator and the mode controller,
// called from the Gateway's OnDisconnect hook.
func (rt *Router) DisconnectEdge(edgeID string, system bool) {
	rt.locator.RemoveEdge(edgeID)
	if !system {
		rt.mode.UnregisterEdge(edgeID)
	}
}

// ConnectEdge registers edgeID with the mode controller as soon as the
// connection is accepted, before any frame is read; actual UserLocator
// population happens once FULL_SYNC arrives. RegisterEdge advertises the
// current mode to edgeID itself once registered.
func (rt *Router) ConnectEdge(edgeID string, system bool) {
	if system {
		return
	}
	rt.mode.RegisterEdge(edgeID)
}
