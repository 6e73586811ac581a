// Package edgeregistry implements the central router's half of the
// CR<->ES link: accepting edge websocket connections, tracking them, and
// writing frames back out.
package edgeregistry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/coder/websocket"
)

// ErrEdgeNotConnected is returned by Send when edgeID has no live socket.
var ErrEdgeNotConnected = errors.New("edgeregistry: edge not connected")

// Edge is one connected edge server.
type Edge struct {
	ID     string
	Conn   *websocket.Conn
	mu     sync.Mutex // serializes writes; coder/websocket forbids concurrent writers
}

func (e *Edge) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Conn.Write(ctx, websocket.MessageText, b)
}

// Registry is the set of currently connected edges, keyed by edge_id.
type Registry struct {
	mu    sync.RWMutex
	edges map[string]*Edge
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{edges: make(map[string]*Edge)}
}

// Add installs edgeID's connection, closing and replacing any previous
// connection for the same id (an edge process restarted without a clean
// disconnect reaching the router first).
func (r *Registry) Add(edgeID string, conn *websocket.Conn) *Edge {
	e := &Edge{ID: edgeID, Conn: conn}

	r.mu.Lock()
	if existing, ok := r.edges[edgeID]; ok {
		_ = existing.Conn.Close(websocket.StatusNormalClosure, "replaced by new connection")
	}
	r.edges[edgeID] = e
	r.mu.Unlock()

	return e
}

// Remove drops edgeID from the registry. It is a no-op if cur no longer
// matches the registered edge (already replaced by a newer connection).
func (r *Registry) Remove(edgeID string, cur *Edge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.edges[edgeID] == cur {
		delete(r.edges, edgeID)
	}
}

// Get returns edgeID's connection, if any.
func (r *Registry) Get(edgeID string) (*Edge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.edges[edgeID]
	return e, ok
}

// Send marshals v and writes it to edgeID's socket.
func (r *Registry) Send(ctx context.Context, edgeID string, v any) error {
	e, ok := r.Get(edgeID)
	if !ok {
		return ErrEdgeNotConnected
	}
	return e.send(ctx, v)
}

// Broadcast writes v to every currently connected edge, skipping any that
// fail rather than aborting the whole broadcast.
func (r *Registry) Broadcast(ctx context.Context, v any) {
	r.mu.RLock()
	edges := make([]*Edge, 0, len(r.edges))
	for _, e := range r.edges {
		edges = append(edges, e)
	}
	r.mu.RUnlock()

	for _, e := range edges {
		_ = e.send(ctx, v)
	}
}

// Count returns the number of currently connected edges.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges)
}

// IDs returns a snapshot of every connected edge_id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.edges))
	for id := range r.edges {
		out = append(out, id)
	}
	return out
}
