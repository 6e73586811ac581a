// Package locator implements the central router's UserLocator: the
// mapping from app_user_id to the set of edge servers currently holding a
// local connection for that user. It is the router's sole source of truth
// for ROUTABLE fan-out.
package locator

import "sync"

// Locator is app_user_id -> set<edge_id>, guarded by a single mutex. Entries
// for an app_user_id are deleted entirely once its last edge reports
// REMOVE, never left behind as an empty set.
type Locator struct {
	mu   sync.Mutex
	byUser map[string]map[string]struct{}
}

// New returns an empty locator.
func New() *Locator {
	return &Locator{byUser: make(map[string]map[string]struct{})}
}

// Add records that edgeID holds a local connection for appUserID.
func (l *Locator) Add(appUserID, edgeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	edges, ok := l.byUser[appUserID]
	if !ok {
		edges = make(map[string]struct{})
		l.byUser[appUserID] = edges
	}
	edges[edgeID] = struct{}{}
}

// Remove drops edgeID's claim on appUserID. Per spec.md §9's source-bug
// fix, a REMOVE naming an edgeID that is not actually present in the set
// is a no-op rather than an unconditional delete: it must never remove a
// different edge's still-valid claim. The app_user_id's entry is deleted
// entirely once its edge set becomes empty, never left behind empty.
func (l *Locator) Remove(appUserID, edgeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	edges, ok := l.byUser[appUserID]
	if !ok {
		return
	}
	if _, present := edges[edgeID]; !present {
		return
	}
	delete(edges, edgeID)
	if len(edges) == 0 {
		delete(l.byUser, appUserID)
	}
}

// RemoveEdge drops every claim edgeID holds, used when an edge
// disconnects without sending a clean REMOVE for each of its users.
func (l *Locator) RemoveEdge(edgeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for appUserID, edges := range l.byUser {
		if _, ok := edges[edgeID]; !ok {
			continue
		}
		delete(edges, edgeID)
		if len(edges) == 0 {
			delete(l.byUser, appUserID)
		}
	}
}

// AddEdgeUsers records edgeID's claim on every id in appUserIDs, used when
// FULL_SYNC arrives on an edge (re)connection. It does not clear any
// existing mapping: an app_user_id may be claimed by several edges at
// once, and FULL_SYNC only ever adds to that set, never removes from it.
func (l *Locator) AddEdgeUsers(edgeID string, appUserIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, appUserID := range appUserIDs {
		edges, ok := l.byUser[appUserID]
		if !ok {
			edges = make(map[string]struct{})
			l.byUser[appUserID] = edges
		}
		edges[edgeID] = struct{}{}
	}
}

// Edges returns a snapshot of every edge_id currently holding a claim on
// appUserID. A nil/empty result means the user is globally offline.
func (l *Locator) Edges(appUserID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.byUser[appUserID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether appUserID has at least one claim.
func (l *Locator) IsOnline(appUserID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byUser[appUserID]) > 0
}
