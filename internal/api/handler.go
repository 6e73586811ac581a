// Package api provides shared HTTP response helpers and the thin
// health-check handlers exposed by both tiers' admin surfaces.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/chatfabric/internal/store"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HealthHandler reports process liveness and, if repo is reachable,
// readiness.
type HealthHandler struct {
	repo    store.Repository
	version string
}

// NewHealthHandler constructs a HealthHandler. repo may be nil for
// liveness-only checks.
func NewHealthHandler(repo store.Repository, version string) *HealthHandler {
	return &HealthHandler{repo: repo, version: version}
}

// Live always reports ok; it does not check dependencies.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// Ready checks the backing store and reports 503 if it is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		JSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
