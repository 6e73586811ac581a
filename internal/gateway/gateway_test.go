package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/domain"
	"github.com/ashureev/chatfabric/internal/store"
)

type fakeRepo struct {
	store.Repository
	session *domain.Session
}

func (f *fakeRepo) FetchSession(ctx context.Context, token string) (*domain.Session, error) {
	return f.session, nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []any
}

func (b *fakeBroadcaster) BroadcastAll(ctx context.Context, v any) {
	b.mu.Lock()
	b.messages = append(b.messages, v)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func TestServeHTTPRejectsMissingToken(t *testing.T) {
	gw := New(&fakeRepo{}, applications.NewDirectory(), directory.New(), &fakeBroadcaster{}, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for missing token", w.Code)
	}
}

func TestServeHTTPRejectsMalformedToken(t *testing.T) {
	gw := New(&fakeRepo{}, applications.NewDirectory(), directory.New(), &fakeBroadcaster{}, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/socket?token=no-colon-here", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a token missing the application suffix", w.Code)
	}
}

func TestServeHTTPRejectsUnknownSession(t *testing.T) {
	gw := New(&fakeRepo{session: nil}, applications.NewDirectory(), directory.New(), &fakeBroadcaster{}, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/socket?token=abc:app-1", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for unknown session", w.Code)
	}
}

func TestServeHTTPRejectsInactiveApplication(t *testing.T) {
	repo := &fakeRepo{session: &domain.Session{AppUserID: "user-1", DeviceID: "device-1"}}
	apps := applications.NewDirectory()
	gw := New(repo, apps, directory.New(), &fakeBroadcaster{}, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/socket?token=abc:app-1", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an application with no settings registered", w.Code)
	}
}

func TestServeHTTPAcceptsClientAndBroadcastsFirstDevice(t *testing.T) {
	repo := &fakeRepo{session: &domain.Session{AppUserID: "user-1", DeviceID: "device-1"}}
	apps := applications.NewDirectory()
	apps.Replace(map[string]domain.ApplicationSettings{
		"app-1": {ApplicationID: "app-1", IsChatActive: true, MaxConcurrentOnlineUsers: 10},
	})
	dir := directory.New()
	broadcaster := &fakeBroadcaster{}

	connected := make(chan struct{})
	release := make(chan struct{})
	gw := New(repo, apps, dir, broadcaster, "", func(ctx context.Context, client *directory.Client) {
		close(connected)
		<-release
	})

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/socket?token=abc:app-1"
	conn, _, err := websocket.Dial(t.Context(), wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	<-connected

	if !dir.Has("user-1") {
		t.Fatal("expected user-1 registered in the directory")
	}
	if broadcaster.count() != 1 {
		t.Fatalf("broadcast count = %d, want 1 for first device", broadcaster.count())
	}

	close(release)
}

func TestServeHTTPAppliesCapacityToManagerConnections(t *testing.T) {
	repo := &fakeRepo{session: &domain.Session{AppUserID: "user-1", DeviceID: "device-1"}}
	apps := applications.NewDirectory()
	apps.Replace(map[string]domain.ApplicationSettings{
		"app-1": {ApplicationID: "app-1", IsChatActive: true, MaxConcurrentOnlineUsers: 1},
	})
	// Fill the single available slot before the manager ever connects.
	if !apps.TryAccept("app-1", 1) {
		t.Fatal("setup: failed to reserve the only capacity slot")
	}

	gw := New(repo, apps, directory.New(), &fakeBroadcaster{}, "manager-secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/socket?token=abc:app-1", nil)
	req.Header.Set("X-MANAGER-SECRET", "manager-secret")
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: a manager connection must still consume online-user capacity", w.Code)
	}
}
