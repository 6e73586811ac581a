package routerpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/directory"
	cerrors "github.com/ashureev/chatfabric/internal/errors"
	"github.com/ashureev/chatfabric/internal/wire"
)

func TestSendWithNoOperationalRoutersFails(t *testing.T) {
	p := New(nil, directory.New(), "edge-1", "secret", time.Minute, nil)

	err := p.Send(context.Background(), wire.Routable{Type: wire.TypeRoutable})
	if err == nil {
		t.Fatal("expected error with no operational routers")
	}
	if _, ok := err.(*cerrors.ChatError); !ok {
		t.Fatalf("error type = %T, want *cerrors.ChatError", err)
	}
}

func TestBroadcastAllNoopWithNoRouters(t *testing.T) {
	p := New(nil, directory.New(), "edge-1", "secret", time.Minute, nil)
	p.BroadcastAll(context.Background(), wire.AddAppUserWebsocket{Type: wire.TypeAddAppUserWebsocket})
}

func TestIsServerModeOperational(t *testing.T) {
	yes := []byte(`{"type":"SERVER_MODE","message":"OPERATIONAL"}`)
	if !isServerModeOperational(yes) {
		t.Error("expected true for a SERVER_MODE OPERATIONAL frame")
	}

	no := []byte(`{"type":"SERVER_MODE","message":"INITIALIZATION"}`)
	if isServerModeOperational(no) {
		t.Error("expected false for non-OPERATIONAL mode message")
	}

	if isServerModeOperational([]byte(`not json`)) {
		t.Error("expected false for invalid JSON")
	}
}

// routerEndpoint spins up a fake router-side websocket server and returns
// a *router dialed into it plus a channel fed one value per frame it
// reads, so a test can tell which router id actually received a Send.
func routerEndpoint(t *testing.T, id string) (*router, chan struct{}, func()) {
	t.Helper()
	hits := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
			hits <- struct{}{}
		}
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(t.Context(), wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	r := &router{id: id, conn: conn}
	r.operational.Store(true)

	cleanup := func() {
		conn.Close(websocket.StatusNormalClosure, "test done")
		srv.Close()
	}
	return r, hits, cleanup
}

// TestSendRoundRobinVisitsEveryRouterOnAStablePool asserts invariant 6: for
// a fixed operational pool of size N, N consecutive Send calls deliver
// exactly one frame to every member, regardless of map iteration order.
func TestSendRoundRobinVisitsEveryRouterOnAStablePool(t *testing.T) {
	p := New(nil, directory.New(), "edge-1", "secret", time.Minute, nil)

	ids := []string{"router-c", "router-a", "router-b"}
	hits := make(map[string]chan struct{}, len(ids))
	for _, id := range ids {
		r, h, cleanup := routerEndpoint(t, id)
		defer cleanup()
		hits[id] = h

		p.mu.Lock()
		p.routers[id] = r
		p.mu.Unlock()
	}

	for round := 0; round < 3; round++ {
		for range ids {
			if err := p.Send(context.Background(), wire.Routable{Type: wire.TypeRoutable}); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
		}

		for _, id := range ids {
			select {
			case <-hits[id]:
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: router %q never received a Send", round, id)
			}
			select {
			case <-hits[id]:
				t.Fatalf("round %d: router %q received more than one Send", round, id)
			default:
			}
		}
	}
}

func TestConnectSendsFullSyncAndBecomesOperational(t *testing.T) {
	dir := directory.New()

	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		received <- data

		frame, _ := json.Marshal(wire.ServerMode{Type: wire.TypeServerMode, Message: wire.ServerModeOperational})
		_ = conn.Write(r.Context(), websocket.MessageText, frame)

		conn.Read(r.Context())
	}))
	defer srv.Close()

	p := New(nil, dir, "edge-1", "secret", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := srv.URL[len("http://"):]
	go p.connect(ctx, "router-1", host)

	select {
	case data := <-received:
		var frame wire.FullSync
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("failed to decode FULL_SYNC: %v", err)
		}
		if frame.Type != wire.TypeFullSync {
			t.Errorf("frame.Type = %q, want FULL_SYNC", frame.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("router never received FULL_SYNC")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		r, ok := p.routers["router-1"]
		p.mu.Unlock()
		if ok && r.operational.Load() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("router never marked operational after SERVER_MODE frame")
}
