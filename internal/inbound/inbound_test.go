package inbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/cache"
	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/domain"
	"github.com/ashureev/chatfabric/internal/metrics"
	"github.com/ashureev/chatfabric/internal/store"
	"github.com/ashureev/chatfabric/internal/wire"
)

type fakeRepo struct {
	store.Repository

	room       *domain.ChatRoom
	nextID     int64
	lastRead   map[string]int64
	createErr  error
	created    []createCall
}

type createCall struct {
	chatRoomID string
	appUserID  string
	message    map[string]any
}

func (f *fakeRepo) FetchChatRoom(ctx context.Context, chatRoomID string) (*domain.ChatRoom, error) {
	if f.room == nil || f.room.ChatRoomID != chatRoomID {
		return nil, nil
	}
	return f.room, nil
}

func (f *fakeRepo) CreateChatMessage(ctx context.Context, chatRoomID, appUserID string, message map[string]any) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	f.created = append(f.created, createCall{chatRoomID, appUserID, message})
	return f.nextID, nil
}

func (f *fakeRepo) UpsertLastMessageRead(ctx context.Context, chatRoomID, appUserID string, messageTimestampID int64) error {
	if f.lastRead == nil {
		f.lastRead = make(map[string]int64)
	}
	f.lastRead[chatRoomID+"|"+appUserID] = messageTimestampID
	return nil
}

func (f *fakeRepo) FetchCustomData(ctx context.Context, appUserID string) (domain.CustomData, error) {
	return nil, nil
}

type fakeRouterSender struct {
	mu         sync.Mutex
	sent       []any
	noOperational bool
}

func (f *fakeRouterSender) Send(ctx context.Context, v any) error {
	f.mu.Lock()
	f.sent = append(f.sent, v)
	f.mu.Unlock()
	return nil
}

func (f *fakeRouterSender) HasOperational() bool {
	return !f.noOperational
}

func (f *fakeRouterSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func dialedClient(t *testing.T, appUserID string) (*directory.Client, chan []byte, func()) {
	t.Helper()
	received := make(chan []byte, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			received <- data
		}
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(t.Context(), wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	client := &directory.Client{AppUserID: appUserID, DeviceID: "device-1", ApplicationID: "app-1", Conn: conn}
	cleanup := func() {
		conn.Close(websocket.StatusNormalClosure, "test done")
		srv.Close()
	}
	return client, received, cleanup
}

func TestHandleRoutablePersistsAndFansOut(t *testing.T) {
	repo := &fakeRepo{room: &domain.ChatRoom{ChatRoomID: "room-1", Type: domain.ChatRoomRegular, AppUsers: []string{"user-1", "user-2"}}}
	c := cache.NewService(repo)
	defer c.Stop()
	routers := &fakeRouterSender{}
	counters := metrics.New(prometheus.NewRegistry())

	svc := New(repo, c, routers, applications.NewDirectory(), counters, nil, nil, defaultHistoryLimit, 100)

	client, _, cleanup := dialedClient(t, "user-1")
	defer cleanup()

	err := svc.handleRoutable(context.Background(), client, []byte(`{
		"type": "ROUTABLE",
		"chat_room_identifier": "room-1",
		"message": {"text": "hello"}
	}`))
	if err != nil {
		t.Fatalf("handleRoutable() error = %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("created %d messages, want 1", len(repo.created))
	}
	if routers.count() != 2 {
		t.Fatalf("routers.Send called %d times, want 2 (ROUTABLE + SET_LAST_MESSAGE_READ)", routers.count())
	}
}

func TestHandleRoutableRejectsUnknownRoom(t *testing.T) {
	repo := &fakeRepo{}
	c := cache.NewService(repo)
	defer c.Stop()
	routers := &fakeRouterSender{}
	counters := metrics.New(prometheus.NewRegistry())

	svc := New(repo, c, routers, applications.NewDirectory(), counters, nil, nil, defaultHistoryLimit, 100)
	client, _, cleanup := dialedClient(t, "user-1")
	defer cleanup()

	err := svc.handleRoutable(context.Background(), client, []byte(`{
		"type": "ROUTABLE",
		"chat_room_identifier": "missing-room",
		"message": {"text": "hello"}
	}`))
	if err == nil {
		t.Fatal("expected error for nonexistent chat room")
	}
}

func TestHandleGetUnreadMessagesCountRejectsTooManyRooms(t *testing.T) {
	repo := &fakeRepo{}
	c := cache.NewService(repo)
	defer c.Stop()
	routers := &fakeRouterSender{}
	counters := metrics.New(prometheus.NewRegistry())

	svc := New(repo, c, routers, applications.NewDirectory(), counters, nil, nil, defaultHistoryLimit, 100)
	client, _, cleanup := dialedClient(t, "user-1")
	defer cleanup()

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = "room"
	}
	body, _ := json.Marshal(struct {
		ChatRoomIDs []string `json:"chat_room_identifiers"`
	}{ids})

	err := svc.handleGetUnreadMessagesCount(context.Background(), client, body)
	if err == nil {
		t.Fatal("expected error for more than 10 chat room identifiers")
	}
}

func TestDispatchRejectsWhenNoOperationalRouter(t *testing.T) {
	repo := &fakeRepo{}
	c := cache.NewService(repo)
	defer c.Stop()
	routers := &fakeRouterSender{noOperational: true}
	counters := metrics.New(prometheus.NewRegistry())

	svc := New(repo, c, routers, applications.NewDirectory(), counters, nil, nil, defaultHistoryLimit, 100)
	client, received, cleanup := dialedClient(t, "user-1")
	defer cleanup()

	// GET_HISTORY never calls routers.Send, so without the hoisted check
	// it would proceed even with zero operational routers.
	svc.dispatch(context.Background(), client, []byte(`{"type":"GET_HISTORY","chat_room_identifier":"room-1"}`))

	select {
	case data := <-received:
		var frame wire.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("failed to decode error frame: %v", err)
		}
		if frame.Exception.ErrorCode != 10006 {
			t.Errorf("error code = %d, want 10006 (DnsConnectionsException)", frame.Exception.ErrorCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error frame when no operational router is available")
	}
}

func TestHandleManagerFrameRejectsUnknownType(t *testing.T) {
	repo := &fakeRepo{}
	c := cache.NewService(repo)
	defer c.Stop()
	routers := &fakeRouterSender{}
	counters := metrics.New(prometheus.NewRegistry())

	svc := New(repo, c, routers, applications.NewDirectory(), counters, nil, nil, defaultHistoryLimit, 100)
	client, received, cleanup := dialedClient(t, "manager-1")
	client.IsManager = true
	defer cleanup()

	svc.handleManagerFrame(context.Background(), client, []byte(`{"type":"NOT_A_REAL_TYPE"}`))

	select {
	case data := <-received:
		var frame wire.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("failed to decode error frame: %v", err)
		}
		if frame.Exception.ErrorCode != 10002 {
			t.Errorf("error code = %d, want 10002 (WrongMessageType)", frame.Exception.ErrorCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error frame for an unrecognized manager frame type")
	}
}

func TestDispatchWritesErrorFrameOnUnknownType(t *testing.T) {
	repo := &fakeRepo{}
	c := cache.NewService(repo)
	defer c.Stop()
	routers := &fakeRouterSender{}
	counters := metrics.New(prometheus.NewRegistry())

	svc := New(repo, c, routers, applications.NewDirectory(), counters, nil, nil, defaultHistoryLimit, 100)
	client, received, cleanup := dialedClient(t, "user-1")
	defer cleanup()

	svc.dispatch(context.Background(), client, []byte(`{"type":"NOT_A_REAL_TYPE"}`))

	select {
	case data := <-received:
		var frame wire.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("failed to decode error frame: %v", err)
		}
		if frame.Type != wire.TypeError {
			t.Errorf("frame.Type = %q, want ERROR", frame.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error frame written back to the client")
	}
}
