package routermsg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/offlinequeue"
)

func TestHandleOfflineNotificationExcludesSender(t *testing.T) {
	svc := New(directory.New(), offlinequeue.New())

	svc.HandleFrame(context.Background(), "router-1", []byte(`{
		"type": "OFFLINE_NOTIFICATION",
		"application_user_identifiers": ["user-1", "user-2"],
		"chat_room_identifier": "room-1",
		"application_user_identifier": "user-1",
		"message": {"text": "hi"}
	}`))

	pending := svc.queue.Flush()
	if len(pending) != 1 {
		t.Fatalf("queued %d notifications, want 1 (sender must be excluded)", len(pending))
	}
	if pending[0].AppUserID != "user-2" {
		t.Errorf("queued notification for %q, want user-2", pending[0].AppUserID)
	}
}

func TestHandleFrameRoutableSkipsUnknownRecipients(t *testing.T) {
	svc := New(directory.New(), offlinequeue.New())

	svc.HandleFrame(context.Background(), "router-1", []byte(`{
		"type": "ROUTABLE",
		"application_user_identifiers": ["user-1"]
	}`))
}

func TestFanOutLocalDeliversToConnectedDevice(t *testing.T) {
	dir := directory.New()
	received := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		_, data, err := conn.Read(r.Context())
		if err == nil {
			received <- data
		}
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(t.Context(), wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	dir.Add(&directory.Client{AppUserID: "user-1", DeviceID: "device-1", Conn: conn})

	svc := New(dir, offlinequeue.New())
	svc.fanOutLocal(context.Background(), []string{"user-1"}, []byte(`{"type":"ROUTABLE","application_user_identifiers":["user-1"]}`))

	select {
	case data := <-received:
		if string(data) != `{"type":"ROUTABLE"}` {
			t.Errorf("received = %s, want application_user_identifiers popped before delivery", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("device never received the fanned-out frame")
	}
}
