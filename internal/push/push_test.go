package push

import (
	"context"
	"sync"
	"testing"

	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/cache"
	"github.com/ashureev/chatfabric/internal/domain"
	"github.com/ashureev/chatfabric/internal/offlinequeue"
	"github.com/ashureev/chatfabric/internal/store"
	"github.com/ashureev/chatfabric/internal/workerpool"
)

type fakeRepo struct {
	store.Repository
	tokens []domain.DeviceToken
}

func (f *fakeRepo) FetchDeviceTokens(ctx context.Context, appUserID string) ([]domain.DeviceToken, error) {
	return f.tokens, nil
}

func (f *fakeRepo) FetchCustomData(ctx context.Context, appUserID string) (domain.CustomData, error) {
	return nil, nil
}

func TestDeliverGroupsByTokenApplication(t *testing.T) {
	repo := &fakeRepo{tokens: []domain.DeviceToken{
		{Token: "token-a", ApplicationID: "app-1"},
		{Token: "token-b", ApplicationID: "app-2"},
	}}
	c := cache.NewService(repo)
	defer c.Stop()

	apps := applications.NewDirectory()
	apps.Replace(map[string]domain.ApplicationSettings{
		"app-1": {ApplicationID: "app-1", FirebaseServerKey: "key-1"},
		"app-2": {ApplicationID: "app-2", FirebaseServerKey: ""},
	})

	pool := workerpool.New(2)
	defer pool.Close()

	var mu sync.Mutex
	var sent []string
	done := make(chan struct{}, 2)

	g := New(c, apps, pool, func(ctx context.Context, serverKey, deviceToken string, n offlinequeue.Notification) error {
		mu.Lock()
		sent = append(sent, serverKey+":"+deviceToken)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	g.Deliver(context.Background(), offlinequeue.Notification{AppUserID: "user-1", ChatRoomID: "room-1"})

	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent = %v, want exactly 1 delivery (app-2 has no firebase key)", sent)
	}
	if sent[0] != "key-1:token-a" {
		t.Errorf("sent[0] = %q, want key-1:token-a", sent[0])
	}
}
