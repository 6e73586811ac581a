package alert

import (
	"errors"
	"net/smtp"
	"sync"
	"testing"

	cerrors "github.com/ashureev/chatfabric/internal/errors"
)

func TestNotifyRateLimitsPerClass(t *testing.T) {
	var mu sync.Mutex
	var sends int

	n := New("smtp.example.com", 587, "", "", []string{"ops@example.com"})
	n.dial = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		mu.Lock()
		sends++
		mu.Unlock()
		return nil
	}

	n.Notify(cerrors.NewDnsConnections())
	n.Notify(cerrors.NewDnsConnections())

	mu.Lock()
	defer mu.Unlock()
	if sends != 1 {
		t.Fatalf("sends = %d, want 1 (second Notify within the window should be suppressed)", sends)
	}
}

func TestNotifyDistinctClasses(t *testing.T) {
	var mu sync.Mutex
	var sends int

	n := New("smtp.example.com", 587, "", "", []string{"ops@example.com"})
	n.dial = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		mu.Lock()
		sends++
		mu.Unlock()
		return nil
	}

	n.Notify(cerrors.NewDnsConnections())
	n.Notify(errors.New("some unrelated failure"))

	mu.Lock()
	defer mu.Unlock()
	if sends != 2 {
		t.Fatalf("sends = %d, want 2 for two distinct classes", sends)
	}
}

func TestNotifySkippedWithoutAdmins(t *testing.T) {
	n := New("smtp.example.com", 587, "", "", nil)
	n.dial = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		t.Fatal("dial should not be called with no configured admins")
		return nil
	}

	n.Notify(cerrors.NewDnsConnections())
}
