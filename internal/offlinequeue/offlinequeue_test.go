package offlinequeue

import "testing"

func TestEnqueueNewestWins(t *testing.T) {
	q := New()
	q.Enqueue(Notification{AppUserID: "user-1", ChatRoomID: "room-1", Message: map[string]any{"text": "first"}})
	q.Enqueue(Notification{AppUserID: "user-1", ChatRoomID: "room-1", Message: map[string]any{"text": "second"}})

	got := q.Flush()
	if len(got) != 1 {
		t.Fatalf("Flush() returned %d entries, want 1", len(got))
	}
	if got[0].Message["text"] != "second" {
		t.Errorf("Flush()[0].Message = %v, want second to win", got[0].Message)
	}
}

func TestFlushClearsQueue(t *testing.T) {
	q := New()
	q.Enqueue(Notification{AppUserID: "user-1"})

	first := q.Flush()
	if len(first) != 1 {
		t.Fatalf("first Flush() = %d entries, want 1", len(first))
	}

	second := q.Flush()
	if second != nil {
		t.Errorf("second Flush() = %v, want nil", second)
	}
}

func TestEnqueueDistinctUsers(t *testing.T) {
	q := New()
	q.Enqueue(Notification{AppUserID: "user-1"})
	q.Enqueue(Notification{AppUserID: "user-2"})

	got := q.Flush()
	if len(got) != 2 {
		t.Fatalf("Flush() = %d entries, want 2", len(got))
	}
}
