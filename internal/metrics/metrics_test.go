package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSnapshotDeltaReportsIncreaseSincePreviousCall(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.Inc("app-1", "messages_routed")
	c.Inc("app-1", "messages_routed")

	first := c.SnapshotDelta()
	key := CounterKey{ApplicationID: "app-1", Event: "messages_routed"}
	if first[key] != 2 {
		t.Fatalf("first delta = %v, want 2", first[key])
	}

	c.Inc("app-1", "messages_routed")
	second := c.SnapshotDelta()
	if second[key] != 1 {
		t.Fatalf("second delta = %v, want 1", second[key])
	}
}

func TestSnapshotDeltaOmitsUnchangedCounters(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.Inc("app-1", "messages_routed")
	c.SnapshotDelta()

	second := c.SnapshotDelta()
	key := CounterKey{ApplicationID: "app-1", Event: "messages_routed"}
	if _, ok := second[key]; ok {
		t.Errorf("expected unchanged counter omitted from delta, got %v", second[key])
	}
}

func TestAdd(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.Add("app-1", "messages_persisted", 5)

	delta := c.SnapshotDelta()
	key := CounterKey{ApplicationID: "app-1", Event: "messages_persisted"}
	if delta[key] != 5 {
		t.Fatalf("delta = %v, want 5", delta[key])
	}
}
