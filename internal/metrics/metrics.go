// Package metrics implements the edge server's performance counters:
// Prometheus CounterVecs exposed at /metrics, plus a delta snapshot used
// by the periodic performance-ping client (the source system "resets"
// its counters on each report; Prometheus counters are monotonic, so we
// report the delta since the previous snapshot instead of rewinding them).
package metrics

import (
	"sync"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// CounterKey identifies one labeled counter.
type CounterKey struct {
	ApplicationID string
	Event         string
}

// Counters are keyed by application_identifier and event name (e.g.
// "messages_routed", "messages_persisted", "websocket_connections").
type Counters struct {
	vec *prometheus.CounterVec

	mu   sync.Mutex
	prev map[CounterKey]float64
}

// New registers a fresh CounterVec against reg.
func New(reg prometheus.Registerer) *Counters {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "edge",
		Name:      "events_total",
		Help:      "Count of edge server events by application and event name.",
	}, []string{"application_identifier", "event"})

	reg.MustRegister(vec)

	return &Counters{vec: vec, prev: make(map[CounterKey]float64)}
}

// Inc records one occurrence of event for applicationID.
func (c *Counters) Inc(applicationID, event string) {
	c.vec.WithLabelValues(applicationID, event).Inc()
}

// Add records n occurrences of event for applicationID.
func (c *Counters) Add(applicationID, event string, n float64) {
	c.vec.WithLabelValues(applicationID, event).Add(n)
}

// SnapshotDelta returns, for every (application_identifier, event) pair
// observed so far, the increase since the previous call to SnapshotDelta.
// The first call reports each counter's full current value.
func (c *Counters) SnapshotDelta() map[CounterKey]float64 {
	metricCh := make(chan prometheus.Metric, 64)
	go func() {
		c.vec.Collect(metricCh)
		close(metricCh)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[CounterKey]float64)
	for m := range metricCh {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}

		var key CounterKey
		for _, lp := range pb.GetLabel() {
			switch lp.GetName() {
			case "application_identifier":
				key.ApplicationID = lp.GetValue()
			case "event":
				key.Event = lp.GetValue()
			}
		}
		cur := pb.GetCounter().GetValue()

		if delta := cur - c.prev[key]; delta != 0 {
			out[key] = delta
		}
		c.prev[key] = cur
	}
	return out
}
