// Package applications holds the ApplicationSettings directory: a
// wholesale-replaced snapshot of per-tenant chat configuration, refreshed
// periodically from the admin HTTP API.
package applications

import (
	"sync"
	"sync/atomic"

	"github.com/ashureev/chatfabric/internal/domain"
)

// Directory holds the current ApplicationSettings snapshot and the
// per-application active-user counters gated against it.
type Directory struct {
	settings atomic.Pointer[map[string]domain.ApplicationSettings]
	counts   sync.Map // application_id -> *atomic.Int64
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	d := &Directory{}
	empty := map[string]domain.ApplicationSettings{}
	d.settings.Store(&empty)
	return d
}

// Replace atomically swaps in a freshly fetched settings snapshot.
func (d *Directory) Replace(next map[string]domain.ApplicationSettings) {
	d.settings.Store(&next)
}

// Get returns the settings for applicationID, and whether it is known.
func (d *Directory) Get(applicationID string) (domain.ApplicationSettings, bool) {
	m := *d.settings.Load()
	s, ok := m[applicationID]
	return s, ok
}

// All returns a copy of the current settings map, used to rebuild
// downstream per-application push clients.
func (d *Directory) All() map[string]domain.ApplicationSettings {
	m := *d.settings.Load()
	out := make(map[string]domain.ApplicationSettings, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *Directory) counter(applicationID string) *atomic.Int64 {
	v, _ := d.counts.LoadOrStore(applicationID, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// TryAccept atomically increments applicationID's active count if it would
// remain within max_concurrent_online_users, returning false otherwise.
func (d *Directory) TryAccept(applicationID string, max int) bool {
	c := d.counter(applicationID)
	for {
		cur := c.Load()
		if cur >= int64(max) {
			return false
		}
		if c.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release decrements applicationID's active count.
func (d *Directory) Release(applicationID string) {
	d.counter(applicationID).Add(-1)
}

// Count returns applicationID's current active count.
func (d *Directory) Count(applicationID string) int64 {
	return d.counter(applicationID).Load()
}

// CountsSnapshot returns a copy of every known application's active count,
// used by the status-ping client.
func (d *Directory) CountsSnapshot() map[string]int64 {
	out := map[string]int64{}
	d.counts.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}
