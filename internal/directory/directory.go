// Package directory implements the edge server's UserDirectory: the
// mapping from app_user_id to the set of local device sockets currently
// attached for that user.
package directory

import (
	"sync"

	"github.com/coder/websocket"
)

// Client is a locally-terminated client connection.
type Client struct {
	AppUserID     string
	DeviceID      string
	ApplicationID string
	IsManager     bool
	Conn          *websocket.Conn
}

// Directory is the ES UserDirectory: app_user_id -> device_id -> *Client.
// Manager connections never appear here (spec.md §4.5 item 6).
type Directory struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]*Client
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{byUser: make(map[string]map[string]*Client)}
}

// Add registers client under (app_user_id, device_id), closing and
// replacing any existing connection for the same key. It reports whether
// app_user_id was previously absent (the caller must then send
// ADD_APP_USER_WEBSOCKET upstream).
func (d *Directory) Add(c *Client) (firstDevice bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	devices, ok := d.byUser[c.AppUserID]
	if !ok {
		devices = make(map[string]*Client)
		d.byUser[c.AppUserID] = devices
		firstDevice = true
	}

	if existing, ok := devices[c.DeviceID]; ok && existing.Conn != nil {
		_ = existing.Conn.Close(websocket.StatusNormalClosure, "replaced by new connection")
	}
	devices[c.DeviceID] = c
	return firstDevice
}

// Remove drops (app_user_id, device_id). It reports whether app_user_id's
// device map became empty as a result (the caller must then send
// REMOVE_APP_USER_WEBSOCKET upstream and drop the outer key).
func (d *Directory) Remove(appUserID, deviceID string) (emptied bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	devices, ok := d.byUser[appUserID]
	if !ok {
		return false
	}
	delete(devices, deviceID)
	if len(devices) == 0 {
		delete(d.byUser, appUserID)
		return true
	}
	return false
}

// Devices returns a snapshot of every client currently attached under
// appUserID.
func (d *Directory) Devices(appUserID string) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	devices := d.byUser[appUserID]
	out := make([]*Client, 0, len(devices))
	for _, c := range devices {
		out = append(out, c)
	}
	return out
}

// Has reports whether appUserID has at least one attached device.
func (d *Directory) Has(appUserID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byUser[appUserID]
	return ok
}

// Keys returns every app_user_id currently known, used to build the
// FULL_SYNC frame sent on router (re)connect.
func (d *Directory) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.byUser))
	for k := range d.byUser {
		out = append(out, k)
	}
	return out
}
