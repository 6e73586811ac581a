// Package routerpool implements the edge server's pool of outbound
// connections to central routers: discovery, connection lifecycle, and
// round-robin dispatch across the operational subset.
package routerpool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatfabric/internal/adminclient"
	"github.com/ashureev/chatfabric/internal/directory"
	cerrors "github.com/ashureev/chatfabric/internal/errors"
	"github.com/ashureev/chatfabric/internal/wire"
)

// FrameHandler processes one frame received from routerID.
type FrameHandler func(ctx context.Context, routerID string, raw []byte)

// router is one outbound connection to a central router.
type router struct {
	id          string
	conn        *websocket.Conn
	writeMu     sync.Mutex
	operational atomic.Bool
	cancel      context.CancelFunc
}

func (r *router) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.Write(ctx, websocket.MessageText, b)
}

// Pool is the edge server's managed set of router connections.
type Pool struct {
	admin      *adminclient.Client
	dir        *directory.Directory
	edgeID     string
	secret     string
	onFrame    FrameHandler
	discoverEvery time.Duration

	mu        sync.Mutex
	routers   map[string]*router
	connecting map[string]bool

	rrCounter atomic.Uint64
}

// New constructs a Pool that dials routers discovered via admin, carrying
// edgeID and secret as upgrade headers.
func New(admin *adminclient.Client, dir *directory.Directory, edgeID, secret string, discoverEvery time.Duration, onFrame FrameHandler) *Pool {
	return &Pool{
		admin:         admin,
		dir:           dir,
		edgeID:        edgeID,
		secret:        secret,
		onFrame:       onFrame,
		discoverEvery: discoverEvery,
		routers:       make(map[string]*router),
		connecting:    make(map[string]bool),
	}
}

// Run executes the discovery loop until ctx is cancelled: on each tick,
// diff the admin API's router set against the currently held set,
// connecting to new ids and closing vanished ones.
func (p *Pool) Run(ctx context.Context) {
	p.discover(ctx)

	ticker := time.NewTicker(p.discoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.discover(ctx)
		}
	}
}

func (p *Pool) discover(ctx context.Context) {
	entries, err := p.admin.Routers(ctx)
	if err != nil {
		slog.Warn("router discovery failed", "error", err)
		return
	}

	current := make(map[string]string, len(entries))
	for _, e := range entries {
		current[e.Identifier] = e.PublicIP
	}

	p.mu.Lock()
	var toClose []*router
	for id, r := range p.routers {
		if _, ok := current[id]; !ok {
			toClose = append(toClose, r)
			delete(p.routers, id)
		}
	}
	p.mu.Unlock()

	for _, r := range toClose {
		r.cancel()
		_ = r.conn.Close(websocket.StatusNormalClosure, "router no longer advertised")
	}

	for id, publicIP := range current {
		p.mu.Lock()
		_, exists := p.routers[id]
		inFlight := p.connecting[id]
		if !exists && !inFlight {
			p.connecting[id] = true
		}
		p.mu.Unlock()

		if exists || inFlight {
			continue
		}
		go p.connect(ctx, id, publicIP)
	}
}

func (p *Pool) connect(ctx context.Context, id, publicIP string) {
	defer func() {
		p.mu.Lock()
		delete(p.connecting, id)
		p.mu.Unlock()
	}()

	u := url.URL{Scheme: "ws", Host: publicIP, Path: "/router"}
	header := http.Header{}
	header.Set("X-ROUTER-INTERNAL-SECRET", p.secret)
	header.Set("X-WEBSOCKET-SERVER-IDENTIFIER", p.edgeID)

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		slog.Warn("failed to connect to router", "router_id", id, "error", err)
		return
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &router{id: id, conn: conn, cancel: cancel}

	p.mu.Lock()
	p.routers[id] = r
	p.mu.Unlock()

	if err := r.send(rctx, fullSyncFrame(p.dir)); err != nil {
		slog.Warn("failed to send FULL_SYNC", "router_id", id, "error", err)
	}

	p.readLoop(rctx, r)
}

func (p *Pool) readLoop(ctx context.Context, r *router) {
	defer func() {
		p.mu.Lock()
		if p.routers[r.id] == r {
			delete(p.routers, r.id)
		}
		p.mu.Unlock()
	}()

	for {
		_, data, err := r.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("router connection closed", "router_id", r.id)
			} else {
				slog.Warn("router read error", "router_id", r.id, "error", err)
			}
			return
		}
		if isServerModeOperational(data) {
			r.operational.Store(true)
		}
		if p.onFrame != nil {
			p.onFrame(ctx, r.id, data)
		}
	}
}

// BroadcastAll sends v to every currently connected router, regardless of
// operational state (used for ADD/REMOVE_APP_USER_WEBSOCKET, which must
// reach every router so FULL_SYNC convergence stays correct).
func (p *Pool) BroadcastAll(ctx context.Context, v any) {
	p.mu.Lock()
	routers := make([]*router, 0, len(p.routers))
	for _, r := range p.routers {
		routers = append(routers, r)
	}
	p.mu.Unlock()

	for _, r := range routers {
		if err := r.send(ctx, v); err != nil {
			slog.Warn("failed to broadcast to router", "router_id", r.id, "error", err)
		}
	}
}

// HasOperational reports whether at least one router connection has
// reached OPERATIONAL mode, used to reject client frames early when the
// router fabric is unreachable rather than after attempting a send.
func (p *Pool) HasOperational() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.routers {
		if r.operational.Load() {
			return true
		}
	}
	return false
}

// Send picks one operational router by round robin and sends v to it. It
// returns DnsConnectionsException if the operational pool is empty.
//
// The operational subset is ordered by router id, not map iteration order,
// so repeated calls over an unchanged pool index into the same stable
// sequence and round robin visits every member within N sends.
func (p *Pool) Send(ctx context.Context, v any) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.routers))
	for id, r := range p.routers {
		if r.operational.Load() {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()
	sort.Strings(ids)

	if len(ids) == 0 {
		return cerrors.NewDnsConnections()
	}

	idx := p.rrCounter.Add(1) % uint64(len(ids))

	p.mu.Lock()
	r, ok := p.routers[ids[idx]]
	p.mu.Unlock()
	if !ok {
		return cerrors.NewDnsConnections()
	}
	return r.send(ctx, v)
}

func fullSyncFrame(dir *directory.Directory) wire.FullSync {
	return wire.FullSync{
		Type:               wire.TypeFullSync,
		ApplicationUserIDs: dir.Keys(),
	}
}

func isServerModeOperational(raw []byte) bool {
	var env struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	return env.Type == wire.TypeServerMode && strings.EqualFold(env.Message, wire.ServerModeOperational)
}
