package socketio

import (
	"net"
	"net/netip"
	"slices"
	"sync"
)

// ViewLimiter caps how many player views from other machines stay connected.
// The kiosk view on the device itself connects over loopback and is never counted.
// Admitting a remote view past the cap pushes out the longest-connected remote view,
// so a phone that reconnects always wins over a tab left open somewhere.
type ViewLimiter struct {
	mu        sync.Mutex
	maxRemote int
	remote    []string        // remote view ids, oldest first
	views     map[string]bool // id -> connected over loopback
}

// NewViewLimiter creates a limiter admitting up to maxRemote remote views.
func NewViewLimiter(maxRemote int) *ViewLimiter {
	return &ViewLimiter{
		maxRemote: maxRemote,
		views:     make(map[string]bool),
	}
}

// Admit records a connecting view and returns the id of the remote view it pushed out, if any.
// Admitting an id twice is a no-op.
func (l *ViewLimiter) Admit(id, addr string) (evicted string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.views[id]; ok {
		return ""
	}

	local := isLocalIP(addr)
	l.views[id] = local
	if local {
		return ""
	}

	l.remote = append(l.remote, id)
	if len(l.remote) <= l.maxRemote {
		return ""
	}

	evicted = l.remote[0]
	l.remote = l.remote[1:]
	delete(l.views, evicted)
	return evicted
}

// Leave forgets a disconnected view.
func (l *ViewLimiter) Leave(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	local, ok := l.views[id]
	if !ok {
		return
	}
	delete(l.views, id)
	if !local {
		l.remote = slices.DeleteFunc(l.remote, func(v string) bool { return v == id })
	}
}

// RemoteCount returns how many remote views are connected.
func (l *ViewLimiter) RemoteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.remote)
}

// isLocalIP reports whether the handshake address is loopback, bare or host:port.
func isLocalIP(addr string) bool {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return addr == "localhost"
	}
	return ip.Unmap().IsLoopback()
}
