// Package netmon tracks whether the device is online.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is how often the watcher polls interface state.
const DefaultInterval = 10 * time.Second

// Monitor owns the process-wide connectivity flag.
type Monitor struct {
	mu     sync.Mutex
	online bool
	status NetworkStatus
	subs   map[int]func(bool)
	nextID int

	sysRoot    string
	interval   time.Duration
	probeURL   string
	httpClient *http.Client
}

// Option configures the monitor.
type Option func(*Monitor)

// WithSysRoot reads interfaces from a different directory (useful for testing).
func WithSysRoot(dir string) Option {
	return func(m *Monitor) {
		m.sysRoot = dir
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeURL requires a successful HEAD request on top of a live interface.
func WithProbeURL(url string) Option {
	return func(m *Monitor) {
		m.probeURL = url
	}
}

// New creates a monitor with the given initial state.
func New(initial bool, opts ...Option) *Monitor {
	m := &Monitor{
		online:     initial,
		status:     NetworkStatus{Online: initial, Type: "none"},
		subs:       make(map[int]func(bool)),
		sysRoot:    DefaultSysRoot,
		interval:   DefaultInterval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Current reports the last known connectivity.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status returns the detailed status from the last poll.
func (m *Monitor) Status() NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Online = m.online
	return s
}

// Subscribe registers fn for transitions. The returned func unsubscribes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Set records a platform-reported state. Subscribers only hear about transitions.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	log.Info().Bool("online", online).Msg("Connectivity changed")

	for _, fn := range subs {
		fn(online)
	}
}

// Poll reads interface state once and applies it.
func (m *Monitor) Poll(ctx context.Context) NetworkStatus {
	status := readStatus(m.sysRoot)
	if status.Online && m.probeURL != "" {
		status.Online = m.probe(ctx)
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	m.Set(status.Online)
	return status
}

// Start polls until ctx is cancelled. It does not retry or back off.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		log.Info().Dur("interval", m.interval).Msg("Network watcher started")
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Poll(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Network watcher stopped")
				return
			case <-ticker.C:
				m.Poll(ctx)
			}
		}
	}()
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", m.probeURL).Msg("Connectivity probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
