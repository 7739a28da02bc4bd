// Package socketio provides the Socket.io server the player views connect to.
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-offline-player/internal/domain/history"
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
	"github.com/edumarques81/stellar-offline-player/internal/infra/cache"
	"github.com/edumarques81/stellar-offline-player/internal/infra/netmon"
)

const (
	// DefaultBroadcastWindow collapses bursts of engine notifications.
	DefaultBroadcastWindow = 100 * time.Millisecond
	// DefaultMaxExternalClients bounds concurrent non-local views.
	DefaultMaxExternalClients = 4
)

// Player is the engine surface the transport drives.
type Player interface {
	State() player.State
	Snapshot() player.Snapshot
	Tracks() []music.Track
	SetTracks(tracks []music.Track)
	SelectTrack(id string) error
	TogglePlayPause()
	Play()
	Pause()
	Seek(seconds float64)
	Next()
	Previous()
	SetVolume(v float64)
	ToggleMute()
	SetRepeat(on bool)
	SetShuffle(on bool)
	Subscribe(fn func(player.Event)) func()
}

// Snapshots captures and restores playback across view teardown.
type Snapshots interface {
	CaptureSnapshot() player.Snapshot
	RestoreSnapshot(s player.Snapshot)
}

// TrackResolver produces the track list.
type TrackResolver interface {
	ResolveTracks(ctx context.Context) ([]music.Track, error)
}

// Network reports connectivity.
type Network interface {
	Status() netmon.NetworkStatus
	Subscribe(fn func(online bool)) func()
}

// CacheStats reports asset cache usage.
type CacheStats interface {
	Stats() (*cache.Stats, error)
}

// History lists recent plays.
type History interface {
	LastPlayed(limit int) []history.Entry
}

// Deps wires the server to the rest of the player. Everything but Player is optional.
type Deps struct {
	Player    Player
	Snapshots Snapshots
	Tracks    TrackResolver
	Network   Network
	Cache     CacheStats
	History   History
	Audio     AudioStatus
}

// emitter is what handlers reply through; *socket.Socket satisfies it.
type emitter interface {
	Emit(ev string, args ...any) error
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	deps      Deps
	limiter   *ViewLimiter
	debouncer *BroadcastDebouncer
	handlers  map[string]handlerFunc

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastState map[string]interface{}

	window      time.Duration
	maxExternal int
	unsubscribe []func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithBroadcastWindow sets the debounce window for state and snapshot pushes.
func WithBroadcastWindow(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithMaxExternalClients sets how many non-local views may stay connected.
func WithMaxExternalClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxExternal = n
		}
	}
}

// NewServer creates a new Socket.io server.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	if deps.Player == nil {
		return nil, fmt.Errorf("socketio: player is required")
	}

	ioOpts := socket.DefaultServerOptions()
	ioOpts.SetPingTimeout(20 * time.Second)
	ioOpts.SetPingInterval(25 * time.Second)
	ioOpts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		io:          socket.NewServer(nil, ioOpts),
		deps:        deps,
		clients:     make(map[string]*socket.Socket),
		window:      DefaultBroadcastWindow,
		maxExternal: DefaultMaxExternalClients,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.limiter = NewViewLimiter(s.maxExternal)
	s.debouncer = NewBroadcastDebouncer(s.window, s.BroadcastState, s.BroadcastSnapshot)
	s.handlers = s.commands()

	s.setupHandlers()
	return s, nil
}

// Start subscribes to engine and connectivity notifications.
func (s *Server) Start() {
	s.unsubscribe = append(s.unsubscribe, s.deps.Player.Subscribe(s.onPlayerEvent))

	if s.deps.Network != nil {
		s.unsubscribe = append(s.unsubscribe, s.deps.Network.Subscribe(func(online bool) {
			s.BroadcastNetworkStatus()
		}))
	}
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remote := client.Handshake().Address

		log.Info().Str("id", clientID).Str("remote", remote).Msg("Client connected")

		evicted := s.limiter.Admit(clientID, remote)

		s.mu.Lock()
		s.clients[clientID] = client
		old := s.clients[evicted]
		delete(s.clients, evicted)
		s.mu.Unlock()

		if old != nil {
			log.Info().Str("id", evicted).Msg("Evicting oldest external client")
			old.Disconnect(true)
		}

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushInitial(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Leave(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		for event, fn := range s.handlers {
			event, fn := event, fn
			client.On(event, func(args ...any) {
				log.Debug().Str("id", clientID).Interface("data", args).Msg(event)
				fn(client, args)
			})
		}
		client.OnAny(func(args ...any) {
			s.rejectUnknown(client, args)
		})
	})
}

// rejectUnknown answers events no handler is registered for. OnAny sees every
// inbound event, so known names are skipped here.
func (s *Server) rejectUnknown(reply emitter, args []any) {
	if len(args) == 0 {
		return
	}
	event, _ := args[0].(string)
	if _, ok := s.handlers[event]; ok {
		return
	}
	log.Warn().Str("event", event).Msg("Unknown command")
	reject(reply, event, "unknown command")
}

func (s *Server) pushInitial(client emitter) {
	client.Emit("pushState", s.deps.Player.State().ToJSON())
	client.Emit("pushSnapshot", s.deps.Player.Snapshot())
	client.Emit("pushTrackList", s.deps.Player.Tracks())
	if s.deps.Network != nil {
		client.Emit("pushNetworkStatus", s.deps.Network.Status())
	}
	if s.deps.Audio != nil {
		client.Emit("pushAudioStatus", s.deps.Audio.GetStatus())
	}
}

// onPlayerEvent runs on the engine dispatcher goroutine.
func (s *Server) onPlayerEvent(ev player.Event) {
	switch ev.Type {
	case player.EventState, player.EventSnapshot:
		s.debouncer.Trigger(ev.Type)
	case player.EventTrackList:
		s.io.Emit("pushTrackList", ev.Tracks)
	case player.EventError:
		if ev.Err != nil {
			s.io.Emit("pushError", errorPayload(ev.Err))
		}
	}
}

// ErrorPayload is the pushError body.
type ErrorPayload struct {
	ID      string     `json:"id"`
	Kind    music.Kind `json:"kind"`
	Message string     `json:"message"`
	TrackID string     `json:"trackId,omitempty"`
}

func errorPayload(err *music.Error) ErrorPayload {
	return ErrorPayload{
		ID:      uuid.NewString(),
		Kind:    err.Kind,
		Message: err.Message,
		TrackID: err.TrackID,
	}
}

// stateCompareKeys are the pushState fields that justify a broadcast.
// Progress travels in pushSnapshot, so seek and elapsed are left out.
var stateCompareKeys = []string{
	"status", "id", "title", "artist", "albumart", "uri",
	"duration", "isPlaying", "repeat", "random", "volume", "mute", "error",
}

func (s *Server) isStateSame(state map[string]interface{}) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastState == nil {
		return false
	}
	for _, key := range stateCompareKeys {
		if !reflect.DeepEqual(state[key], s.lastState[key]) {
			return false
		}
	}
	return true
}

func (s *Server) saveLastState(state map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastState = state
}

// BroadcastState sends the engine state to all clients when a compared field changed.
func (s *Server) BroadcastState() {
	state := s.deps.Player.State().ToJSON()
	if s.isStateSame(state) {
		return
	}
	s.saveLastState(state)

	s.io.Emit("pushState", state)
	// play/pause and track changes move the output format too
	s.BroadcastAudioStatus()

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastSnapshot sends the snapshot to all clients.
func (s *Server) BroadcastSnapshot() {
	s.io.Emit("pushSnapshot", s.deps.Player.Snapshot())
}

// BroadcastTrackList sends the track list to all clients.
func (s *Server) BroadcastTrackList() {
	s.io.Emit("pushTrackList", s.deps.Player.Tracks())
}

func (s *Server) contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, d)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close stops broadcasting and closes the Socket.io server.
func (s *Server) Close() error {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
	s.debouncer.Stop()
	s.cancel()
	s.wg.Wait()
	s.io.Close(nil)
	return nil
}
