// Package rest serves the plain HTTP endpoints: health, read-only player state and the asset proxy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/audio"
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
	"github.com/edumarques81/stellar-offline-player/internal/infra/assetcache"
	"github.com/edumarques81/stellar-offline-player/internal/infra/cache"
	"github.com/edumarques81/stellar-offline-player/internal/infra/netmon"
	"github.com/edumarques81/stellar-offline-player/internal/version"
)

// AssetPath is where the asset proxy is mounted.
const AssetPath = "/asset"

// assetTimeout bounds one proxied fetch.
const assetTimeout = 60 * time.Second

// Player is the read-only engine surface.
type Player interface {
	State() player.State
	Tracks() []music.Track
}

// Assets resolves locators cache-first.
type Assets interface {
	Fetch(ctx context.Context, locator string) (*assetcache.Asset, error)
}

// Network reports connectivity.
type Network interface {
	Status() netmon.NetworkStatus
}

// CacheStats reports asset cache usage.
type CacheStats interface {
	Stats() (*cache.Stats, error)
}

// AudioStatus reports the output format.
type AudioStatus interface {
	GetStatus() audio.Status
}

// Pinger checks an external output daemon.
type Pinger interface {
	Ping() error
}

// Deps wires the endpoints. Only Player is required; missing deps turn their endpoint into 404.
type Deps struct {
	Player  Player
	Assets  Assets
	Network Network
	Cache   CacheStats
	Audio   AudioStatus
	Output  Pinger
}

// Server holds the REST handlers.
type Server struct {
	deps Deps
}

// NewServer creates the REST endpoints.
func NewServer(deps Deps) (*Server, error) {
	if deps.Player == nil {
		return nil, fmt.Errorf("rest: player is required")
	}
	return &Server{deps: deps}, nil
}

// Register mounts the endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/version", s.handleVersion)
	mux.HandleFunc("/api/v1/tracks", s.handleTracks)
	mux.HandleFunc("/api/v1/state", s.handleState)

	if s.deps.Network != nil {
		mux.HandleFunc("/api/v1/network", s.handleNetwork)
	}
	if s.deps.Cache != nil {
		mux.HandleFunc("/api/v1/cache", s.handleCache)
	}
	if s.deps.Audio != nil {
		mux.HandleFunc("/api/v1/output", s.handleOutput)
	}
	if s.deps.Assets != nil {
		mux.HandleFunc(AssetPath, s.handleAsset)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Output != nil {
		if err := s.deps.Output.Ping(); err != nil {
			log.Debug().Err(err).Msg("Health check: output unreachable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "output": "disconnected"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "output": "connected"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks := s.deps.Player.Tracks()
	if tracks == nil {
		tracks = []music.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Player.State().ToJSON())
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Network.Status())
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Cache.Stats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read cache stats")
		http.Error(w, "cache unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Audio.GetStatus())
}

// handleAsset serves a locator cache-first. When neither the cache nor the
// network can produce it the response is 408 "Network error".
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("locator")
	if locator == "" {
		http.Error(w, "locator parameter required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), assetTimeout)
	defer cancel()

	asset, err := s.deps.Assets.Fetch(ctx, locator)
	if err != nil {
		if errors.Is(err, assetcache.ErrNotCached) {
			log.Debug().Str("locator", locator).Msg("Asset not cached while offline")
		} else {
			log.Warn().Err(err).Str("locator", locator).Msg("Asset fetch failed")
		}
		http.Error(w, "Network error", http.StatusRequestTimeout)
		return
	}

	contentType := asset.ContentType
	if contentType == "" {
		contentType = music.ContentTypeFor(locator)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if asset.FromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	// ServeContent answers Range requests, which MPD uses to seek.
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(asset.Data))
}

// AssetURL is the local proxy URL for a locator under base (e.g. "http://127.0.0.1:3001").
func AssetURL(base, locator string) string {
	return base + AssetPath + "?locator=" + url.QueryEscape(locator)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
