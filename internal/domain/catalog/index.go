package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

const (
	// DefaultUserAgent identifies the player to the index host.
	DefaultUserAgent = "StellarPlayer/1.0 (https://github.com/edumarques81/stellar-offline-player)"

	// DefaultTimeout for index requests
	DefaultTimeout = 15 * time.Second

	// maxIndexSize bounds the descriptor document (4MB)
	maxIndexSize = 4 * 1024 * 1024
)

// Source produces the remote track list.
type Source interface {
	Fetch(ctx context.Context) ([]music.Track, error)
}

// HTTPIndex fetches a JSON descriptor array from the asset host.
type HTTPIndex struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// IndexOption is a functional option for configuring the HTTP index
type IndexOption func(*HTTPIndex)

// WithUserAgent sets a custom User-Agent header
func WithUserAgent(ua string) IndexOption {
	return func(i *HTTPIndex) {
		i.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) IndexOption {
	return func(i *HTTPIndex) {
		i.httpClient = client
	}
}

// NewHTTPIndex creates an index that reads descriptors from url.
func NewHTTPIndex(url string, opts ...IndexOption) *HTTPIndex {
	i := &HTTPIndex{
		url:       url,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Fetch downloads and converts the descriptor list.
func (i *HTTPIndex) Fetch(ctx context.Context) ([]music.Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", i.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var descs []music.Descriptor
	if err := json.Unmarshal(body, &descs); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	tracks := music.FromDescriptors(descs)
	log.Debug().Str("url", i.url).Int("descriptors", len(descs)).Int("tracks", len(tracks)).Msg("Fetched track index")
	return tracks, nil
}

// StaticIndex serves a fixed descriptor list, typically from the config file.
type StaticIndex struct {
	tracks []music.Track
}

// NewStaticIndex creates an index over descs.
func NewStaticIndex(descs []music.Descriptor) *StaticIndex {
	return &StaticIndex{tracks: music.FromDescriptors(descs)}
}

// Fetch returns a copy of the list.
func (s *StaticIndex) Fetch(ctx context.Context) ([]music.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]music.Track, len(s.tracks))
	copy(out, s.tracks)
	return out, nil
}
