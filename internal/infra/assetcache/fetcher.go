package assetcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultUserAgent identifies the player to the asset host.
	DefaultUserAgent = "StellarPlayer/1.0 (https://github.com/edumarques81/stellar-offline-player)"

	// DefaultTimeout for HTTP requests
	DefaultTimeout = 60 * time.Second

	// MaxAssetSize is the maximum payload size to download (64MB)
	MaxAssetSize = 64 * 1024 * 1024
)

// FetchResult is a downloaded payload.
type FetchResult struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads a locator from the network.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*FetchResult, error)
}

// HTTPFetcher fetches assets over HTTP.
type HTTPFetcher struct {
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
}

// FetcherOption is a functional option for configuring the fetcher
type FetcherOption func(*HTTPFetcher)

// WithUserAgent sets a custom User-Agent header
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpClient = client
	}
}

// WithRateLimit caps requests per second. Zero or less disables the limiter.
func WithRateLimit(rps int) FetcherOption {
	return func(f *HTTPFetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = newRateLimiter(rps)
	}
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads the locator.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (*FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrNotFound
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		log.Warn().Str("locator", locator).Int("status", resp.StatusCode).Msg("Asset host temporary error")
		return nil, ErrTemporaryFailure
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAssetSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	log.Debug().
		Str("locator", locator).
		Int("size", len(data)).
		Str("type", contentType).
		Msg("Fetched asset")

	return &FetchResult{Data: data, ContentType: contentType}, nil
}

// rateLimiter spaces requests at a fixed interval
type rateLimiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastRequest time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	return &rateLimiter{
		interval: time.Second / time.Duration(requestsPerSecond),
	}
}

// Wait blocks until a request can be made
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	nextAllowed := r.lastRequest.Add(r.interval)

	if now.Before(nextAllowed) {
		select {
		case <-time.After(nextAllowed.Sub(now)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.lastRequest = time.Now()
	return nil
}
