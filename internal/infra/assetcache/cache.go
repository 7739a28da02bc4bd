// Package assetcache keeps a local copy of remote assets so the player works offline.
//
// Payloads live on disk under <dir>/<partition>/<md5(locator)>. The index of what is
// cached lives in the SQLite asset_entries table. Entries never expire.
package assetcache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/infra/cache"
)

// Common errors
var (
	// ErrNotCached means the locator is not cached and the network is unavailable.
	ErrNotCached = errors.New("asset not cached")

	// ErrNotFound means the asset host has no such locator.
	ErrNotFound = errors.New("asset not found")

	// ErrTemporaryFailure means the asset host failed in a way that may clear later.
	ErrTemporaryFailure = errors.New("temporary failure")
)

// mediaExtensions route a locator to the media partition.
var mediaExtensions = map[string]bool{
	".mp3":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Index persists cache entries.
type Index interface {
	GetAssetEntry(locator string) (*cache.AssetEntry, error)
	InsertAssetEntry(entry *cache.AssetEntry) error
	DeleteAssetEntry(locator string) error
	Stats() (*cache.Stats, error)
}

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Current() bool
}

// Asset is a resolved payload.
type Asset struct {
	Locator     string
	ContentType string
	Data        []byte
	FromCache   bool
}

// Cache is the network asset cache.
type Cache struct {
	dir        string
	index      Index
	fetcher    Fetcher
	net        Connectivity
	mediaHosts map[string]bool

	group singleflight.Group
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures the cache.
type Option func(*Cache)

// WithFetcher replaces the default HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *Cache) {
		c.fetcher = f
	}
}

// WithMediaHost routes every locator on host to the media partition.
func WithMediaHost(host string) Option {
	return func(c *Cache) {
		if host != "" {
			c.mediaHosts[strings.ToLower(host)] = true
		}
	}
}

// New creates a cache rooted at dir.
func New(dir string, index Index, net Connectivity, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		dir:        dir,
		index:      index,
		net:        net,
		mediaHosts: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher()
	}

	return c
}

// PartitionFor classifies a locator.
func (c *Cache) PartitionFor(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil {
		if c.mediaHosts[strings.ToLower(u.Hostname())] {
			return cache.PartitionMedia
		}
		p = u.Path
	}
	if mediaExtensions[strings.ToLower(path.Ext(p))] {
		return cache.PartitionMedia
	}
	return cache.PartitionShell
}

// EnsureCached stores the locator in the background if it is not cached yet.
// It never blocks and is a no-op while offline.
func (c *Cache) EnsureCached(locator string) {
	if locator == "" || !c.net.Current() {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if _, _, ok, _ := c.Match(c.ctx, locator); ok {
			return
		}
		if _, err := c.fill(c.ctx, locator, c.PartitionFor(locator)); err != nil {
			log.Warn().Err(err).Str("locator", locator).Str("kind", string(music.KindCacheWriteFailed)).Msg("Background cache fill failed")
		}
	}()
}

// Match looks the locator up locally. It never touches the network.
func (c *Cache) Match(ctx context.Context, locator string) (*cache.AssetEntry, []byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}

	entry, err := c.index.GetAssetEntry(locator)
	if err != nil {
		return nil, nil, false, fmt.Errorf("lookup %s: %w", locator, err)
	}
	if entry == nil {
		return nil, nil, false, nil
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("locator", locator).Msg("Cached payload missing, dropping entry")
			if err := c.index.DeleteAssetEntry(locator); err != nil {
				log.Warn().Err(err).Str("locator", locator).Msg("Failed to drop stale cache entry")
			}
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("read %s: %w", entry.FilePath, err)
	}

	return entry, data, true, nil
}

// Fetch serves the locator cache-first, falling back to the network and filling the cache on success.
func (c *Cache) Fetch(ctx context.Context, locator string) (*Asset, error) {
	entry, data, ok, err := c.Match(ctx, locator)
	if err != nil {
		log.Warn().Err(err).Str("locator", locator).Msg("Cache lookup failed")
	}
	if ok {
		return &Asset{Locator: locator, ContentType: entry.ContentType, Data: data, FromCache: true}, nil
	}

	if !c.net.Current() {
		return nil, ErrNotCached
	}

	return c.fill(ctx, locator, c.PartitionFor(locator))
}

// Open returns a seekable reader for the locator, for playback outputs.
func (c *Cache) Open(ctx context.Context, locator string) (io.ReadSeekCloser, string, error) {
	if entry, err := c.index.GetAssetEntry(locator); err == nil && entry != nil {
		if f, err := os.Open(entry.FilePath); err == nil {
			return f, entry.ContentType, nil
		}
	}

	asset, err := c.Fetch(ctx, locator)
	if err != nil {
		return nil, "", err
	}
	return nopSeekCloser{bytes.NewReader(asset.Data)}, asset.ContentType, nil
}

// PrecacheShell warms the shell partition with the given locators.
func (c *Cache) PrecacheShell(ctx context.Context, locators []string) error {
	var errs []error
	for _, locator := range locators {
		if _, _, ok, _ := c.Match(ctx, locator); ok {
			continue
		}
		if !c.net.Current() {
			errs = append(errs, fmt.Errorf("%s: %w", locator, ErrNotCached))
			continue
		}
		if _, err := c.fill(ctx, locator, cache.PartitionShell); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", locator, err))
		}
	}

	log.Info().Int("assets", len(locators)).Int("failed", len(errs)).Msg("Shell precache finished")
	return errors.Join(errs...)
}

// Stats returns entry counts and bytes per partition.
func (c *Cache) Stats() (*cache.Stats, error) {
	return c.index.Stats()
}

// Wait blocks until pending background fills finish.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close cancels background fills and waits for them.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

// fill downloads and stores the locator. Concurrent calls for one locator share a single
// download. The download outlives any one caller and stops only when the cache closes;
// each caller still returns as soon as its own ctx is done.
func (c *Cache) fill(ctx context.Context, locator, partition string) (*Asset, error) {
	ch := c.group.DoChan(locator, func() (interface{}, error) {
		c.wg.Add(1)
		defer c.wg.Done()

		fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		result, err := c.fetcher.Fetch(fetchCtx, locator)
		if err != nil {
			return nil, err
		}

		contentType := result.ContentType
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = music.ContentTypeFor(locator)
		}

		if err := c.store(locator, partition, contentType, result.Data); err != nil {
			log.Warn().Err(err).Str("locator", locator).Str("kind", string(music.KindCacheWriteFailed)).Msg("Cache write failed")
		}

		return &Asset{Locator: locator, ContentType: contentType, Data: result.Data}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debug().Str("locator", locator).Msg("Coalesced asset fetch")
		}
		return res.Val.(*Asset), nil
	}
}

// store writes the payload and indexes it.
func (c *Cache) store(locator, partition, contentType string, data []byte) error {
	dir := filepath.Join(c.dir, partition)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	key := md5.Sum([]byte(locator))
	filePath := filepath.Join(dir, hex.EncodeToString(key[:]))

	tmp, err := os.CreateTemp(dir, ".fill-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close payload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename payload: %w", err)
	}

	sum := md5.Sum(data)
	return c.index.InsertAssetEntry(&cache.AssetEntry{
		Locator:     locator,
		Partition:   partition,
		FilePath:    filePath,
		ContentType: contentType,
		Size:        int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
		FetchedAt:   time.Now(),
	})
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
