// Package catalog resolves the list of playable tracks from the network or the local store.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// Order selects how a freshly fetched list is arranged.
type Order string

const (
	OrderAsIs       Order = "as_is"
	OrderPopularity Order = "popularity"
)

// Store is the local persistence store for the track list.
type Store interface {
	PutAll(tracks []music.Track) error
	GetAll() ([]music.Track, error)
}

// AssetCache warms the offline cache.
type AssetCache interface {
	EnsureCached(locator string)
}

// Connectivity reports and announces network state.
type Connectivity interface {
	Current() bool
	Subscribe(fn func(online bool)) func()
}

// PlayCounter supplies play counts for popularity ordering.
type PlayCounter interface {
	PlayCounts() map[string]int
}

// Service is the asset index.
type Service struct {
	source  Source
	store   Store
	assets  AssetCache
	net     Connectivity
	order   Order
	counter PlayCounter

	mu   sync.Mutex
	last []music.Track

	wg sync.WaitGroup
}

// Option configures the service.
type Option func(*Service)

// WithOrder sets the ordering applied to fetched lists.
func WithOrder(order Order, counter PlayCounter) Option {
	return func(s *Service) {
		s.order = order
		s.counter = counter
	}
}

// NewService creates the asset index.
func NewService(source Source, store Store, assets AssetCache, net Connectivity, opts ...Option) *Service {
	s := &Service{
		source: source,
		store:  store,
		assets: assets,
		net:    net,
		order:  OrderAsIs,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ResolveTracks returns the best available track list.
//
// Online, the remote index wins; the result is persisted and its assets queued for
// caching without blocking the caller. Offline, or when the remote fetch fails, the
// stored list is used. The last list resolved in this process is the final fallback.
func (s *Service) ResolveTracks(ctx context.Context) ([]music.Track, error) {
	var cause error

	if s.net.Current() {
		tracks, err := s.source.Fetch(ctx)
		switch {
		case err != nil:
			cause = err
			log.Warn().Err(err).Msg("Remote index fetch failed, falling back to store")
		case len(tracks) == 0:
			log.Warn().Msg("Remote index is empty, falling back to store")
		default:
			tracks = s.arrange(tracks)
			s.carryDurations(tracks)
			s.remember(tracks)
			s.persist(tracks)
			for _, t := range tracks {
				for _, locator := range t.Locators() {
					s.assets.EnsureCached(locator)
				}
			}
			log.Info().Int("tracks", len(tracks)).Msg("Resolved tracks from remote index")
			return clone(tracks), nil
		}
	}

	stored, err := s.store.GetAll()
	if err != nil {
		cause = err
		log.Warn().Err(err).Msg("Failed to read stored tracks")
	}
	if len(stored) > 0 {
		s.remember(stored)
		log.Info().Int("tracks", len(stored)).Msg("Resolved tracks from store")
		return stored, nil
	}

	s.mu.Lock()
	last := clone(s.last)
	s.mu.Unlock()
	if len(last) > 0 {
		log.Info().Int("tracks", len(last)).Msg("Resolved tracks from memory")
		return last, nil
	}

	return nil, music.NewError(music.KindSourceUnavailable, "", "No tracks available", cause)
}

// Watch re-resolves on every connectivity transition until ctx is done.
// onError receives a classified error when resolution fails.
func (s *Service) Watch(ctx context.Context, onResolved func([]music.Track), onError func(error)) {
	unsubscribe := s.net.Subscribe(func(online bool) {
		go func() {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Bool("online", online).Msg("Connectivity changed, refetching tracks")
			tracks, err := s.ResolveTracks(ctx)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onResolved(tracks)
		}()
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// Wait blocks until pending store writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// persist writes the list in the background. Failures are logged only.
func (s *Service) persist(tracks []music.Track) {
	snapshot := clone(tracks)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.store.PutAll(snapshot); err != nil {
			log.Warn().Err(err).Str("kind", string(music.KindPersistenceWriteFailed)).Msg("Failed to persist tracks")
		}
	}()
}

// carryDurations fills durations the remote index does not know from the last
// resolved list and the store, so a refetch never erases discovered values.
func (s *Service) carryDurations(tracks []music.Track) {
	known := make(map[string]float64)

	s.mu.Lock()
	for _, t := range s.last {
		if t.HasDuration() {
			known[t.ID] = t.DurationSeconds
		}
	}
	s.mu.Unlock()

	stored, err := s.store.GetAll()
	if err != nil {
		log.Debug().Err(err).Msg("Stored durations unavailable")
	}
	for _, t := range stored {
		if t.HasDuration() {
			known[t.ID] = t.DurationSeconds
		}
	}

	for i := range tracks {
		if tracks[i].HasDuration() {
			continue
		}
		if d, ok := known[tracks[i].ID]; ok {
			tracks[i].DurationSeconds = d
		}
	}
}

func (s *Service) remember(tracks []music.Track) {
	s.mu.Lock()
	s.last = clone(tracks)
	s.mu.Unlock()
}

// arrange applies the configured order. Ties keep their original position.
func (s *Service) arrange(tracks []music.Track) []music.Track {
	if s.order != OrderPopularity || s.counter == nil {
		return tracks
	}
	counts := s.counter.PlayCounts()
	sort.SliceStable(tracks, func(i, j int) bool {
		return counts[tracks[i].ID] > counts[tracks[j].ID]
	})
	return tracks
}

func clone(tracks []music.Track) []music.Track {
	if tracks == nil {
		return nil
	}
	out := make([]music.Track, len(tracks))
	copy(out, tracks)
	return out
}
