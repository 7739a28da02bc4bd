// Package history records which tracks were played, for popularity ordering.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

const (
	// DefaultMaxEntries caps the history length.
	DefaultMaxEntries = 1000

	// dedupeWindow merges repeated plays of one track.
	dedupeWindow = 5 * time.Second
)

// Origin says how a play started.
type Origin string

const (
	OriginManual Origin = "manual" // user picked the track
	OriginAuto   Origin = "auto"   // advanced by the player
)

// Entry is one play record.
type Entry struct {
	ID        string    `json:"id"`
	TrackID   string    `json:"trackId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Origin    Origin    `json:"origin"`
	PlayedAt  time.Time `json:"playedAt"`
	PlayCount int       `json:"playCount"`
}

// Store manages playback history persistence.
type Store struct {
	filePath   string
	entries    []Entry
	mu         sync.RWMutex
	maxEntries int

	saveMu sync.Mutex
	wg     sync.WaitGroup
}

// NewStore creates a history store persisted under dataDir.
func NewStore(dataDir string) *Store {
	s := &Store{
		filePath:   filepath.Join(dataDir, "playback_history.json"),
		entries:    []Entry{},
		maxEntries: DefaultMaxEntries,
	}
	s.load()
	return s
}

// RecordPlay records a track play event.
func (s *Store) RecordPlay(track music.Track, origin Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if this track was recently played to avoid duplicates
	now := time.Now()
	for i := len(s.entries) - 1; i >= 0 && i >= len(s.entries)-5; i-- {
		if s.entries[i].TrackID == track.ID && now.Sub(s.entries[i].PlayedAt) < dedupeWindow {
			s.entries[i].PlayedAt = now
			log.Debug().
				Str("id", track.ID).
				Str("origin", string(origin)).
				Msg("Skipped duplicate play history entry")
			return
		}
	}

	s.entries = append(s.entries, Entry{
		ID:        uuid.New().String(),
		TrackID:   track.ID,
		Title:     track.Title,
		Artist:    track.Artist,
		Origin:    origin,
		PlayedAt:  now,
		PlayCount: 1,
	})

	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}

	log.Info().
		Str("id", track.ID).
		Str("title", track.Title).
		Str("origin", string(origin)).
		Msg("Recorded play history")

	s.saveAsync()
}

// PlayCount returns the total play count for a track.
func (s *Store) PlayCount(trackID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if e.TrackID == trackID {
			count += e.PlayCount
		}
	}
	return count
}

// PlayCounts returns play counts for every track in the history.
func (s *Store) PlayCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range s.entries {
		counts[e.TrackID] += e.PlayCount
	}
	return counts
}

// LastPlayed returns the most recent entries, newest first.
func (s *Store) LastPlayed(limit int) []Entry {
	s.mu.RLock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PlayedAt.After(out[j].PlayedAt)
	})

	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Clear removes all history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = []Entry{}
	s.saveAsync()
	log.Info().Msg("Playback history cleared")
}

// Flush waits for pending writes.
func (s *Store) Flush() {
	s.wg.Wait()
}

// load reads history from disk.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", s.filePath).Msg("Failed to read playback history")
		}
		return
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Msg("Failed to parse playback history")
		return
	}

	s.entries = entries
	log.Info().Int("count", len(entries)).Msg("Loaded playback history")
}

// saveAsync saves history to disk asynchronously. Callers hold s.mu.
func (s *Store) saveAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Writers queue up; each one writes the latest entries
		s.saveMu.Lock()
		defer s.saveMu.Unlock()

		s.mu.RLock()
		entriesCopy := make([]Entry, len(s.entries))
		copy(entriesCopy, s.entries)
		s.mu.RUnlock()

		data, err := json.MarshalIndent(entriesCopy, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal playback history")
			return
		}

		if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
			log.Warn().Err(err).Str("kind", string(music.KindPersistenceWriteFailed)).Msg("Failed to create history directory")
			return
		}

		if err := os.WriteFile(s.filePath, data, 0644); err != nil {
			log.Warn().Err(err).Str("kind", string(music.KindPersistenceWriteFailed)).Msg("Failed to save playback history")
		}
	}()
}
