package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// snapshotKey is the cache_meta key holding the persisted snapshot.
const snapshotKey = "player_snapshot"

// SnapshotStore persists small string values.
type SnapshotStore interface {
	SetMeta(key, value string) error
	GetMeta(key string) (string, error)
}

// Bridge lets views come and go without touching the live output. Views capture a
// snapshot before they are torn down and restore it when they come back.
type Bridge struct {
	engine *Engine
	store  SnapshotStore

	mu    sync.Mutex
	saved *Snapshot
}

// NewBridge creates a bridge over engine. store may be nil.
func NewBridge(engine *Engine, store SnapshotStore) *Bridge {
	return &Bridge{engine: engine, store: store}
}

// CaptureSnapshot returns the current snapshot.
func (b *Bridge) CaptureSnapshot() Snapshot {
	return b.engine.Snapshot()
}

// RestoreSnapshot reapplies a snapshot. The current track is repositioned in place;
// a different track is cued at the saved position. Unknown ids are ignored.
func (b *Bridge) RestoreSnapshot(s Snapshot) {
	if s.LastTrackID == "" {
		return
	}
	if err := b.engine.Cue(s.LastTrackID, s.CurrentTime, s.IsPlaying); err != nil {
		if errors.Is(err, music.ErrTrackNotFound) {
			log.Debug().Str("id", s.LastTrackID).Msg("Ignoring snapshot for unknown track")
			return
		}
		log.Warn().Err(err).Msg("Failed to restore snapshot")
	}
}

// Persist writes the current snapshot when it changed since the last write.
func (b *Bridge) Persist() error {
	if b.store == nil {
		return nil
	}

	snap := b.CaptureSnapshot()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.saved != nil && *b.saved == snap {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := b.store.SetMeta(snapshotKey, string(data)); err != nil {
		log.Warn().Err(err).Str("kind", string(music.KindPersistenceWriteFailed)).Msg("Failed to persist snapshot")
		return err
	}

	b.saved = &snap
	return nil
}

// Load reads the persisted snapshot.
func (b *Bridge) Load() (Snapshot, bool) {
	if b.store == nil {
		return Snapshot{}, false
	}

	raw, err := b.store.GetMeta(snapshotKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read snapshot")
		return Snapshot{}, false
	}
	if raw == "" {
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		log.Warn().Err(err).Msg("Failed to parse snapshot")
		return Snapshot{}, false
	}
	return snap, true
}

// Prime hands tracks to the engine and cues the persisted track, or the first one.
// Nothing starts playing.
func (b *Bridge) Prime(tracks []music.Track) {
	b.engine.SetTracks(tracks)
	if len(tracks) == 0 {
		return
	}

	if snap, ok := b.Load(); ok && music.IndexOf(tracks, snap.LastTrackID) >= 0 {
		log.Info().Str("id", snap.LastTrackID).Float64("position", snap.CurrentTime).Msg("Resuming last track")
		b.engine.Cue(snap.LastTrackID, snap.CurrentTime, false)
		return
	}

	b.engine.Cue(tracks[0].ID, 0, false)
}

// Watch persists the snapshot every interval and once more when ctx ends.
func (b *Bridge) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				b.Persist()
				return
			case <-ticker.C:
				b.Persist()
			}
		}
	}()
}
