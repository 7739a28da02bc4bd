package socketio

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// refetchTimeout bounds a client-requested track list refresh.
const refetchTimeout = 30 * time.Second

// CacheStatusResponse represents the cache status response.
type CacheStatusResponse struct {
	SongCount     int    `json:"songCount"`
	MediaEntries  int    `json:"mediaEntries"`
	MediaBytes    int64  `json:"mediaBytes"`
	ShellEntries  int    `json:"shellEntries"`
	ShellBytes    int64  `json:"shellBytes"`
	SongsStoredAt string `json:"songsStoredAt,omitempty"`
	SchemaVersion string `json:"schemaVersion"`
}

// HistoryEntry is one pushHistory item.
type HistoryEntry struct {
	TrackID   string `json:"trackId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Origin    string `json:"origin"`
	PlayedAt  string `json:"playedAt"`
	PlayCount int    `json:"playCount"`
}

func (s *Server) catalogCommands() map[string]handlerFunc {
	cmds := map[string]handlerFunc{}

	if s.deps.Tracks != nil {
		cmds["refetchTracks"] = func(reply emitter, args []any) {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.refetch(reply)
			}()
		}
	}

	if s.deps.Cache != nil {
		cmds["getCacheStatus"] = func(reply emitter, args []any) {
			s.handleGetCacheStatus(reply)
		}
	}

	if s.deps.History != nil {
		cmds["getHistory"] = func(reply emitter, args []any) {
			limit := 20
			if n, ok := argNumber(args, "limit"); ok && n > 0 {
				limit = int(n)
			}
			entries := s.deps.History.LastPlayed(limit)
			out := make([]HistoryEntry, 0, len(entries))
			for _, e := range entries {
				out = append(out, HistoryEntry{
					TrackID:   e.TrackID,
					Title:     e.Title,
					Artist:    e.Artist,
					Origin:    string(e.Origin),
					PlayedAt:  e.PlayedAt.Format(time.RFC3339),
					PlayCount: e.PlayCount,
				})
			}
			reply.Emit("pushHistory", out)
		}
	}

	return cmds
}

// refetch resolves the track list again and hands it to the engine.
// The engine announces the new list to every client.
func (s *Server) refetch(reply emitter) {
	ctx, cancel := s.contextWithTimeout(refetchTimeout)
	defer cancel()

	tracks, err := s.deps.Tracks.ResolveTracks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Track refetch failed")
		merr := music.NewError(music.KindSourceUnavailable, "", "No tracks available", err)
		if k := music.KindOf(err); k != "" {
			merr.Kind = k
		}
		reply.Emit("pushError", errorPayload(merr))
		return
	}

	s.deps.Player.SetTracks(tracks)
	log.Info().Int("tracks", len(tracks)).Msg("Track list refetched")
}

// handleGetCacheStatus handles the getCacheStatus event.
func (s *Server) handleGetCacheStatus(reply emitter) {
	stats, err := s.deps.Cache.Stats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get cache status")
		reply.Emit("pushCacheStatus", CacheStatusResponse{})
		return
	}

	resp := CacheStatusResponse{
		SongCount:     stats.SongCount,
		MediaEntries:  stats.MediaEntries,
		MediaBytes:    stats.MediaBytes,
		ShellEntries:  stats.ShellEntries,
		ShellBytes:    stats.ShellBytes,
		SchemaVersion: stats.SchemaVersion,
	}
	if !stats.SongsStoredAt.IsZero() {
		resp.SongsStoredAt = stats.SongsStoredAt.Format(time.RFC3339)
	}

	log.Debug().
		Int("songs", resp.SongCount).
		Int("media", resp.MediaEntries).
		Msg("Sending pushCacheStatus")

	reply.Emit("pushCacheStatus", resp)
}
