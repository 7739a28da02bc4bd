// Package player provides the playback engine and the snapshot bridge.
package player

import (
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// Status is the engine lifecycle state.
type Status string

// Status constants for player state
const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
	StatusError   Status = "error"
)

// Snapshot is the compact, persistable view of playback.
type Snapshot struct {
	LastTrackID string  `json:"lastTrackId"` // empty when nothing is selected
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
}

// ErrorInfo describes the last failure.
type ErrorInfo struct {
	Kind    music.Kind `json:"kind"`
	Message string     `json:"message"`
	TrackID string     `json:"trackId,omitempty"`
}

// State is a point-in-time copy of the engine state.
type State struct {
	Status     Status
	Track      *music.Track
	Position   float64 // seconds
	Duration   float64 // seconds, 0 if unknown
	Buffered   float64 // percent 0-100
	IsPlaying  bool
	Generation uint64

	Repeat  bool
	Shuffle bool

	Volume float64 // 0..1, kept while muted
	Mute   bool

	Error *ErrorInfo
}

// Snapshot extracts the persistable part of the state.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{CurrentTime: s.Position, IsPlaying: s.IsPlaying}
	if s.Track != nil {
		snap.LastTrackID = s.Track.ID
	}
	return snap
}

// ToJSON returns the state as a map suitable for the pushState event.
func (s State) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"status":    s.Status,
		"seek":      s.Position,
		"duration":  s.Duration,
		"buffered":  s.Buffered,
		"isPlaying": s.IsPlaying,
		"repeat":    s.Repeat,
		"random":    s.Shuffle,
		"volume":    s.Volume,
		"mute":      s.Mute,
		"elapsed":   FormatTime(s.Position),
		"total":     FormatTime(s.Duration),
	}

	if s.Track != nil {
		out["id"] = s.Track.ID
		out["title"] = s.Track.Title
		out["artist"] = s.Track.Artist
		out["albumart"] = s.Track.CoverLocator
		out["uri"] = s.Track.AudioLocator
	} else {
		out["id"] = nil
	}

	if s.Error != nil {
		out["error"] = s.Error
	}

	return out
}
