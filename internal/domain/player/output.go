package player

import (
	"context"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// OutputEventKind identifies what an output reported.
type OutputEventKind int

const (
	OutputTick OutputEventKind = iota
	OutputEnded
	OutputFailed
)

// OutputEvent is reported by an Output. LoadID is the id passed to the Load that
// produced the playing resource, so late events from a previous track can be dropped.
type OutputEvent struct {
	LoadID   uint64
	Kind     OutputEventKind
	Position float64 // seconds
	Duration float64 // seconds, 0 if unknown
	Buffered float64 // percent 0-100
	Err      error
}

// Output is the single live audio resource owned by the Engine.
//
// Load replaces whatever is loaded and leaves it paused at position 0, returning
// the duration when known. Load and Play may block; the remaining methods must not.
type Output interface {
	Load(ctx context.Context, loadID uint64, track music.Track) (float64, error)
	Play(ctx context.Context) error
	Pause() error
	Seek(seconds float64) error
	SetVolume(v float64) error
	Events() <-chan OutputEvent
	Close() error
}
