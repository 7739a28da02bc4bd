package music

import (
	"errors"
	"fmt"
)

// Kind classifies failures the player surfaces or logs.
type Kind string

const (
	// KindSourceUnavailable means no track list could be produced.
	KindSourceUnavailable Kind = "SourceUnavailable"
	// KindAssetLoadFailed means a track's audio could not be loaded.
	KindAssetLoadFailed Kind = "AssetLoadFailed"
	// KindPlaybackRejected means the output declined an explicit play request.
	KindPlaybackRejected Kind = "PlaybackRejected"
	// KindCacheWriteFailed is logged only.
	KindCacheWriteFailed Kind = "CacheWriteFailed"
	// KindPersistenceWriteFailed is logged only.
	KindPersistenceWriteFailed Kind = "PersistenceWriteFailed"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrSourceUnavailable      = errors.New("no track source available")
	ErrAssetLoadFailed        = errors.New("asset load failed")
	ErrPlaybackRejected       = errors.New("playback rejected")
	ErrCacheWriteFailed       = errors.New("cache write failed")
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	ErrTrackNotFound          = errors.New("track not found")
)

var kindSentinels = map[Kind]error{
	KindSourceUnavailable:      ErrSourceUnavailable,
	KindAssetLoadFailed:        ErrAssetLoadFailed,
	KindPlaybackRejected:       ErrPlaybackRejected,
	KindCacheWriteFailed:       ErrCacheWriteFailed,
	KindPersistenceWriteFailed: ErrPersistenceWriteFailed,
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	TrackID string // empty when not scoped to a track
	Message string // user-facing text
	Err     error  // underlying cause
}

// NewError builds a classified error.
func NewError(kind Kind, trackID, message string, cause error) *Error {
	return &Error{Kind: kind, TrackID: trackID, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Recoverable reports whether a user action (retry, re-select, play again) can clear the error.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindAssetLoadFailed, KindPlaybackRejected, KindSourceUnavailable:
		return true
	default:
		return false
	}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}
