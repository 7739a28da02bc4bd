package audio

import (
	"context"
	"fmt"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// MP3Prober reads track durations from the MP3 stream without playing it.
type MP3Prober struct {
	opener Opener
}

// NewMP3Prober creates a prober reading through opener.
func NewMP3Prober(opener Opener) *MP3Prober {
	return &MP3Prober{opener: opener}
}

// Probe implements player.Prober.
func (p *MP3Prober) Probe(ctx context.Context, track music.Track) (float64, error) {
	streamer, format, err := decode(ctx, p.opener, track)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()

	d := durationOf(format, streamer.Len())
	if d <= 0 {
		return 0, fmt.Errorf("decode %s: unknown length", track.AudioLocator)
	}
	return d, nil
}
