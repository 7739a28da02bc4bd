package player

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// DefaultPreloadTimeout bounds the duration probe of a single track.
const DefaultPreloadTimeout = 3 * time.Second

// Prober opens a disposable handle on a track purely to read its duration.
type Prober interface {
	Probe(ctx context.Context, track music.Track) (float64, error)
}

// PreloadDurations probes every track without a known duration, one at a time.
// An unreachable track costs at most perTrack and stays unknown. Returns how many
// durations were discovered.
func (e *Engine) PreloadDurations(ctx context.Context, prober Prober, perTrack time.Duration) int {
	if perTrack <= 0 {
		perTrack = DefaultPreloadTimeout
	}

	found := 0
	for _, t := range e.Tracks() {
		if ctx.Err() != nil {
			break
		}
		if t.HasDuration() {
			continue
		}

		d, err := probeOne(ctx, prober, t, perTrack)
		if err != nil {
			log.Debug().Err(err).Str("id", t.ID).Msg("Duration probe failed")
			continue
		}
		e.ReportDuration(t.ID, d)
		found++
	}

	log.Info().Int("found", found).Msg("Duration preload finished")
	return found
}

func probeOne(ctx context.Context, prober Prober, t music.Track, timeout time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		d   float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := prober.Probe(ctx, t)
		done <- result{d, err}
	}()

	// a prober that ignores ctx must not stall the pass
	select {
	case r := <-done:
		if r.err != nil {
			return 0, r.err
		}
		if r.d <= 0 || math.IsNaN(r.d) || math.IsInf(r.d, 0) {
			return 0, fmt.Errorf("invalid duration %v", r.d)
		}
		return r.d, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// FormatTime renders seconds as m:ss.
func FormatTime(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "0:00"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
