// Package audio plays tracks on the local sound card and reports the active output format.
package audio

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Format describes what the output is currently rendering.
type Format struct {
	SampleRate int    `json:"sampleRate"` // Hz
	BitDepth   int    `json:"bitDepth"`
	Channels   int    `json:"channels"`
	Output     string `json:"output"` // "speaker", "mpd"
	Resampled  bool   `json:"resampled"`
}

// Status is the output status exposed to clients.
type Status struct {
	Active bool    `json:"active"` // true while audio is being rendered
	Format *Format `json:"format"` // nil when nothing is loaded
}

// Controller tracks the output status. Outputs update it, transports read it.
type Controller struct {
	mu     sync.RWMutex
	active bool
	format *Format
}

// NewController creates a new audio controller.
func NewController() *Controller {
	return &Controller{}
}

// GetStatus returns the current output status.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var f *Format
	if c.format != nil {
		copied := *c.format
		f = &copied
	}
	return Status{Active: c.active, Format: f}
}

// SetFormat records the format of a freshly loaded track.
func (c *Controller) SetFormat(f *Format) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed = !formatEqual(c.format, f)
	c.format = f
	if changed {
		log.Debug().Interface("format", f).Msg("Output format changed")
	}
	return changed
}

// UpdateFromMPDStatus updates the status from MPD status fields.
// mpdState is "play", "pause" or "stop"; audio is "samplerate:bits:channels" (e.g. "44100:24:2").
func (c *Controller) UpdateFromMPDStatus(mpdState, audio string) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasActive := c.active
	c.active = mpdState == "play"

	var f *Format
	if audio != "" {
		f = parseMPDFormat(audio)
	}
	formatChanged := f != nil && !formatEqual(c.format, f)
	if f != nil {
		c.format = f
	}

	changed = wasActive != c.active || formatChanged
	if changed {
		log.Debug().
			Bool("active", c.active).
			Interface("format", c.format).
			Msg("Audio status changed")
	}
	return changed
}

// OnPlaybackStart marks the output as active.
func (c *Controller) OnPlaybackStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
}

// OnPlaybackStop marks the output as idle.
func (c *Controller) OnPlaybackStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

// parseMPDFormat parses MPD's "samplerate:bits:channels". Bits may be "f" for float samples.
func parseMPDFormat(audio string) *Format {
	parts := strings.Split(audio, ":")
	if len(parts) < 2 {
		return nil
	}

	sampleRate, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}

	bitDepth := 32
	if parts[1] != "f" {
		if bitDepth, err = strconv.Atoi(parts[1]); err != nil {
			return nil
		}
	}

	channels := 2
	if len(parts) >= 3 {
		if ch, err := strconv.Atoi(parts[2]); err == nil {
			channels = ch
		}
	}

	return &Format{
		SampleRate: sampleRate,
		BitDepth:   bitDepth,
		Channels:   channels,
		Output:     "mpd",
	}
}

// FormatSampleRate returns a human-readable sample rate string.
func FormatSampleRate(sampleRate int) string {
	if sampleRate >= 1000 {
		return strconv.FormatFloat(float64(sampleRate)/1000, 'f', -1, 64) + "kHz"
	}
	return strconv.Itoa(sampleRate) + "Hz"
}

func formatEqual(a, b *Format) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
