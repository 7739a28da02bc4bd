// Package music holds the track model shared by the catalog, the player and the stores.
package music

import (
	"path"
	"strings"
)

// Track is a single playable item.
// Everything except DurationSeconds is fixed once the track list is resolved.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	AudioLocator    string  `json:"audioLocator"`
	CoverLocator    string  `json:"coverLocator,omitempty"`
	DurationSeconds float64 `json:"duration"` // 0 until resolved
}

// HasDuration reports whether the duration has been discovered.
func (t Track) HasDuration() bool {
	return t.DurationSeconds > 0
}

// Locators returns the asset locators worth caching for offline use.
func (t Track) Locators() []string {
	locators := make([]string, 0, 2)
	if t.AudioLocator != "" {
		locators = append(locators, t.AudioLocator)
	}
	if t.CoverLocator != "" {
		locators = append(locators, t.CoverLocator)
	}
	return locators
}

// Descriptor is the wire shape served by the remote asset host.
type Descriptor struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Artist   string `json:"artist" yaml:"artist"`
	AudioURL string `json:"audioUrl" yaml:"audioUrl"`
	CoverURL string `json:"coverUrl" yaml:"coverUrl"`
}

// Track converts the descriptor into a Track.
func (d Descriptor) Track() Track {
	return Track{
		ID:           d.ID,
		Title:        strings.TrimSpace(d.Name),
		Artist:       strings.TrimSpace(d.Artist),
		AudioLocator: d.AudioURL,
		CoverLocator: d.CoverURL,
	}
}

// FromDescriptors converts a descriptor list, dropping entries without an id or audio locator.
// The first occurrence of a duplicated id wins.
func FromDescriptors(descs []Descriptor) []Track {
	tracks := make([]Track, 0, len(descs))
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if d.ID == "" || d.AudioURL == "" || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		tracks = append(tracks, d.Track())
	}
	return tracks
}

// IndexOf returns the position of the track with the given id, or -1.
func IndexOf(tracks []Track, id string) int {
	for i, t := range tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// ContentTypeFor guesses a content type from the locator extension.
func ContentTypeFor(locator string) string {
	p := locator
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".mp3":
		return "audio/mpeg"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".html":
		return "text/html; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
