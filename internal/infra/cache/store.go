package cache

import (
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// SongStore exposes the songs table as a music.Track store.
type SongStore struct {
	dao *DAO
}

// NewSongStore creates a store backed by the DAO.
func NewSongStore(dao *DAO) *SongStore {
	return &SongStore{dao: dao}
}

// PutAll replaces the stored list atomically.
func (s *SongStore) PutAll(tracks []music.Track) error {
	songs := make([]*CachedSong, len(tracks))
	for i, t := range tracks {
		songs[i] = fromTrack(i, t)
	}
	return s.dao.ReplaceSongs(songs)
}

// GetAll returns the stored tracks in list order. Never populated means an empty slice.
func (s *SongStore) GetAll() ([]music.Track, error) {
	songs, err := s.dao.ListSongs()
	if err != nil {
		return nil, err
	}
	tracks := make([]music.Track, len(songs))
	for i, song := range songs {
		tracks[i] = song.Track()
	}
	return tracks, nil
}

// GetByID returns the stored track, or nil when missing.
func (s *SongStore) GetByID(id string) (*music.Track, error) {
	song, err := s.dao.GetSong(id)
	if err != nil || song == nil {
		return nil, err
	}
	t := song.Track()
	return &t, nil
}

// UpdateDuration records a duration discovered during playback or preload.
func (s *SongStore) UpdateDuration(id string, seconds float64) error {
	return s.dao.UpdateSongDuration(id, seconds)
}

// Track converts the row into a music.Track.
func (c *CachedSong) Track() music.Track {
	return music.Track{
		ID:              c.ID,
		Title:           c.Title,
		Artist:          c.Artist,
		AudioLocator:    c.AudioLocator,
		CoverLocator:    c.CoverLocator,
		DurationSeconds: c.Duration,
	}
}

func fromTrack(position int, t music.Track) *CachedSong {
	return &CachedSong{
		ID:           t.ID,
		Position:     position,
		Title:        t.Title,
		Artist:       t.Artist,
		AudioLocator: t.AudioLocator,
		CoverLocator: t.CoverLocator,
		Duration:     t.DurationSeconds,
	}
}
