package cache

import "time"

// Asset partitions, mirroring the app-shell and media caches of the web player.
const (
	PartitionShell = "shell"
	PartitionMedia = "media"
)

// CachedSong is a track row in the offline mirror.
type CachedSong struct {
	ID           string    `json:"id"`
	Position     int       `json:"position"` // order in the resolved list
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	AudioLocator string    `json:"audioLocator"`
	CoverLocator string    `json:"coverLocator"`
	Duration     float64   `json:"duration"` // seconds, 0 if unknown
	StoredAt     time.Time `json:"storedAt"`
}

// AssetEntry indexes one cached payload.
type AssetEntry struct {
	Locator     string    `json:"locator"`
	Partition   string    `json:"partition"`
	FilePath    string    `json:"filePath"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"` // MD5 of payload
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Stats provides statistics about the database.
type Stats struct {
	SongCount     int       `json:"songCount"`
	MediaEntries  int       `json:"mediaEntries"`
	MediaBytes    int64     `json:"mediaBytes"`
	ShellEntries  int       `json:"shellEntries"`
	ShellBytes    int64     `json:"shellBytes"`
	SchemaVersion string    `json:"schemaVersion"`
	SongsStoredAt time.Time `json:"songsStoredAt"`
}
