package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DAO provides data access operations for the database.
type DAO struct {
	db *DB
}

// NewDAO creates a new DAO instance.
func NewDAO(db *DB) *DAO {
	return &DAO{db: db}
}

// --- Song Operations ---

// ReplaceSongs clears the songs table and inserts the given list in one transaction.
// On failure the transaction is rolled back and the previous contents stay visible.
func (dao *DAO) ReplaceSongs(songs []*CachedSong) error {
	tx, err := dao.db.BeginTx()
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM songs"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear songs: %w", err)
	}

	now := time.Now().Format(time.RFC3339)
	stmt, err := tx.Prepare(`
		INSERT INTO songs (id, position, title, artist, audio_locator, cover_locator, duration, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, song := range songs {
		if _, err := stmt.Exec(song.ID, i, song.Title, song.Artist, song.AudioLocator,
			song.CoverLocator, song.Duration, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert song %s: %w", song.ID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO cache_meta (key, value, updated_at) VALUES ('songs_stored_at', ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, now, now, now, now); err != nil {
		tx.Rollback()
		return fmt.Errorf("update meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit songs: %w", err)
	}

	log.Debug().Int("count", len(songs)).Msg("Songs stored")
	return nil
}

// ListSongs returns every stored song in list order.
func (dao *DAO) ListSongs() ([]*CachedSong, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	rows, err := db.Query(`
		SELECT id, position, title, artist, audio_locator, cover_locator, duration, stored_at
		FROM songs ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	songs := make([]*CachedSong, 0)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// GetSong retrieves a song by ID. Returns nil, nil when missing.
func (dao *DAO) GetSong(id string) (*CachedSong, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	row := db.QueryRow(`
		SELECT id, position, title, artist, audio_locator, cover_locator, duration, stored_at
		FROM songs WHERE id = ?
	`, id)

	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return song, nil
}

// UpdateSongDuration records a discovered duration.
func (dao *DAO) UpdateSongDuration(id string, seconds float64) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	_, err := db.Exec("UPDATE songs SET duration = ? WHERE id = ?", seconds, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row rowScanner) (*CachedSong, error) {
	song := &CachedSong{}
	var cover, storedAt sql.NullString
	var duration sql.NullFloat64

	if err := row.Scan(&song.ID, &song.Position, &song.Title, &song.Artist,
		&song.AudioLocator, &cover, &duration, &storedAt); err != nil {
		return nil, err
	}

	if cover.Valid {
		song.CoverLocator = cover.String
	}
	if duration.Valid {
		song.Duration = duration.Float64
	}
	if storedAt.Valid {
		song.StoredAt, _ = time.Parse(time.RFC3339, storedAt.String)
	}
	return song, nil
}

// --- Asset Operations ---

// InsertAssetEntry inserts or replaces an asset index entry.
func (dao *DAO) InsertAssetEntry(entry *AssetEntry) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	fetchedAt := entry.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO asset_entries (locator, partition, file_path, content_type, size, checksum, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(locator) DO UPDATE SET
			partition = ?, file_path = ?, content_type = ?, size = ?, checksum = ?, fetched_at = ?
	`,
		entry.Locator, entry.Partition, entry.FilePath, entry.ContentType, entry.Size, entry.Checksum,
		fetchedAt.Format(time.RFC3339),
		entry.Partition, entry.FilePath, entry.ContentType, entry.Size, entry.Checksum,
		fetchedAt.Format(time.RFC3339),
	)
	return err
}

// GetAssetEntry retrieves an asset entry by locator. Returns nil, nil when missing.
func (dao *DAO) GetAssetEntry(locator string) (*AssetEntry, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	entry := &AssetEntry{}
	var contentType, checksum, fetchedAt sql.NullString

	err := db.QueryRow(`
		SELECT locator, partition, file_path, content_type, size, checksum, fetched_at
		FROM asset_entries WHERE locator = ?
	`, locator).Scan(&entry.Locator, &entry.Partition, &entry.FilePath, &contentType,
		&entry.Size, &checksum, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if contentType.Valid {
		entry.ContentType = contentType.String
	}
	if checksum.Valid {
		entry.Checksum = checksum.String
	}
	if fetchedAt.Valid {
		entry.FetchedAt, _ = time.Parse(time.RFC3339, fetchedAt.String)
	}
	return entry, nil
}

// DeleteAssetEntry removes an index entry whose payload went missing on disk.
func (dao *DAO) DeleteAssetEntry(locator string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	_, err := db.Exec("DELETE FROM asset_entries WHERE locator = ?", locator)
	return err
}

// --- Meta Operations ---

// SetMeta stores a metadata value.
func (dao *DAO) SetMeta(key, value string) error {
	if dao.db.DB() == nil {
		return fmt.Errorf("database not open")
	}
	return dao.db.setMeta(key, value)
}

// GetMeta reads a metadata value. Missing keys return "".
func (dao *DAO) GetMeta(key string) (string, error) {
	if dao.db.DB() == nil {
		return "", fmt.Errorf("database not open")
	}
	return dao.db.getMeta(key)
}

// Stats returns database statistics.
func (dao *DAO) Stats() (*Stats, error) {
	return dao.db.GetStats()
}

// LogStats logs database statistics.
func (dao *DAO) LogStats() {
	stats, err := dao.db.GetStats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get database stats")
		return
	}

	log.Info().
		Int("songs", stats.SongCount).
		Int("media", stats.MediaEntries).
		Int64("mediaBytes", stats.MediaBytes).
		Int("shell", stats.ShellEntries).
		Str("schema", stats.SchemaVersion).
		Msg("Database stats")
}
