// Package library maintains the local music library: a sqlite catalog of
// scanned tracks plus a scanner and filesystem watcher that keep it current.
package library

import (
	"database/sql"
	"fmt"
	"time"

	"cantabile/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Index wraps a *sql.DB holding the track catalog. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Index struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for better performance
	upsertStmt    *sql.Stmt
	getByPathStmt *sql.Stmt
	removeStmt    *sql.Stmt
	searchStmt    *sql.Stmt
}

// OpenIndex opens (or creates) the sqlite catalog at the provided path and
// ensures the schema exists. It applies lightweight performance-oriented
// pragmas (WAL, cache sizing). Caller should Close() it when finished.
func OpenIndex(dbPath string, logger *logrus.Logger) (*Index, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open library index: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5) // SQLite works better with fewer connections
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	// Enable WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	idx := &Index{
		conn:   conn,
		logger: logger,
	}

	if err := idx.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := idx.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Library index initialized")
	return idx, nil
}

// createTables creates the catalog schema if it does not already exist.
// Idempotent and safe to call multiple times.
func (idx *Index) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		album TEXT NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		file_path TEXT NOT NULL UNIQUE,
		has_cover BOOLEAN DEFAULT FALSE,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist);
	CREATE INDEX IF NOT EXISTS idx_tracks_album ON tracks(album);
	CREATE INDEX IF NOT EXISTS idx_tracks_file_path ON tracks(file_path);
	`
	if _, err := idx.conn.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (idx *Index) prepareStatements() error {
	var err error

	idx.upsertStmt, err = idx.conn.Prepare(`
		INSERT INTO tracks (id, title, artist, album, duration_ms, file_path, has_cover)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration_ms = excluded.duration_ms,
			has_cover = excluded.has_cover`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}

	idx.getByPathStmt, err = idx.conn.Prepare(`
		SELECT id, title, artist, album, duration_ms, file_path
		FROM tracks WHERE file_path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare lookup statement: %w", err)
	}

	idx.removeStmt, err = idx.conn.Prepare(`DELETE FROM tracks WHERE file_path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove statement: %w", err)
	}

	idx.searchStmt, err = idx.conn.Prepare(`
		SELECT id, title, artist, album, duration_ms, file_path
		FROM tracks
		WHERE title LIKE ? OR artist LIKE ? OR album LIKE ?
		ORDER BY artist, album, title`)
	if err != nil {
		return fmt.Errorf("failed to prepare search statement: %w", err)
	}

	return nil
}

// Upsert inserts a track or refreshes the row for its file path.
func (idx *Index) Upsert(track models.Track) error {
	_, err := idx.upsertStmt.Exec(
		track.ID, track.Title, track.Artist, track.Album,
		track.DurationMS, track.Path, track.Cover != nil)
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", track.Path, err)
	}
	return nil
}

// GetByPath returns the indexed track for a file path.
func (idx *Index) GetByPath(filePath string) (*models.Track, error) {
	var t models.Track
	err := idx.getByPathStmt.QueryRow(filePath).Scan(
		&t.ID, &t.Title, &t.Artist, &t.Album, &t.DurationMS, &t.Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up track %s: %w", filePath, err)
	}
	return &t, nil
}

// RemoveByPath deletes the catalog row for a file path.
func (idx *Index) RemoveByPath(filePath string) error {
	if _, err := idx.removeStmt.Exec(filePath); err != nil {
		return fmt.Errorf("failed to remove track %s: %w", filePath, err)
	}
	return nil
}

// All returns every indexed track ordered by artist, album, title.
func (idx *Index) All() ([]models.Track, error) {
	rows, err := idx.conn.Query(`
		SELECT id, title, artist, album, duration_ms, file_path
		FROM tracks ORDER BY artist, album, title`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	return scanTracks(rows)
}

// Search returns indexed tracks whose title, artist or album contains the
// query string.
func (idx *Index) Search(query string) ([]models.Track, error) {
	pattern := "%" + query + "%"
	rows, err := idx.searchStmt.Query(pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search tracks: %w", err)
	}
	defer rows.Close()

	return scanTracks(rows)
}

func scanTracks(rows *sql.Rows) ([]models.Track, error) {
	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.Title, &t.Artist, &t.Album, &t.DurationMS, &t.Path); err != nil {
			return nil, fmt.Errorf("failed to scan track row: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// Count returns the number of indexed tracks.
func (idx *Index) Count() (int, error) {
	var n int
	if err := idx.conn.QueryRow(`SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// Close releases the prepared statements and the connection.
func (idx *Index) Close() error {
	for _, stmt := range []*sql.Stmt{idx.upsertStmt, idx.getByPathStmt, idx.removeStmt, idx.searchStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return idx.conn.Close()
}
