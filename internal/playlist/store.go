package playlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cantabile/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when a playlist or track ID is unknown.
	ErrNotFound = errors.New("playlist: not found")
	// ErrEmptyName is returned when a playlist name is empty after trimming.
	ErrEmptyName = errors.New("playlist: name cannot be empty")
	// ErrParse wraps malformed or incomplete playlist files.
	ErrParse = errors.New("playlist: invalid playlist file")
)

// entry pairs a playlist with its own mutation lock so two playlists can be
// modified concurrently while mutations of one are serialized.
type entry struct {
	mu        sync.Mutex
	playlist  *models.Playlist
	createdAt time.Time
}

// Store owns the full set of loaded playlists. All mutation goes through the
// store; callers only ever receive clones. Persistence is explicit via Save,
// never automatic on mutation, so callers can batch edits before touching
// disk.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *logrus.Logger
}

// NewStore creates an empty playlist store.
func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Store{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Create allocates a new empty playlist with a fresh unique ID.
func (s *Store) Create(name string) (*models.Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	p := models.NewPlaylist(name)

	s.mu.Lock()
	s.entries[p.ID] = &entry{playlist: p, createdAt: time.Now()}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"playlist_id": p.ID,
		"name":        name,
	}).Info("Created playlist")

	return p.Clone(), nil
}

// lookup returns the live entry for a playlist ID.
func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: playlist %s", ErrNotFound, id)
	}
	return e, nil
}

// Get returns a copy of the playlist with the given ID.
func (s *Store) Get(id string) (*models.Playlist, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playlist.Clone(), nil
}

// All returns copies of every loaded playlist, oldest first.
func (s *Store) All() []*models.Playlist {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].playlist.Name < entries[j].playlist.Name
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	out := make([]*models.Playlist, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.playlist.Clone())
		e.mu.Unlock()
	}
	return out
}

// AddTrack appends a track to the playlist. Duplicates are allowed.
func (s *Store) AddTrack(playlistID string, track models.Track) error {
	e, err := s.lookup(playlistID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.playlist.Tracks = append(e.playlist.Tracks, track)
	e.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"playlist_id": playlistID,
		"track_id":    track.ID,
		"title":       track.Title,
	}).Debug("Added track to playlist")
	return nil
}

// RemoveTrack removes the first track matching the given ID. Removing a
// track that is not present fails with ErrNotFound.
func (s *Store) RemoveTrack(playlistID, trackID string) error {
	e, err := s.lookup(playlistID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, t := range e.playlist.Tracks {
		if t.ID == trackID {
			e.playlist.Tracks = append(e.playlist.Tracks[:i], e.playlist.Tracks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: track %s in playlist %s", ErrNotFound, trackID, playlistID)
}

// Clear empties the playlist's track list.
func (s *Store) Clear(playlistID string) error {
	e, err := s.lookup(playlistID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.playlist.Tracks = e.playlist.Tracks[:0]
	e.mu.Unlock()
	return nil
}

// Rename changes a playlist's display name.
func (s *Store) Rename(playlistID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	e, err := s.lookup(playlistID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.playlist.Name = name
	e.mu.Unlock()
	return nil
}

// FilePath returns the canonical backing file path for a playlist ID.
func FilePath(dir, playlistID string) string {
	return filepath.Join(dir, playlistID+".json")
}

// Save serializes the playlist to dir/<id>.json. The document is written to
// a temporary file first and renamed into place so a crash mid-write can
// never corrupt an existing playlist file.
func (s *Store) Save(playlistID, dir string) error {
	e, err := s.lookup(playlistID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create playlists directory: %w", err)
	}

	e.mu.Lock()
	data, err := json.MarshalIndent(e.playlist, "", "  ")
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode playlist %s: %w", playlistID, err)
	}

	tmp := filepath.Join(dir, "."+playlistID+".json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write playlist file: %w", err)
	}
	if err := os.Rename(tmp, FilePath(dir, playlistID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace playlist file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"playlist_id": playlistID,
		"file":        FilePath(dir, playlistID),
	}).Debug("Saved playlist")
	return nil
}

// Delete removes the playlist's backing file and drops it from memory.
func (s *Store) Delete(playlistID, dir string) error {
	s.mu.Lock()
	_, ok := s.entries[playlistID]
	if ok {
		delete(s.entries, playlistID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: playlist %s", ErrNotFound, playlistID)
	}

	if err := os.Remove(FilePath(dir, playlistID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove playlist file: %w", err)
	}

	s.logger.WithField("playlist_id", playlistID).Info("Deleted playlist")
	return nil
}

// LoadOne reads and validates a single playlist file.
func LoadOne(path string) (*models.Playlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist file: %w", err)
	}

	var p models.Playlist
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: %s: missing id", ErrParse, path)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: %s: missing name", ErrParse, path)
	}
	if p.Tracks == nil {
		p.Tracks = make([]models.Track, 0)
	}
	for i, t := range p.Tracks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: %s: track %d missing id", ErrParse, path, i)
		}
		if t.DurationMS < 0 {
			return nil, fmt.Errorf("%w: %s: track %d has negative duration", ErrParse, path, i)
		}
	}
	return &p, nil
}

// Load scans dir (non-recursively) for playlist files and loads every one
// that parses. A file that fails to parse is skipped with a warning; one
// corrupt playlist never blocks the rest of the library.
func (s *Store) Load(dir string) ([]*models.Playlist, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read playlists directory: %w", err)
	}

	var loaded []*models.Playlist
	for _, de := range dirEntries {
		if de.IsDir() || !isPlaylistFile(de.Name()) {
			continue
		}

		path := filepath.Join(dir, de.Name())
		p, err := LoadOne(path)
		if err != nil {
			s.logger.WithError(err).WithField("file", path).Warn("Skipping unreadable playlist file")
			continue
		}

		info, _ := de.Info()
		created := time.Now()
		if info != nil {
			created = info.ModTime()
		}

		s.mu.Lock()
		s.entries[p.ID] = &entry{playlist: p, createdAt: created}
		s.mu.Unlock()
		loaded = append(loaded, p.Clone())
	}

	s.logger.WithFields(logrus.Fields{
		"dir":   dir,
		"count": len(loaded),
	}).Info("Loaded playlists")
	return loaded, nil
}

// isPlaylistFile reports whether a filename follows the <uuid>.json naming
// convention used by Save. Hidden and temporary files never match.
func isPlaylistFile(name string) bool {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return false
	}
	stem := strings.TrimSuffix(name, ".json")
	_, err := uuid.Parse(stem)
	return err == nil
}
