package library

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"cantabile/internal/metadata"
	"cantabile/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Scanner walks the library path through the metadata extractor and keeps
// the index in sync, optionally watching the directory tree for changes.
type Scanner struct {
	libraryPath string
	extractor   *metadata.Extractor
	index       *Index
	logger      *logrus.Logger
	watcher     *fsnotify.Watcher
}

// NewScanner creates a scanner over the given library path.
func NewScanner(libraryPath string, extractor *metadata.Extractor, index *Index, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Scanner{
		libraryPath: libraryPath,
		extractor:   extractor,
		index:       index,
		logger:      logger,
	}
}

// Scan walks the library and indexes every supported audio file that is not
// already cataloged. Returns the number of newly indexed tracks.
func (s *Scanner) Scan() (int, error) {
	start := time.Now()
	added := 0

	err := filepath.Walk(s.libraryPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable path")
			return nil
		}
		if info.IsDir() || !s.extractor.IsAudioFile(path) {
			return nil
		}

		existing, err := s.index.GetByPath(path)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		s.indexFile(path)
		added++
		return nil
	})
	if err != nil {
		return added, err
	}

	s.logger.WithFields(logrus.Fields{
		"library_path": s.libraryPath,
		"added":        added,
		"elapsed":      time.Since(start).String(),
	}).Info("Library scan complete")
	return added, nil
}

// indexFile extracts one file and upserts it, falling back to a
// filename-derived record when the tags are unreadable.
func (s *Scanner) indexFile(path string) {
	track, err := s.extractor.ExtractFromFile(path)
	if err != nil {
		track = models.NewFallbackTrack(path)
	}
	if err := s.index.Upsert(track); err != nil {
		s.logger.WithError(err).WithField("path", path).Error("Failed to index track")
	}
}

// StartWatcher begins monitoring the library tree for added and removed
// audio files.
func (s *Scanner) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Start monitoring in a goroutine
	go s.watchFiles()

	// Add the library directory tree to the watcher
	err = filepath.Walk(s.libraryPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return s.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithField("library_path", s.libraryPath).Info("Library watcher started")
	return nil
}

// StopWatcher stops filesystem monitoring.
func (s *Scanner) StopWatcher() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// watchFiles selects on watcher channels and dispatches events.
func (s *Scanner) watchFiles() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFileEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Error("Library watcher error")
		}
	}
}

// handleFileEvent applies filtering and delegates creation/removal actions.
func (s *Scanner) handleFileEvent(event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New subdirectory: watch it and pick up anything inside.
			if err := s.watcher.Add(event.Name); err != nil {
				s.logger.WithError(err).WithField("path", event.Name).Warn("Failed to watch new directory")
			}
			go s.Scan()
			return
		}
		if s.extractor.IsAudioFile(event.Name) {
			// Give the writer a moment to finish before reading tags.
			go func(path string) {
				time.Sleep(500 * time.Millisecond)
				s.indexFile(path)
			}(event.Name)
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if s.extractor.IsAudioFile(event.Name) {
			if err := s.index.RemoveByPath(event.Name); err != nil {
				s.logger.WithError(err).WithField("path", event.Name).Warn("Failed to deindex removed track")
			}
		}
	}
}
