package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Track represents one playable audio item: a stable identity plus the
// metadata needed to display and play it. Tracks are immutable once created.
type Track struct {
	ID         string `json:"id"`
	Path       string `json:"path"` // local file path or remote locator
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMS int64  `json:"duration_ms"`
	Cover      []byte `json:"cover_base64"` // embedded cover art, nil if none
}

// Duration returns the track length as a time.Duration.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMS) * time.Millisecond
}

// NewFallbackTrack builds a track for a file whose metadata could not be
// read: the filename stem becomes the title and artist/album get placeholders.
func NewFallbackTrack(path string) Track {
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	if title == "" {
		title = "Unknown"
	}

	return Track{
		ID:     uuid.New().String(),
		Path:   path,
		Title:  title,
		Artist: "Unknown Artist",
		Album:  "Unknown Album",
	}
}
