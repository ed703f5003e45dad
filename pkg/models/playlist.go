package models

import "github.com/google/uuid"

// Playlist is a named, ordered collection of tracks. Insertion order is
// significant and duplicate tracks are allowed. The JSON shape of this
// struct is the on-disk playlist file format.
type Playlist struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Tracks []Track `json:"tracks"`
}

// NewPlaylist creates an empty playlist with a fresh unique ID.
func NewPlaylist(name string) *Playlist {
	return &Playlist{
		ID:     uuid.New().String(),
		Name:   name,
		Tracks: make([]Track, 0),
	}
}

// Clone returns a deep copy so callers can hold a playlist without aliasing
// the store's mutable state.
func (p *Playlist) Clone() *Playlist {
	tracks := make([]Track, len(p.Tracks))
	copy(tracks, p.Tracks)
	return &Playlist{
		ID:     p.ID,
		Name:   p.Name,
		Tracks: tracks,
	}
}
