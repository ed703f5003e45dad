package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTrackDuration(t *testing.T) {
	track := Track{DurationMS: 185000}
	if got := track.Duration(); got != 185*time.Second {
		t.Errorf("Expected 185s, got %s", got)
	}
}

func TestTrackJSONShape(t *testing.T) {
	t.Run("cover encodes as base64", func(t *testing.T) {
		track := Track{ID: "t1", Cover: []byte{0xFF, 0xD8}}
		data, err := json.Marshal(track)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"cover_base64":"/9g="`) {
			t.Errorf("Expected base64 cover field, got %s", data)
		}
	})

	t.Run("absent cover encodes as null", func(t *testing.T) {
		data, err := json.Marshal(Track{ID: "t1"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"cover_base64":null`) {
			t.Errorf("Expected null cover field, got %s", data)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		in := Track{
			ID: "t1", Path: "/m/a.mp3", Title: "A", Artist: "B", Album: "C",
			DurationMS: 1000, Cover: []byte{1, 2, 3},
		}
		data, _ := json.Marshal(in)
		var out Track
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		if out.ID != in.ID || out.Path != in.Path || string(out.Cover) != string(in.Cover) {
			t.Errorf("Round trip mismatch: %+v", out)
		}
	})
}

func TestNewFallbackTrack(t *testing.T) {
	track := NewFallbackTrack("/music/Some Song.mp3")
	if track.Title != "Some Song" {
		t.Errorf("Expected title from filename stem, got %q", track.Title)
	}
	if track.Artist != "Unknown Artist" || track.Album != "Unknown Album" {
		t.Errorf("Expected placeholder artist and album, got %q / %q", track.Artist, track.Album)
	}
	if track.ID == "" {
		t.Error("Expected a generated ID")
	}
}

func TestPlaylistClone(t *testing.T) {
	p := NewPlaylist("Mix")
	p.Tracks = append(p.Tracks, Track{ID: "t1", Title: "Original"})

	clone := p.Clone()
	clone.Name = "Changed"
	clone.Tracks[0].Title = "Changed"
	clone.Tracks = append(clone.Tracks, Track{ID: "t2"})

	if p.Name != "Mix" {
		t.Errorf("Clone mutation leaked into original name: %q", p.Name)
	}
	if p.Tracks[0].Title != "Original" {
		t.Errorf("Clone mutation leaked into original tracks: %q", p.Tracks[0].Title)
	}
	if len(p.Tracks) != 1 {
		t.Errorf("Clone append leaked into original, %d tracks", len(p.Tracks))
	}
}

func TestNewPlaylistTracksNeverNil(t *testing.T) {
	p := NewPlaylist("Empty")
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"tracks":[]`) {
		t.Errorf("Expected empty array, got %s", data)
	}
}
