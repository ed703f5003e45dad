package metadata

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testExtractor() *Extractor {
	return NewExtractor([]string{".mp3", ".flac", ".wav", ".m4a"}, testLogger())
}

// writeWAV writes a canonical 44-byte header followed by silent PCM data.
func writeWAV(t *testing.T, path string, sampleRate, channels, bitDepth, seconds int) {
	t.Helper()

	bytesPerFrame := channels * bitDepth / 8
	dataSize := sampleRate * bytesPerFrame * seconds

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*bytesPerFrame))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(bytesPerFrame))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitDepth))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIsAudioFile(t *testing.T) {
	e := testExtractor()

	cases := []struct {
		path string
		want bool
	}{
		{"/music/song.mp3", true},
		{"/music/song.MP3", true},
		{"/music/song.flac", true},
		{"/music/song.wav", true},
		{"/music/song.m4a", true},
		{"/music/song.ogg", false},
		{"/music/cover.jpg", false},
		{"/music/notes.txt", false},
		{"/music/no-extension", false},
	}
	for _, tc := range cases {
		if got := e.IsAudioFile(tc.path); got != tc.want {
			t.Errorf("IsAudioFile(%q) = %v, expected %v", tc.path, got, tc.want)
		}
	}
}

func TestCoverMimeType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
		{"unknown", []byte{0x00, 0x01, 0x02, 0x03}, "application/octet-stream"},
		{"too short", []byte{0xFF}, "application/octet-stream"},
		{"empty", nil, "application/octet-stream"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CoverMimeType(tc.data); got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestExtractFromMissingFile(t *testing.T) {
	e := testExtractor()
	if _, err := e.ExtractFromFile(filepath.Join(t.TempDir(), "nope.mp3")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestExtractFallsBackOnUnreadableTags(t *testing.T) {
	e := testExtractor()
	path := filepath.Join(t.TempDir(), "My Song.mp3")
	if err := os.WriteFile(path, []byte("this is not an mp3"), 0644); err != nil {
		t.Fatal(err)
	}

	track, err := e.ExtractFromFile(path)
	if err != nil {
		t.Fatalf("Expected fallback record, got error: %v", err)
	}
	if track.Title != "My Song" {
		t.Errorf("Expected title from filename, got %q", track.Title)
	}
	if track.Artist != "Unknown Artist" {
		t.Errorf("Expected 'Unknown Artist', got %q", track.Artist)
	}
	if track.Album != "Unknown Album" {
		t.Errorf("Expected 'Unknown Album', got %q", track.Album)
	}
	if track.ID == "" {
		t.Error("Expected a generated track ID")
	}
	if track.Path != path {
		t.Errorf("Expected path %s, got %s", path, track.Path)
	}
}

func TestExtractAssignsFreshIDs(t *testing.T) {
	e := testExtractor()
	path := filepath.Join(t.TempDir(), "song.mp3")
	os.WriteFile(path, []byte("junk"), 0644)

	a, err := e.ExtractFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.ExtractFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Errorf("Expected distinct IDs for repeated extraction, both got %s", a.ID)
	}
}

func TestExtractLyrics(t *testing.T) {
	e := testExtractor()

	t.Run("missing file yields empty", func(t *testing.T) {
		if got := e.ExtractLyrics(filepath.Join(t.TempDir(), "nope.mp3")); got != "" {
			t.Errorf("Expected empty lyrics, got %q", got)
		}
	})

	t.Run("untagged file yields empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "raw.mp3")
		os.WriteFile(path, []byte("no tags here"), 0644)
		if got := e.ExtractLyrics(path); got != "" {
			t.Errorf("Expected empty lyrics, got %q", got)
		}
	})
}

func TestWAVDuration(t *testing.T) {
	e := testExtractor()

	t.Run("computes from header and size", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tone.wav")
		writeWAV(t, path, 8000, 1, 16, 3)

		d, err := e.durationWAV(path)
		if err != nil {
			t.Fatalf("durationWAV failed: %v", err)
		}
		if d.Seconds() < 2.9 || d.Seconds() > 3.1 {
			t.Errorf("Expected about 3s, got %s", d)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fake.wav")
		os.WriteFile(path, []byte("RIFFgarbage"), 0644)
		if _, err := e.durationWAV(path); err == nil {
			t.Error("Expected error for invalid wav data")
		}
	})
}

func TestExtractWAVCarriesDuration(t *testing.T) {
	e := testExtractor()
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, 8000, 2, 16, 2)

	track, err := e.ExtractFromFile(path)
	if err != nil {
		t.Fatalf("ExtractFromFile failed: %v", err)
	}
	if track.DurationMS < 1900 || track.DurationMS > 2100 {
		t.Errorf("Expected about 2000ms, got %d", track.DurationMS)
	}
}
