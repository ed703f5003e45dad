package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cantabile/internal/metadata"
)

func testScanner(t *testing.T, libraryPath string) (*Scanner, *Index) {
	t.Helper()
	idx := openTestIndex(t)
	extractor := metadata.NewExtractor([]string{".mp3", ".wav"}, testLogger())
	return NewScanner(libraryPath, extractor, idx, testLogger()), idx
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("placeholder audio data"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScan(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, filepath.Join(lib, "one.mp3"))
	writeFile(t, filepath.Join(lib, "albums", "two.mp3"))
	writeFile(t, filepath.Join(lib, "cover.jpg"))
	writeFile(t, filepath.Join(lib, "notes.txt"))

	scanner, idx := testScanner(t, lib)

	added, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if added != 2 {
		t.Errorf("Expected 2 new tracks, got %d", added)
	}

	n, err := idx.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 indexed tracks, got %d", n)
	}

	// Tags are unreadable for placeholder data, so records fall back to
	// filename-derived titles.
	track, err := idx.GetByPath(filepath.Join(lib, "one.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if track == nil || track.Title != "one" {
		t.Errorf("Expected fallback title 'one', got %+v", track)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, filepath.Join(lib, "one.mp3"))

	scanner, idx := testScanner(t, lib)
	if _, err := scanner.Scan(); err != nil {
		t.Fatal(err)
	}

	added, err := scanner.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Errorf("Expected re-scan to add nothing, got %d", added)
	}
	n, _ := idx.Count()
	if n != 1 {
		t.Errorf("Expected 1 indexed track after re-scan, got %d", n)
	}
}

func TestWatcherIndexesNewFiles(t *testing.T) {
	lib := t.TempDir()
	scanner, idx := testScanner(t, lib)

	if err := scanner.StartWatcher(); err != nil {
		t.Fatalf("StartWatcher failed: %v", err)
	}
	defer scanner.StopWatcher()

	writeFile(t, filepath.Join(lib, "fresh.mp3"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		track, err := idx.GetByPath(filepath.Join(lib, "fresh.mp3"))
		if err != nil {
			t.Fatal(err)
		}
		if track != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected watcher to index the new file")
}

func TestWatcherRemovesDeletedFiles(t *testing.T) {
	lib := t.TempDir()
	path := filepath.Join(lib, "doomed.mp3")
	writeFile(t, path)

	scanner, idx := testScanner(t, lib)
	if _, err := scanner.Scan(); err != nil {
		t.Fatal(err)
	}
	if err := scanner.StartWatcher(); err != nil {
		t.Fatalf("StartWatcher failed: %v", err)
	}
	defer scanner.StopWatcher()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		track, err := idx.GetByPath(path)
		if err != nil {
			t.Fatal(err)
		}
		if track == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected watcher to deindex the removed file")
}
