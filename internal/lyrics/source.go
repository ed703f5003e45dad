package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultFetchURL = "https://api.lyrics.ovh/v1"

// Loader resolves lyrics for a track, preferring embedded tag text, then a
// sidecar file next to the audio file, then the online source.
type Loader struct {
	logger      *logrus.Logger
	httpClient  *http.Client
	fetchURL    string
	fetchOnline bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnlineFetch enables or disables the online lookup fallback.
func WithOnlineFetch(enabled bool) LoaderOption {
	return func(l *Loader) { l.fetchOnline = enabled }
}

// WithFetchURL replaces the online source base URL, used by tests.
func WithFetchURL(baseURL string) LoaderOption {
	return func(l *Loader) { l.fetchURL = strings.TrimRight(baseURL, "/") }
}

// NewLoader creates a lyrics loader.
func NewLoader(logger *logrus.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	l := &Loader{
		logger:      logger,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		fetchURL:    defaultFetchURL,
		fetchOnline: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ForTrack resolves lyrics for one track. embedded is the raw lyric tag text
// (empty when the file carries none); audioPath locates sidecar files. A
// track with no findable lyrics yields an empty result, not an error.
func (l *Loader) ForTrack(ctx context.Context, title, artist, embedded, audioPath string) Lyrics {
	result := Lyrics{Title: title, Artist: artist}
	if title == "" {
		return result
	}

	if embedded != "" {
		if lines := ParseLRC(embedded); len(lines) > 0 {
			l.logger.WithField("title", title).Debug("Using embedded lyrics")
			result.Lines = lines
			return result
		}
	}

	if audioPath != "" {
		if sidecar, ok := FindSidecar(audioPath); ok {
			if lines, err := linesFromFile(sidecar); err == nil && len(lines) > 0 {
				l.logger.WithFields(logrus.Fields{
					"title": title,
					"file":  sidecar,
				}).Debug("Using sidecar lyrics file")
				result.Lines = lines
				return result
			}
		}
	}

	if l.fetchOnline {
		lines, err := l.fetch(ctx, title, artist)
		if err != nil {
			l.logger.WithError(err).WithField("title", title).Debug("Online lyrics lookup failed")
			return result
		}
		result.Lines = lines
	}
	return result
}

// FromFile loads and parses one lyrics file.
func FromFile(path string) (Lyrics, error) {
	lines, err := linesFromFile(path)
	if err != nil {
		return Lyrics{}, err
	}
	return Lyrics{Lines: lines}, nil
}

func linesFromFile(path string) ([]Line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lyrics file: %w", err)
	}
	return ParseLRC(string(data)), nil
}

// FindSidecar looks for a lyrics file next to an audio file: first the same
// stem with a .lrc or .txt extension, then any .lrc/.txt sibling whose name
// contains the stem.
func FindSidecar(audioPath string) (string, bool) {
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return "", false
	}
	dir := filepath.Dir(audioPath)

	for _, ext := range []string{".lrc", ".txt"} {
		candidate := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	lowerStem := strings.ToLower(stem)
	for _, de := range entries {
		name := strings.ToLower(de.Name())
		if !strings.HasSuffix(name, ".lrc") && !strings.HasSuffix(name, ".txt") {
			continue
		}
		if strings.Contains(name, lowerStem) {
			return filepath.Join(dir, de.Name()), true
		}
	}
	return "", false
}

// fetch queries the online source, which answers {"lyrics": "..."} with
// either LRC-timed or plain text; only timed lines are kept.
func (l *Loader) fetch(ctx context.Context, title, artist string) ([]Line, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", l.fetchURL,
		url.PathEscape(artist), url.PathEscape(title))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lyrics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lyrics request failed with HTTP %d", resp.StatusCode)
	}

	var body struct {
		Lyrics string `json:"lyrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse lyrics response: %w", err)
	}
	if body.Lyrics == "" {
		return nil, nil
	}

	lines := ParseLRC(body.Lyrics)
	l.logger.WithFields(logrus.Fields{
		"title": title,
		"lines": len(lines),
	}).Debug("Fetched online lyrics")
	return lines, nil
}
