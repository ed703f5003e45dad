// Package lyrics parses LRC-timed lyrics and resolves them for a track from
// embedded tags, sidecar files or an online source.
package lyrics

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Line is one timed lyric line.
type Line struct {
	At   time.Duration `json:"at"`
	Text string        `json:"text"`
}

// Lyrics is the full timed text of one track.
type Lyrics struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Lines  []Line `json:"lines"`
}

// IsEmpty reports whether no lyric lines were found.
func (l Lyrics) IsEmpty() bool {
	return len(l.Lines) == 0
}

// LineAt returns the index of the line being sung at the given playback
// position: the last line whose timestamp has passed, or the first line
// before any timestamp is reached.
func (l Lyrics) LineAt(position time.Duration) (int, bool) {
	if len(l.Lines) == 0 {
		return 0, false
	}
	for i, line := range l.Lines {
		if line.At > position {
			if i == 0 {
				return 0, true
			}
			return i - 1, true
		}
	}
	return len(l.Lines) - 1, true
}

// entityReplacer covers the HTML entities that show up in lyrics served by
// the online sources.
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&apos;", "'",
	"&quot;", `"`,
	"&lt;", "<",
	"&gt;", ">",
	"&nbsp;", " ",
	"&#39;", "'",
	"&#x27;", "'",
	"&#34;", `"`,
	"&#60;", "<",
	"&#62;", ">",
)

// ParseLRC parses LRC content into timed lines sorted by timestamp. Lines
// without a [mm:ss] or [mm:ss.xx] prefix are skipped, so LRC metadata tags
// like [ar:] and plain text fall away.
func ParseLRC(content string) []Line {
	content = entityReplacer.Replace(content)

	var lines []Line
	for _, raw := range strings.Split(content, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		stamp, text, found := strings.Cut(raw, "]")
		if !found || !strings.HasPrefix(stamp, "[") {
			continue
		}
		at, ok := parseTimestamp(strings.TrimPrefix(stamp, "["))
		if !ok {
			continue
		}
		lines = append(lines, Line{At: at, Text: strings.TrimSpace(text)})
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].At < lines[j].At })
	return lines
}

// parseTimestamp reads "mm:ss" or "mm:ss.xx" where xx is hundredths.
func parseTimestamp(s string) (time.Duration, bool) {
	mins, rest, found := strings.Cut(s, ":")
	if !found {
		return 0, false
	}
	m, err := strconv.Atoi(mins)
	if err != nil || m < 0 {
		return 0, false
	}

	secs, frac, _ := strings.Cut(rest, ".")
	sec, err := strconv.Atoi(secs)
	if err != nil || sec < 0 {
		return 0, false
	}

	var millis int
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		if hundredths, err := strconv.Atoi(frac); err == nil {
			millis = hundredths * 10
		}
	}

	d := time.Duration(m)*time.Minute + time.Duration(sec)*time.Second +
		time.Duration(millis)*time.Millisecond
	return d, true
}
