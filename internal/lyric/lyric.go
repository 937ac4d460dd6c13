// Package lyric parses LRC lyrics and follows the playhead to pick the line
// on display.
package lyric

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Offset shows a line slightly before its timestamp.
const Offset = 350

var tagPattern = regexp.MustCompile(`\[(\d+(:\d+){0,2}([:.]\d+)?)\]`)

// Line is one timed lyric line.
type Line struct {
	TimeMS int64
	Text   string
}

// Lyric is a list of lines sorted by time.
type Lyric struct {
	Lines []Line
}

// Parse reads LRC content. A line may carry several time tags; tags that
// repeat a timestamp keep the last text seen. Untagged lines are ignored.
func Parse(content string) Lyric {
	byTime := map[int64]string{}
	for _, raw := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		text := raw
		var times []int64
		for {
			loc := tagPattern.FindStringSubmatchIndex(text)
			if loc == nil {
				break
			}
			if ms, ok := parseTime(text[loc[2]:loc[3]]); ok {
				times = append(times, ms)
			}
			text = text[loc[1]:]
		}
		for _, t := range times {
			byTime[t] = text
		}
	}
	lines := make([]Line, 0, len(byTime))
	for t, text := range byTime {
		lines = append(lines, Line{TimeMS: t, Text: text})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].TimeMS < lines[j].TimeMS })
	return Lyric{Lines: lines}
}

// parseTime converts mm:ss.xx into milliseconds. Malformed tags such as
// mm:ss:xx are read as mm:ss.xx.
func parseTime(tag string) (int64, bool) {
	parts := strings.SplitN(tag, ":", 2)
	if len(parts) == 2 {
		parts[1] = strings.ReplaceAll(parts[1], ":", ".")
	}
	var ms float64
	unit := 1000.0
	for i := len(parts) - 1; i >= 0; i-- {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return 0, false
		}
		ms += float64(int64(v * unit))
		unit *= 60
	}
	return int64(ms), true
}

// Empty reports whether the lyric has no timed lines.
func (l Lyric) Empty() bool { return len(l.Lines) == 0 }

// Index returns the line shown at positionMS, or -1 before the first line.
func (l Lyric) Index(positionMS int64) int {
	t := positionMS + Offset
	i := sort.Search(len(l.Lines), func(i int) bool { return l.Lines[i].TimeMS > t })
	return i - 1
}

// TextAt returns the line shown at positionMS.
func (l Lyric) TextAt(positionMS int64) string {
	if i := l.Index(positionMS); i >= 0 {
		return l.Lines[i].Text
	}
	return ""
}

// Current is the line on display with its translation.
type Current struct {
	Text        string
	Translation string
	Index       int
}

// Tracker holds the lyric of the current song and reports line changes as
// the position advances. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	origin  Lyric
	trans   Lyric
	current Current
}

// NewTracker returns a tracker with no lyric.
func NewTracker() *Tracker {
	return &Tracker{current: Current{Index: -1}}
}

// Set replaces the lyric. Empty content clears it.
func (t *Tracker) Set(content, translation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origin = Parse(content)
	t.trans = Parse(translation)
	t.current = Current{Index: -1}
}

// Clear drops the lyric.
func (t *Tracker) Clear() {
	t.Set("", "")
}

// Update moves to positionMS and reports whether the displayed line changed.
func (t *Tracker) Update(positionMS int64) (Current, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.origin.Empty() {
		return Current{Index: -1}, false
	}
	idx := t.origin.Index(positionMS)
	if idx < 0 || idx == t.current.Index {
		return t.current, false
	}
	t.current = Current{
		Text:        t.origin.Lines[idx].Text,
		Translation: t.trans.TextAt(positionMS),
		Index:       idx,
	}
	return t.current, true
}

// Current returns the displayed line.
func (t *Tracker) Current() Current {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Lyric returns the loaded lyric.
func (t *Tracker) Lyric() Lyric {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.origin
}
