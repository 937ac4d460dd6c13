package rpc

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// Column widths of plain model lines, in terminal cells.
const (
	titleWidth = 40
	nameWidth  = 24
)

func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	secs := ms / 1000
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func refString(m library.Model) string {
	if m.URI.IsZero() {
		return m.Title
	}
	return m.URI.String()
}

// modelLine renders uri, title, artists, album and duration separated by tabs.
func modelLine(m library.Model) string {
	return strings.Join([]string{
		refString(m),
		truncate(m.Title, titleWidth),
		truncate(m.ArtistsName(), nameWidth),
		truncate(m.AlbumName(), nameWidth),
		formatDuration(m.DurationMS),
	}, "\t")
}

func modelLines(models []library.Model) string {
	lines := make([]string, len(models))
	for i, m := range models {
		lines[i] = modelLine(m)
	}
	return strings.Join(lines, "\n")
}

// toJSON renders m for #format=json.
func toJSON(m library.Model) fuo.ModelBody {
	out := fuo.ModelBody{
		Kind:        string(m.Kind()),
		Title:       m.Title,
		Album:       m.AlbumName(),
		DurationMS:  m.DurationMS,
		CoverURL:    m.CoverURL,
		Description: m.Description,
	}
	if !m.URI.IsZero() {
		out.URI = m.URI.String()
	}
	for _, a := range m.Artists {
		out.Artists = append(out.Artists, a.Title)
	}
	if m.Creator != nil {
		out.Creator = m.Creator.Title
	}
	out.Songs = toJSONList(m.Songs)
	out.Albums = toJSONList(m.Albums)
	out.Playlists = toJSONList(m.Playlists)
	return out
}

func toJSONList(models []library.Model) []fuo.ModelBody {
	if len(models) == 0 {
		return nil
	}
	out := make([]fuo.ModelBody, len(models))
	for i, m := range models {
		out[i] = toJSON(m)
	}
	return out
}

// modelDetail renders a hydrated model as "key: value" lines followed by
// its child lists.
func modelDetail(m library.Model) string {
	var b strings.Builder
	field := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, value)
		}
	}
	field("uri", refString(m))
	field("kind", string(m.Kind()))
	field("title", m.Title)
	field("artists", m.ArtistsName())
	field("album", m.AlbumName())
	if m.Creator != nil {
		field("creator", m.Creator.Title)
	}
	field("duration", formatDuration(m.DurationMS))
	field("cover", m.CoverURL)
	field("description", strings.TrimSpace(m.Description))
	children := func(key string, models []library.Model) {
		if len(models) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n", key)
		for _, c := range models {
			b.WriteString("\t" + modelLine(c) + "\n")
		}
	}
	children("songs", m.Songs)
	children("albums", m.Albums)
	children("playlists", m.Playlists)
	return strings.TrimRight(b.String(), "\n")
}
