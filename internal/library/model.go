package library

import "strings"

// Stage tells how much of a model is known.
type Stage int

// Stages move forward only.
const (
	StageDisplay Stage = iota
	StagePartial
	StageFull
)

func (s Stage) String() string {
	switch s {
	case StagePartial:
		return "partial"
	case StageFull:
		return "full"
	default:
		return "display"
	}
}

// Exists records whether the provider confirmed the model.
type Exists int

// Exists values sharpen from unknown to yes or no.
const (
	ExistsUnknown Exists = iota
	ExistsYes
	ExistsNo
)

func (e Exists) String() string {
	switch e {
	case ExistsYes:
		return "yes"
	case ExistsNo:
		return "no"
	default:
		return "unknown"
	}
}

// Model is an immutable snapshot of a song, album, artist, playlist,
// user, lyric or mv. Only the fields relevant to its kind are set.
// Slices are shared between snapshots and must not be modified.
type Model struct {
	URI    URI
	Stage  Stage
	Exists Exists

	// Title is the song or mv title, or the album, artist, playlist or user name.
	Title       string
	Artists     []Model
	Album       *Model
	Creator     *Model
	DurationMS  int64
	CoverURL    string
	Description string

	Songs     []Model
	Albums    []Model
	Playlists []Model

	// Lyric holds LRC text for lyric models.
	Lyric       string
	Translation string
}

// Kind returns the model kind.
func (m Model) Kind() ModelKind {
	return m.URI.Kind
}

// Display builds a display-stage model.
func Display(uri URI, title string) Model {
	return Model{URI: uri, Stage: StageDisplay, Title: title}
}

// ArtistsName joins artist names.
func (m Model) ArtistsName() string {
	names := make([]string, 0, len(m.Artists))
	for _, a := range m.Artists {
		if a.Title != "" {
			names = append(names, a.Title)
		}
	}
	return strings.Join(names, ", ")
}

// AlbumName returns the album title when known.
func (m Model) AlbumName() string {
	if m.Album == nil {
		return ""
	}
	return m.Album.Title
}

// Ref strips a model down to a display-stage reference.
func (m Model) Ref() Model {
	return Model{URI: m.URI, Stage: StageDisplay, Exists: m.Exists, Title: m.Title}
}
