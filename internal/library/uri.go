package library

import (
	"strings"

	"github.com/feeluown/fuocore/internal/core"
)

// Scheme prefixes every model URI.
const Scheme = "fuo://"

// ModelKind is the closed set of model kinds.
type ModelKind string

// Model kinds.
const (
	KindSong     ModelKind = "song"
	KindAlbum    ModelKind = "album"
	KindArtist   ModelKind = "artist"
	KindPlaylist ModelKind = "playlist"
	KindLyric    ModelKind = "lyric"
	KindUser     ModelKind = "user"
	KindVideo    ModelKind = "mv"
)

// Kinds lists every model kind in display order.
var Kinds = []ModelKind{KindSong, KindAlbum, KindArtist, KindPlaylist, KindLyric, KindUser, KindVideo}

var plurals = map[ModelKind]string{
	KindSong:     "songs",
	KindAlbum:    "albums",
	KindArtist:   "artists",
	KindPlaylist: "playlists",
	KindLyric:    "lyrics",
	KindUser:     "users",
	KindVideo:    "mvs",
}

// Plural returns the URI path segment for the kind.
func (k ModelKind) Plural() string {
	return plurals[k]
}

// ParseKind accepts a singular or plural kind name.
func ParseKind(s string) (ModelKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for kind, plural := range plurals {
		if s == string(kind) || s == plural {
			return kind, true
		}
	}
	return "", false
}

// URI identifies a model as (provider, kind, id).
type URI struct {
	Provider string
	Kind     ModelKind
	ID       string
}

func (u URI) String() string {
	return Scheme + u.Provider + "/" + u.Kind.Plural() + "/" + u.ID
}

// IsZero reports whether u is the zero URI.
func (u URI) IsZero() bool {
	return u == URI{}
}

// ParseURI parses fuo://<provider>/<kind_plural>/<id>.
func ParseURI(raw string) (URI, error) {
	rest, ok := strings.CutPrefix(raw, Scheme)
	if !ok {
		return URI{}, core.Errorf(core.KindBadURI, "%q does not start with %s", raw, Scheme)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return URI{}, core.Errorf(core.KindBadURI, "%q is not provider/kind/id", raw)
	}
	provider, plural, id := parts[0], parts[1], parts[2]
	if !ValidProviderID(provider) {
		return URI{}, core.Errorf(core.KindBadURI, "invalid provider %q", provider)
	}
	kind, ok := kindFromPlural(plural)
	if !ok {
		return URI{}, core.Errorf(core.KindBadURI, "unknown kind %q", plural)
	}
	if !validID(id) {
		return URI{}, core.Errorf(core.KindBadURI, "invalid id %q", id)
	}
	return URI{Provider: provider, Kind: kind, ID: id}, nil
}

func kindFromPlural(s string) (ModelKind, bool) {
	for kind, plural := range plurals {
		if s == plural {
			return kind, true
		}
	}
	return "", false
}

// ValidProviderID reports whether s matches [A-Za-z0-9_-]+.
func ValidProviderID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '_' && c != '-' {
			return false
		}
	}
	return true
}

func validID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '-' && c != '.' && c != '_' && c != '~' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
