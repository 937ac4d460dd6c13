package library

import "context"

// Provider is a pluggable source of models. Capabilities are the optional
// interfaces below; a provider implements any subset of them.
type Provider interface {
	ID() string
	Name() string
}

// SearchResult groups search hits by kind.
type SearchResult struct {
	Songs     []Model
	Albums    []Model
	Artists   []Model
	Playlists []Model
	Videos    []Model
}

// Models returns every hit, songs first.
func (r SearchResult) Models() []Model {
	out := make([]Model, 0, r.Len())
	out = append(out, r.Songs...)
	out = append(out, r.Albums...)
	out = append(out, r.Artists...)
	out = append(out, r.Playlists...)
	out = append(out, r.Videos...)
	return out
}

// Len counts every hit.
func (r SearchResult) Len() int {
	return len(r.Songs) + len(r.Albums) + len(r.Artists) + len(r.Playlists) + len(r.Videos)
}

// Trim keeps only kinds and at most limit hits per kind. limit <= 0 keeps all.
func (r SearchResult) Trim(kinds []ModelKind, limit int) SearchResult {
	want := map[ModelKind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	keep := func(kind ModelKind, in []Model) []Model {
		if len(want) > 0 && !want[kind] {
			return nil
		}
		if limit > 0 && len(in) > limit {
			return in[:limit]
		}
		return in
	}
	return SearchResult{
		Songs:     keep(KindSong, r.Songs),
		Albums:    keep(KindAlbum, r.Albums),
		Artists:   keep(KindArtist, r.Artists),
		Playlists: keep(KindPlaylist, r.Playlists),
		Videos:    keep(KindVideo, r.Videos),
	}
}

// Searcher searches a provider.
type Searcher interface {
	Search(ctx context.Context, keyword string, kinds []ModelKind, limit int) (SearchResult, error)
}

// Getter returns a full model or core.ErrNotFound.
type Getter interface {
	Get(ctx context.Context, kind ModelKind, id string) (Model, error)
}

// Lister fetches many models at once. Missing ids come back with Exists=ExistsNo.
type Lister interface {
	List(ctx context.Context, kind ModelKind, ids []string) ([]Model, error)
}

// MediaResolver resolves playable URLs for a song.
type MediaResolver interface {
	SongMedia(ctx context.Context, song Model, quality Quality) (Media, error)
}

// LyricFetcher returns the LRC text of a song, or "" when it has none.
type LyricFetcher interface {
	SongLyric(ctx context.Context, song Model) (string, error)
}

// UserPlaylister lists the playlists of a user.
type UserPlaylister interface {
	UserPlaylists(ctx context.Context, user Model) ([]Model, error)
}

// PlaylistEditor edits provider playlists. Both calls are idempotent.
type PlaylistEditor interface {
	PlaylistAdd(ctx context.Context, playlist Model, song Model) error
	PlaylistRemove(ctx context.Context, playlist Model, song Model) error
}

// Radio supplies songs for FM mode.
type Radio interface {
	RadioSongs(ctx context.Context, minCount int) ([]Model, error)
}
