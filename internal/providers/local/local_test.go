package local

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
)

func newTestProvider(t *testing.T, files map[string]string) *Provider {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, body := range files {
		if err := afero.WriteFile(fs, path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	p, err := New(zap.NewNop(), fs, Config{Roots: []string{"/music"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return p
}

func TestNewRequiresRoots(t *testing.T) {
	if _, err := New(nil, afero.NewMemMapFs(), Config{Roots: []string{" "}}); core.KindOf(err) != core.KindBadOption {
		t.Fatalf("expected BadOption, got %v", err)
	}
}

func TestScanUsesFallbackMetadata(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"/music/Miles Davis/Kind of Blue/So What.mp3":             "x",
		"/music/Miles Davis/Kind of Blue/Miles Davis - Blue.flac": "x",
		"/music/notes.txt": "x",
	})
	if p.Len() != 2 {
		t.Fatalf("expected 2 songs, got %d", p.Len())
	}
	song, err := p.Get(context.Background(), library.KindSong, hashID("/music/Miles Davis/Kind of Blue/So What.mp3"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if song.Title != "So What" || song.ArtistsName() != "Miles Davis" || song.AlbumName() != "Kind of Blue" {
		t.Fatalf("unexpected metadata %q %q %q", song.Title, song.ArtistsName(), song.AlbumName())
	}
	album, err := p.Get(context.Background(), library.KindAlbum, song.Album.URI.ID)
	if err != nil || len(album.Songs) != 2 {
		t.Fatalf("expected album with 2 songs, got %v %v", len(album.Songs), err)
	}
	artist, err := p.Get(context.Background(), library.KindArtist, song.Artists[0].URI.ID)
	if err != nil || len(artist.Albums) != 1 {
		t.Fatalf("expected artist with one album, got %v %v", artist.Albums, err)
	}
}

func TestFallbackMetadata(t *testing.T) {
	tests := []struct {
		path   string
		title  string
		artist string
		album  string
	}{
		{"/m/A/B/Artist - Song.mp3", "Song", "Artist", "B"},
		{"/m/A/B/Song.mp3", "Song", "A", "B"},
		{"Song.mp3", "Song", "", ""},
	}
	for _, tt := range tests {
		got := fallbackMetadata(tt.path)
		if got.title != tt.title || got.artist != tt.artist || got.album != tt.album {
			t.Fatalf("%s: got %+v", tt.path, got)
		}
	}
}

func TestSearchRanksCloseTitlesFirst(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"/music/a/x/Blue in Green.mp3": "x",
		"/music/a/x/Blue.mp3":          "x",
		"/music/a/x/Freddie.mp3":       "x",
	})
	res, err := p.Search(context.Background(), "blue", []library.ModelKind{library.KindSong}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Songs) != 2 || res.Songs[0].Title != "Blue" {
		t.Fatalf("unexpected results %+v", res.Songs)
	}
	if len(res.Albums) != 0 {
		t.Fatalf("albums should be trimmed")
	}
}

func TestGetMissing(t *testing.T) {
	p := newTestProvider(t, nil)
	if _, err := p.Get(context.Background(), library.KindSong, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := p.Get(context.Background(), library.KindPlaylist, "nope"); core.KindOf(err) != core.KindUnsupported {
		t.Fatalf("expected Unsupported, got %v", err)
	}
	models, _ := p.List(context.Background(), library.KindSong, []string{"nope"})
	if len(models) != 1 || models[0].Exists != library.ExistsNo {
		t.Fatalf("expected missing model, got %+v", models)
	}
}

func TestSongMediaAndLyric(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"/music/a/b/track.mp3": "x",
		"/music/a/b/track.lrc": "[00:01.00]hello",
	})
	song, _ := p.Get(context.Background(), library.KindSong, hashID("/music/a/b/track.mp3"))
	media, err := p.SongMedia(context.Background(), song, library.QualityHD)
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if media.SQ != "file:///music/a/b/track.mp3" || media.HD != "" {
		t.Fatalf("unexpected media %+v", media)
	}
	lrc, err := p.SongLyric(context.Background(), song)
	if err != nil || !strings.Contains(lrc, "hello") {
		t.Fatalf("unexpected lyric %q %v", lrc, err)
	}
}

func TestRadioSongs(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"/music/a/b/1.mp3": "x",
		"/music/a/b/2.mp3": "x",
	})
	songs, err := p.RadioSongs(context.Background(), 3)
	if err != nil || len(songs) != 2 {
		t.Fatalf("expected both songs, got %d %v", len(songs), err)
	}
	empty := newTestProvider(t, nil)
	if _, err := empty.RadioSongs(context.Background(), 3); core.KindOf(err) != core.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
