package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
)

var song1 = jfItem{
	ID:           "item-1",
	Name:         "Song",
	Type:         "Audio",
	MediaType:    "Audio",
	RunTimeTicks: 900000000,
	ArtistItems:  []jfRef{{ID: "artist-1", Name: "Artist"}},
	Album:        "Album",
	AlbumID:      "album-1",
	ImageTags:    map[string]string{"Primary": "tag"},
}

type fakeServer struct {
	mu       sync.Mutex
	playlist []jfItem
	added    []string
	removed  []string
}

func (s *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/Users/user/Items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		var items []jfItem
		switch {
		case q.Get("ParentId") == "album-1":
			items = []jfItem{song1}
		case q.Get("ArtistIds") == "artist-1":
			items = []jfItem{{ID: "album-1", Name: "Album", Type: "MusicAlbum"}}
		case q.Get("IncludeItemTypes") == "Playlist":
			items = []jfItem{{ID: "pl-1", Name: "Mix", Type: "Playlist"}}
		case q.Get("SearchTerm") != "":
			items = []jfItem{song1, {ID: "album-1", Name: "Album", Type: "MusicAlbum"}}
		}
		writeJSON(t, w, jfItemsResponse{Items: items, TotalRecordCount: int64(len(items))})
	})
	mux.HandleFunc("/Items/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/Items/") {
		case "item-1":
			writeJSON(t, w, song1)
		case "album-1":
			writeJSON(t, w, jfItem{ID: "album-1", Name: "Album", Type: "MusicAlbum"})
		case "artist-1":
			writeJSON(t, w, jfItem{ID: "artist-1", Name: "Artist", Type: "MusicArtist"})
		case "pl-1":
			writeJSON(t, w, jfItem{ID: "pl-1", Name: "Mix", Type: "Playlist"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/Playlists/pl-1/Items", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, jfItemsResponse{Items: s.playlist})
		case http.MethodPost:
			id := r.URL.Query().Get("Ids")
			s.added = append(s.added, id)
			entry := song1
			entry.ID = id
			entry.PlaylistItemID = "entry-" + id
			s.playlist = append(s.playlist, entry)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			s.removed = append(s.removed, r.URL.Query().Get("EntryIds"))
			s.playlist = nil
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return mux
}

func newTestProvider(t *testing.T, srv *fakeServer) *Provider {
	t.Helper()
	p, err := New(zap.NewNop(), Config{BaseURL: "http://jellyfin.test/", APIKey: "key", UserID: "user"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.SetHTTPClient(newTestClient(srv.handler(t)))
	return p
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(nil, Config{BaseURL: "http://x"}); core.KindOf(err) != core.KindBadOption {
		t.Fatalf("expected BadOption, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	p := newTestProvider(t, &fakeServer{})
	res, err := p.Search(context.Background(), "song", []library.ModelKind{library.KindSong, library.KindAlbum}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Songs) != 1 || len(res.Albums) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	s := res.Songs[0]
	if s.URI.String() != "fuo://jellyfin/songs/item-1" || s.ArtistsName() != "Artist" || s.DurationMS != 90000 {
		t.Fatalf("unexpected song %+v", s)
	}
	if !strings.Contains(s.CoverURL, "/Items/item-1/Images/Primary") {
		t.Fatalf("expected cover url, got %q", s.CoverURL)
	}
}

func TestGet(t *testing.T) {
	p := newTestProvider(t, &fakeServer{})
	ctx := context.Background()
	album, err := p.Get(ctx, library.KindAlbum, "album-1")
	if err != nil || len(album.Songs) != 1 {
		t.Fatalf("expected album with one song, got %v %v", album.Songs, err)
	}
	artist, err := p.Get(ctx, library.KindArtist, "artist-1")
	if err != nil || len(artist.Albums) != 1 {
		t.Fatalf("expected artist albums, got %v %v", artist.Albums, err)
	}
	if _, err := p.Get(ctx, library.KindSong, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := p.Get(ctx, library.KindSong, "album-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected kind mismatch to be NotFound, got %v", err)
	}
}

func TestSongMediaTiers(t *testing.T) {
	p := newTestProvider(t, &fakeServer{})
	media, err := p.SongMedia(context.Background(), library.Model{URI: uri(library.KindSong, "item-1")}, library.QualityHD)
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if !strings.Contains(media.SQ, "static=true") || !strings.HasPrefix(media.SQ, "http://jellyfin.test/Audio/item-1/stream") {
		t.Fatalf("unexpected sq %q", media.SQ)
	}
	if !strings.Contains(media.HD, "audioBitRate=320000") || !strings.Contains(media.LD, "audioBitRate=128000") {
		t.Fatalf("unexpected transcode urls %+v", media)
	}
}

func TestPlaylistEditsAreIdempotent(t *testing.T) {
	srv := &fakeServer{}
	p := newTestProvider(t, srv)
	ctx := context.Background()
	pl := library.Model{URI: uri(library.KindPlaylist, "pl-1")}
	s := library.Model{URI: uri(library.KindSong, "item-9")}

	for i := 0; i < 2; i++ {
		if err := p.PlaylistAdd(ctx, pl, s); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if len(srv.added) != 1 {
		t.Fatalf("expected one add request, got %v", srv.added)
	}
	for i := 0; i < 2; i++ {
		if err := p.PlaylistRemove(ctx, pl, s); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	if len(srv.removed) != 1 || srv.removed[0] != "entry-item-9" {
		t.Fatalf("expected one remove request, got %v", srv.removed)
	}
}

func TestUserPlaylists(t *testing.T) {
	p := newTestProvider(t, &fakeServer{})
	lists, err := p.UserPlaylists(context.Background(), library.Model{URI: uri(library.KindUser, "user")})
	if err != nil || len(lists) != 1 || lists[0].Title != "Mix" {
		t.Fatalf("unexpected playlists %v %v", lists, err)
	}
	if _, err := p.UserPlaylists(context.Background(), library.Model{URI: uri(library.KindUser, "other")}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected NotFound for other user, got %v", err)
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode json: %v", err)
	}
}

func newTestClient(handler http.Handler) *http.Client {
	return &http.Client{Transport: roundTripper{handler: handler}}
}

type roundTripper struct {
	handler http.Handler
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	respCh := make(chan *http.Response, 1)
	go func() {
		recorder := httptest.NewRecorder()
		bodyBytes, _ := io.ReadAll(req.Body)
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		rt.handler.ServeHTTP(recorder, req)
		respCh <- recorder.Result()
	}()
	select {
	case <-req.Context().Done():
		return nil, req.Context().Err()
	case resp := <-respCh:
		return resp, nil
	}
}
