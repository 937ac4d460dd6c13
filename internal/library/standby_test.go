package library

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
)

func track(provider, id, title, artist, album string, durationMS int64) Model {
	m := song(provider, id, title)
	m.Artists = []Model{{Title: artist}}
	m.DurationMS = durationMS
	if album != "" {
		m.Album = &Model{Title: album}
	}
	return m
}

func TestStandbyScore(t *testing.T) {
	origin := track("x", "1", "Hey", "Band", "Blue", 200_000)
	bare := track("x", "2", "Hey", "Band", "", 0)
	tests := []struct {
		name      string
		origin    Model
		candidate Model
		want      float64
	}{
		{"identical", origin, track("y", "1", "Hey", "Band", "Blue", 200_000), 1},
		{"close duration", origin, track("y", "1", "Hey", "Band", "Red", 215_000), 0.8},
		{"far duration", origin, track("y", "1", "Hey", "Band", "Red", 260_000), 0.5},
		{"title only", origin, track("y", "1", "Hey", "Other", "", 0), 0.2},
		{"no album", bare, track("y", "1", "Hey", "Band", "Blue", 1000), 0.8},
		{"no album title only", bare, track("y", "1", "Hey", "Other", "", 0), 0.4},
	}
	for _, tt := range tests {
		if got := StandbyScore(tt.origin, tt.candidate); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func standbyLibrary(t *testing.T, opts Options, providers ...*fakeProvider) *Library {
	t.Helper()
	lib := New(zap.NewNop(), opts)
	for _, p := range providers {
		if err := lib.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return lib
}

func searching(p *fakeProvider, hits ...Model) *fakeProvider {
	p.searchFn = func(context.Context, string) (SearchResult, error) {
		return SearchResult{Songs: hits}, nil
	}
	return p
}

func TestStandbyPrefersPlayableBestMatch(t *testing.T) {
	origin := track("x", "1", "Hey", "Band", "Blue", 200_000)

	x := searching(newFake("x"), origin)
	y := searching(newFake("y"),
		track("y", "low", "Hey", "Band", "Red", 260_000),
		track("y", "high", "Hey", "Band", "Red", 205_000),
	)
	y.media = Media{HD: "http://y/high.mp3"}
	// A full match without media is passed over.
	z := searching(newFake("z"), track("z", "full", "Hey", "Band", "Blue", 200_000))

	lib := standbyLibrary(t, Options{}, x, y, z)
	got, err := lib.Standby(context.Background(), origin)
	if err != nil {
		t.Fatalf("standby: %v", err)
	}
	if got.Song.URI.String() != "fuo://y/songs/high" || got.URL != "http://y/high.mp3" || got.Score != 0.8 {
		t.Fatalf("unexpected standby %s %s %v", got.Song.URI, got.URL, got.Score)
	}
}

func TestStandbyFullMatchWins(t *testing.T) {
	origin := track("x", "1", "Hey", "Band", "Blue", 200_000)
	y := searching(newFake("y"), track("y", "close", "Hey", "Band", "Red", 205_000))
	y.media = Media{HD: "http://y/close.mp3"}
	z := searching(newFake("z"), track("z", "full", "Hey", "Band", "Blue", 199_000))
	z.media = Media{HD: "http://z/full.mp3"}

	lib := standbyLibrary(t, Options{}, y, z)
	got, err := lib.Standby(context.Background(), origin)
	if err != nil || got.Song.URI.ID != "full" || got.Score != StandbyFullScore {
		t.Fatalf("expected the full match, got %s %v (%v)", got.Song.URI, got.Score, err)
	}

	only := standbyLibrary(t, Options{StandbySources: []string{"y"}}, y, z)
	got, err = only.Standby(context.Background(), origin)
	if err != nil || got.Song.URI.ID != "close" {
		t.Fatalf("standby sources ignored, got %s (%v)", got.Song.URI, err)
	}
}

func TestStandbyNotFound(t *testing.T) {
	origin := track("x", "1", "Hey", "Band", "Blue", 200_000)
	x := searching(newFake("x"), origin)
	x.media = Media{HD: "http://x/1.mp3"}
	y := searching(newFake("y"), track("y", "2", "Other", "Someone", "", 0))
	y.media = Media{HD: "http://y/2.mp3"}

	lib := standbyLibrary(t, Options{}, x, y)
	if _, err := lib.Standby(context.Background(), origin); core.KindOf(err) != core.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
