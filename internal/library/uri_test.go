package library

import (
	"testing"

	"github.com/feeluown/fuocore/internal/core"
)

func TestURIRoundTrip(t *testing.T) {
	for _, kind := range Kinds {
		uri := URI{Provider: "net_ease-2", Kind: kind, ID: "a.b~c_1-2"}
		got, err := ParseURI(uri.String())
		if err != nil {
			t.Fatalf("parse %s: %v", uri, err)
		}
		if got != uri {
			t.Fatalf("round trip %s: got %#v", uri, got)
		}
	}
}

func TestParseURIRejects(t *testing.T) {
	bad := []string{
		"http://x/songs/1",
		"fuo://x/songs",
		"fuo://x/songs/",
		"fuo:///songs/1",
		"fuo://x y/songs/1",
		"fuo://x/song/1",
		"fuo://x/songs/1/lyric",
		"fuo://x/songs/a%20b",
	}
	for _, raw := range bad {
		if _, err := ParseURI(raw); core.KindOf(err) != core.KindBadURI {
			t.Fatalf("%s: expected BadUri, got %v", raw, err)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, in := range []string{"song", "songs", "SONG"} {
		if k, ok := ParseKind(in); !ok || k != KindSong {
			t.Fatalf("%s: got %v %v", in, k, ok)
		}
	}
	if _, ok := ParseKind("track"); ok {
		t.Fatalf("expected unknown kind")
	}
}
