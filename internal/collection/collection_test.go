package collection

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/adapters/clock"
	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
)

const sample = `+++
title = "Road trip"
description = "loud"
created = 2024-01-02T03:04:05Z
updated = 2024-01-02T03:04:05Z
+++
# favourites
fuo://local/songs/1	# Song One - Artist

fuo://x/albums/9
not a uri
`

func uri(t *testing.T, raw string) library.URI {
	t.Helper()
	u, err := library.ParseURI(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func fixedNow() time.Time { return time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC) }

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/c/trip.fuo", []byte(sample), 0o644)
	c, err := Load(fs, "/c/trip.fuo", fixedNow)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Name != "trip" || c.Title() != "Road trip" || c.Header.Description != "loud" {
		t.Fatalf("unexpected header %#v", c.Header)
	}
	if len(c.Entries) != 2 || c.Skipped != 1 {
		t.Fatalf("expected 2 entries and 1 skipped, got %d %d", len(c.Entries), c.Skipped)
	}
	if c.Entries[0].Display != "Song One - Artist" || c.Entries[1].URI.Kind != library.KindAlbum {
		t.Fatalf("unexpected entries %#v", c.Entries)
	}
}

func TestLoadWithoutHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/c/plain.fuo", []byte("fuo://x/songs/1\n"), 0o644)
	c, err := Load(fs, "/c/plain.fuo", fixedNow)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Title() != "plain" || len(c.Entries) != 1 {
		t.Fatalf("unexpected collection %#v", c)
	}
	_, _ = c.Add(Entry{URI: uri(t, "fuo://x/songs/2")})
	data, _ := afero.ReadFile(fs, "/c/plain.fuo")
	if string(data) != "fuo://x/songs/2\nfuo://x/songs/1\n" {
		t.Fatalf("unexpected file %q", data)
	}
}

func TestAddPrependsAndRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/c/trip.fuo", []byte(sample), 0o644)
	c, _ := Load(fs, "/c/trip.fuo", fixedNow)

	added, err := c.Add(Entry{URI: uri(t, "fuo://x/songs/7"), Display: "Seven"})
	if err != nil || !added {
		t.Fatalf("add: %v %v", added, err)
	}
	if added, _ := c.Add(Entry{URI: uri(t, "fuo://x/songs/7")}); added {
		t.Fatalf("duplicate add changed the file")
	}

	reloaded, err := Load(fs, "/c/trip.fuo", fixedNow)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Entries[0].URI.String() != "fuo://x/songs/7" || reloaded.Entries[0].Display != "Seven" {
		t.Fatalf("expected new entry first, got %#v", reloaded.Entries[0])
	}
	if !reloaded.Header.Updated.Equal(fixedNow()) || reloaded.Header.Title != "Road trip" {
		t.Fatalf("header not preserved: %#v", reloaded.Header)
	}

	removed, err := reloaded.Remove(uri(t, "fuo://local/songs/1"))
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	data, _ := afero.ReadFile(fs, "/c/trip.fuo")
	if strings.Contains(string(data), "fuo://local/songs/1") {
		t.Fatalf("entry still on disk: %s", data)
	}
}

func TestManager(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(zap.NewNop(), fs, "/data/collections", clock.NewManual(1700000000))
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	lib, err := m.Get(LibraryName)
	if err != nil || lib.Title() != "Library" {
		t.Fatalf("expected library collection, got %v", err)
	}

	if _, err := m.Create("night drive", "Night"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create("night drive", "Night"); core.KindOf(err) != core.KindBadOption {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := m.Scan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	list := m.List()
	if len(list) != 2 || list[0].Name != LibraryName || list[1].Name != "night_drive" {
		t.Fatalf("unexpected list %v", list)
	}
	if err := m.Delete(LibraryName); err == nil {
		t.Fatalf("library must not be deleted")
	}
	if err := m.Delete("night_drive"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get("night_drive"); core.KindOf(err) != core.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
