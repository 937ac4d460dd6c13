package rpc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/feeluown/fuocore/internal/collection"
	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/imgcache"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/pkg/fuo"
)

const lyricSuffix = "/lyric"

func (s *Server) handleSearch(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	opts := library.SearchOptions{Sources: req.OptionList("source")}
	for _, raw := range req.OptionList("type") {
		kind, ok := library.ParseKind(raw)
		if !ok {
			return reply{}, core.Errorf(core.KindBadOption, "unknown type %q", raw)
		}
		opts.Kinds = append(opts.Kinds, kind)
	}
	if raw, ok := req.Option("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return reply{}, core.Errorf(core.KindBadOption, "invalid limit %q", raw)
		}
		opts.Limit = n
	}
	for _, id := range opts.Sources {
		if _, ok := s.app.Library.Provider(id); !ok {
			return reply{}, core.Errorf(core.KindNoSuchProvider, "provider %s is not registered", id)
		}
	}

	results, err := s.app.Library.Search(ctx, strings.Join(req.Args, " "), opts)
	if err != nil {
		return reply{}, err
	}
	var lines, failures []string
	data := make([]fuo.SearchBody, 0, len(results))
	for _, r := range results {
		item := fuo.SearchBody{Provider: r.Provider}
		if r.Err != nil {
			item.Error = core.Describe(r.Err)
			failures = append(failures, fmt.Sprintf("# %s: %s", r.Provider, item.Error))
		} else {
			models := r.Result.Models()
			item.Items = toJSONList(models)
			for _, m := range models {
				lines = append(lines, modelLine(m))
			}
		}
		data = append(data, item)
	}
	return reply{Text: strings.Join(append(lines, failures...), "\n"), Data: data}, nil
}

func (s *Server) handleShow(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	if len(req.Args) == 0 {
		providers := s.app.Library.Providers()
		data := lo.Map(providers, func(p library.Provider, _ int) fuo.ProviderBody {
			return fuo.ProviderBody{ID: p.ID(), Name: p.Name()}
		})
		lines := lo.Map(data, func(p fuo.ProviderBody, _ int) string { return p.ID + "\t" + p.Name })
		return reply{Text: strings.Join(lines, "\n"), Data: data}, nil
	}

	raw := req.Args[0]
	if base, ok := strings.CutSuffix(raw, lyricSuffix); ok {
		song, err := s.app.Library.Get(ctx, base)
		if err != nil {
			return reply{}, err
		}
		lrc, err := s.app.Library.SongLyric(ctx, song)
		if err != nil {
			return reply{}, err
		}
		if strings.TrimSpace(lrc) == "" {
			return reply{}, core.Errorf(core.KindNotFound, "%s has no lyric", base)
		}
		return text(strings.TrimRight(lrc, "\n")), nil
	}

	m, err := s.app.Library.Get(ctx, raw)
	if err != nil {
		return reply{}, err
	}
	if m.Kind() == library.KindUser && len(m.Playlists) == 0 {
		if playlists, err := s.app.Library.UserPlaylists(ctx, m); err == nil {
			m.Playlists = playlists
		}
	}
	return reply{Text: modelDetail(m), Data: toJSON(m)}, nil
}

// resolveAll hydrates every URI in args. Unknown models are returned in
// missing.
func (s *Server) resolveAll(ctx context.Context, args []string) (found []library.Model, missing []string, err error) {
	uris := make([]library.URI, 0, len(args))
	for _, raw := range args {
		m, err := s.app.Library.Resolve(raw)
		if err != nil {
			return nil, nil, err
		}
		uris = append(uris, m.URI)
	}
	models, err := s.app.Library.Batch(ctx, uris)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range models {
		if m.Exists == library.ExistsNo {
			missing = append(missing, m.URI.String())
			continue
		}
		found = append(found, m)
	}
	return found, missing, nil
}

// songsOf expands albums, artists and playlists into their songs.
func songsOf(models []library.Model) ([]library.Model, error) {
	var songs []library.Model
	for _, m := range models {
		switch m.Kind() {
		case library.KindSong:
			songs = append(songs, m)
		case library.KindAlbum, library.KindArtist, library.KindPlaylist:
			songs = append(songs, m.Songs...)
		default:
			return nil, core.Errorf(core.KindUnsupported, "cannot add a %s", m.Kind())
		}
	}
	return songs, nil
}

func notFoundLines(missing []string) []string {
	return lo.Map(missing, func(uri string, _ int) string { return "# not found: " + uri })
}

func (s *Server) handleAdd(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	models, missing, err := s.resolveAll(ctx, req.Args)
	if err != nil {
		return reply{}, err
	}

	var lines []string
	switch {
	case hasOption(req, "collection"):
		c, err := s.collection(req)
		if err != nil {
			return reply{}, err
		}
		s.collMu.Lock()
		defer s.collMu.Unlock()
		added := 0
		for _, m := range models {
			changed, err := c.Add(collection.Entry{URI: m.URI, Display: displayName(m)})
			if err != nil {
				return reply{}, core.Wrap(core.KindInternal, "save collection", err)
			}
			if changed {
				added++
			}
		}
		lines = append(lines, fmt.Sprintf("added %d", added))

	case hasOption(req, "playlist"):
		target, err := s.providerPlaylist(req)
		if err != nil {
			return reply{}, err
		}
		songs, err := songsOf(models)
		if err != nil {
			return reply{}, err
		}
		for _, song := range songs {
			if err := s.app.Library.PlaylistAdd(ctx, target, song); err != nil {
				return reply{}, err
			}
		}
		lines = append(lines, fmt.Sprintf("added %d", len(songs)))

	default:
		songs, err := songsOf(models)
		if err != nil {
			return reply{}, err
		}
		_, count := s.app.Playlist.AddAll(songs)
		lines = append(lines, fmt.Sprintf("added %d", count))
	}
	return text(strings.Join(append(lines, notFoundLines(missing)...), "\n")), nil
}

func (s *Server) handleRemove(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	uris := make([]library.URI, 0, len(req.Args))
	for _, raw := range req.Args {
		uri, err := library.ParseURI(raw)
		if err != nil {
			return reply{}, err
		}
		uris = append(uris, uri)
	}

	removed := 0
	switch {
	case hasOption(req, "collection"):
		c, err := s.collection(req)
		if err != nil {
			return reply{}, err
		}
		s.collMu.Lock()
		defer s.collMu.Unlock()
		for _, uri := range uris {
			changed, err := c.Remove(uri)
			if err != nil {
				return reply{}, core.Wrap(core.KindInternal, "save collection", err)
			}
			if changed {
				removed++
			}
		}

	case hasOption(req, "playlist"):
		target, err := s.providerPlaylist(req)
		if err != nil {
			return reply{}, err
		}
		for _, uri := range uris {
			if err := s.app.Library.PlaylistRemove(ctx, target, library.Model{URI: uri}); err != nil {
				return reply{}, err
			}
			removed++
		}

	default:
		for _, uri := range uris {
			if _, err := s.app.Playlist.Remove(uri); err == nil {
				removed++
			}
		}
	}
	return text(fmt.Sprintf("removed %d", removed)), nil
}

func (s *Server) handleClear(_ context.Context, _ *session, _ fuo.Request) (reply, error) {
	s.app.Playlist.Clear()
	return text(""), nil
}

func (s *Server) handleList(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	switch {
	case hasOption(req, "collection"):
		c, err := s.collection(req)
		if err != nil {
			return reply{}, err
		}
		s.collMu.Lock()
		entries := append([]collection.Entry(nil), c.Entries...)
		s.collMu.Unlock()
		lines := lo.Map(entries, func(e collection.Entry, _ int) string { return e.Line() })
		data := lo.Map(entries, func(e collection.Entry, _ int) fuo.ModelBody {
			return fuo.ModelBody{URI: e.URI.String(), Kind: string(e.URI.Kind), Title: e.Display}
		})
		return reply{Text: strings.Join(lines, "\n"), Data: data}, nil

	case hasOption(req, "playlist"):
		target, err := s.providerPlaylist(req)
		if err != nil {
			return reply{}, err
		}
		full, err := s.app.Library.Hydrate(ctx, target)
		if err != nil {
			return reply{}, err
		}
		return reply{Text: modelLines(full.Songs), Data: toJSONList(full.Songs)}, nil
	}

	songs := s.app.Playlist.Songs()
	_, current, _ := s.app.Playlist.Current()
	data := make([]fuo.ListItemBody, len(songs))
	for i, song := range songs {
		data[i] = fuo.ListItemBody{ModelBody: toJSON(song), Current: i == current}
	}
	return reply{Text: modelLines(songs), Data: data}, nil
}

func (s *Server) handleCollections(_ context.Context, _ *session, _ fuo.Request) (reply, error) {
	if s.app.Collections == nil {
		return reply{}, core.New(core.KindUnsupported, "collections are disabled")
	}
	s.collMu.Lock()
	data := lo.Map(s.app.Collections.List(), func(c *collection.Collection, _ int) fuo.CollectionBody {
		return fuo.CollectionBody{Name: c.Name, Title: c.Title(), Count: len(c.Entries)}
	})
	s.collMu.Unlock()
	lines := lo.Map(data, func(c fuo.CollectionBody, _ int) string {
		return fmt.Sprintf("%s\t%s\t%d", c.Name, c.Title, c.Count)
	})
	return reply{Text: strings.Join(lines, "\n"), Data: data}, nil
}

func (s *Server) handleCover(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	if s.app.Images == nil {
		return reply{}, core.New(core.KindUnsupported, "image cache is disabled")
	}
	m, err := s.app.Library.Get(ctx, req.Args[0])
	if err != nil {
		return reply{}, err
	}
	if m.CoverURL == "" {
		return reply{}, core.Errorf(core.KindNotFound, "%s has no cover", req.Args[0])
	}
	data, err := s.app.Images.Get(ctx, m.CoverURL)
	if err != nil {
		return reply{}, err
	}
	out := fuo.CoverBody{URL: m.CoverURL, Key: imgcache.Key(m.CoverURL), Bytes: len(data)}
	return reply{Text: fmt.Sprintf("url: %s\nkey: %s\nbytes: %d", out.URL, out.Key, out.Bytes), Data: out}, nil
}

func hasOption(req fuo.Request, name string) bool {
	_, ok := req.Option(name)
	return ok
}

func (s *Server) collection(req fuo.Request) (*collection.Collection, error) {
	if s.app.Collections == nil {
		return nil, core.New(core.KindUnsupported, "collections are disabled")
	}
	name, _ := req.Option("collection")
	return s.app.Collections.Get(name)
}

func (s *Server) providerPlaylist(req fuo.Request) (library.Model, error) {
	raw, _ := req.Option("playlist")
	m, err := s.app.Library.Resolve(raw)
	if err != nil {
		return library.Model{}, err
	}
	if m.Kind() != library.KindPlaylist {
		return library.Model{}, core.Errorf(core.KindBadOption, "%s is not a playlist", raw)
	}
	return m, nil
}

func displayName(m library.Model) string {
	if artists := m.ArtistsName(); artists != "" && m.Title != "" {
		return m.Title + " - " + artists
	}
	return m.Title
}
