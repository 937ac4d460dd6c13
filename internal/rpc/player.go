package rpc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"github.com/samber/lo"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/internal/playlist"
	"github.com/feeluown/fuocore/pkg/fuo"
)

func (s *Server) handleStatus(_ context.Context, _ *session, _ fuo.Request) (reply, error) {
	st := s.app.Status()
	data := fuo.StatusBody{
		State:        string(st.State),
		PositionMS:   st.PositionMS,
		DurationMS:   st.DurationMS,
		Volume:       st.Volume,
		Mode:         string(st.Mode),
		PlaylistSize: st.PlaylistSize,
		Lyric:        st.Lyric,
	}
	if st.HasSong {
		data.URI = refString(st.Song)
		data.Title = st.Song.Title
		data.Artists = st.Song.ArtistsName()
	}

	var b strings.Builder
	if data.URI != "" {
		fmt.Fprintf(&b, "uri: %s\n", data.URI)
	}
	fmt.Fprintf(&b, "state: %s\n", data.State)
	fmt.Fprintf(&b, "position: %d\n", data.PositionMS)
	fmt.Fprintf(&b, "duration: %d\n", data.DurationMS)
	fmt.Fprintf(&b, "volume: %d\n", data.Volume)
	fmt.Fprintf(&b, "mode: %s\n", data.Mode)
	fmt.Fprintf(&b, "playlist_size: %d", data.PlaylistSize)
	if data.Title != "" {
		fmt.Fprintf(&b, "\ntitle: %s", data.Title)
	}
	if data.Artists != "" {
		fmt.Fprintf(&b, "\nartists: %s", data.Artists)
	}
	if data.Lyric != "" {
		fmt.Fprintf(&b, "\nlyric: %s", data.Lyric)
	}
	return reply{Text: b.String(), Data: data}, nil
}

func isMediaURL(arg string) bool {
	for _, prefix := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) handlePlay(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	if len(req.Args) == 0 {
		return text(""), s.app.Player.Resume(ctx)
	}
	arg := req.Args[0]
	switch {
	case strings.HasPrefix(arg, library.Scheme):
		song, err := s.song(ctx, arg)
		if err != nil {
			return reply{}, err
		}
		return text(""), s.app.Player.Play(ctx, song)
	case isMediaURL(arg):
		return text(""), s.app.Player.PlayURL(ctx, arg)
	}

	keyword := strings.Join(req.Args, " ")
	song, err := s.bestMatch(ctx, keyword)
	if err != nil {
		return reply{}, err
	}
	if err := s.app.Player.Play(ctx, song); err != nil {
		return reply{}, err
	}
	return text(modelLine(song)), nil
}

// song resolves raw into a song, hydrated when the provider can.
func (s *Server) song(ctx context.Context, raw string) (library.Model, error) {
	m, err := s.app.Library.Resolve(raw)
	if err != nil {
		return library.Model{}, err
	}
	if m.Kind() != library.KindSong {
		return library.Model{}, core.Errorf(core.KindUnsupported, "cannot play a %s", m.Kind())
	}
	full, err := s.app.Library.Hydrate(ctx, m)
	if core.KindOf(err) == core.KindUnsupported {
		return m, nil
	}
	return full, err
}

// bestMatch searches songs and picks the one whose title, or title and
// artists, is closest to keyword.
func (s *Server) bestMatch(ctx context.Context, keyword string) (library.Model, error) {
	results, err := s.app.Library.Search(ctx, keyword, library.SearchOptions{Kinds: []library.ModelKind{library.KindSong}})
	if err != nil {
		return library.Model{}, err
	}
	var songs []library.Model
	for _, r := range results {
		songs = append(songs, r.Result.Songs...)
	}
	if len(songs) == 0 {
		return library.Model{}, core.Errorf(core.KindNotFound, "no song matches %q", keyword)
	}
	want := strings.ToLower(keyword)
	distance := func(m library.Model) int {
		title := strings.ToLower(m.Title)
		full := strings.ToLower(strings.TrimSpace(m.Title + " " + m.ArtistsName()))
		return min(levenshtein.Distance(want, title), levenshtein.Distance(want, full))
	}
	return lo.MinBy(songs, func(a library.Model, b library.Model) bool {
		return distance(a) < distance(b)
	}), nil
}

func (s *Server) handlePause(_ context.Context, _ *session, _ fuo.Request) (reply, error) {
	return text(""), s.app.Player.Pause()
}

func (s *Server) handleResume(ctx context.Context, _ *session, _ fuo.Request) (reply, error) {
	return text(""), s.app.Player.Resume(ctx)
}

func (s *Server) handleToggle(ctx context.Context, _ *session, _ fuo.Request) (reply, error) {
	return text(""), s.app.Player.Toggle(ctx)
}

func (s *Server) handleStop(_ context.Context, _ *session, _ fuo.Request) (reply, error) {
	return text(""), s.app.Player.Stop()
}

func songReply(song library.Model) reply {
	if song.URI.IsZero() && song.Title == "" {
		return text("")
	}
	return reply{Text: refString(song), Data: toJSON(song)}
}

func (s *Server) handleNext(ctx context.Context, _ *session, _ fuo.Request) (reply, error) {
	song, err := s.app.Player.Next(ctx)
	if err != nil {
		return reply{}, err
	}
	return songReply(song), nil
}

func (s *Server) handlePrevious(ctx context.Context, _ *session, _ fuo.Request) (reply, error) {
	song, err := s.app.Player.Previous(ctx)
	if err != nil {
		return reply{}, err
	}
	return songReply(song), nil
}

func (s *Server) handleSeek(_ context.Context, _ *session, req fuo.Request) (reply, error) {
	ms, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return reply{}, core.Errorf(core.KindBadOption, "invalid position %q", req.Args[0])
	}
	pos, err := s.app.Player.SeekTo(ms)
	if err != nil {
		return reply{}, err
	}
	return text(strconv.FormatInt(pos, 10)), nil
}

// parseVolume reads N, +N or -N relative to current.
func parseVolume(raw string, current int) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.Errorf(core.KindBadOption, "invalid volume %q", raw)
	}
	if strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-") {
		return current + v, nil
	}
	return v, nil
}

func (s *Server) setVolume(raw string) (int, error) {
	v, err := parseVolume(raw, s.app.Player.Volume())
	if err != nil {
		return 0, err
	}
	return s.app.Player.SetVolume(v)
}

func (s *Server) handleVolume(_ context.Context, _ *session, req fuo.Request) (reply, error) {
	if len(req.Args) == 0 {
		return text(strconv.Itoa(s.app.Player.Volume())), nil
	}
	v, err := s.setVolume(req.Args[0])
	if err != nil {
		return reply{}, err
	}
	return text(strconv.Itoa(v)), nil
}

func (s *Server) handleSet(_ context.Context, _ *session, req fuo.Request) (reply, error) {
	for _, arg := range req.Args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return reply{}, core.Errorf(core.KindMissingArg, "expected key=value, got %q", arg)
		}
		switch key {
		case "mode":
			mode, err := playlist.ParseMode(value)
			if err != nil {
				return reply{}, err
			}
			if err := s.app.Playlist.SetMode(mode); err != nil {
				return reply{}, err
			}
		case "volume":
			if _, err := s.setVolume(value); err != nil {
				return reply{}, err
			}
		default:
			return reply{}, core.Errorf(core.KindBadOption, "unknown setting %q", key)
		}
	}
	return text(""), nil
}
