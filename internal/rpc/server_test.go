package rpc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/adapters/clock"
	"github.com/feeluown/fuocore/internal/adapters/idgen"
	"github.com/feeluown/fuocore/internal/app"
	"github.com/feeluown/fuocore/internal/backends/null"
	"github.com/feeluown/fuocore/internal/collection"
	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/internal/player"
	"github.com/feeluown/fuocore/internal/pubsub"
	"github.com/feeluown/fuocore/pkg/fuo"
)

type fakeProvider struct {
	id    string
	songs map[string]string
}

func (p fakeProvider) ID() string   { return p.id }
func (p fakeProvider) Name() string { return strings.ToUpper(p.id) }

func (p fakeProvider) song(id string) library.Model {
	return library.Model{
		URI:     library.URI{Provider: p.id, Kind: library.KindSong, ID: id},
		Title:   p.songs[id],
		Artists: []library.Model{{Title: "Band"}},
	}
}

func (p fakeProvider) Get(_ context.Context, kind library.ModelKind, id string) (library.Model, error) {
	if _, ok := p.songs[id]; !ok || kind != library.KindSong {
		return library.Model{}, core.ErrNotFound
	}
	return p.song(id), nil
}

func (p fakeProvider) Search(_ context.Context, keyword string, _ []library.ModelKind, _ int) (library.SearchResult, error) {
	var out library.SearchResult
	for id, title := range p.songs {
		if strings.Contains(strings.ToLower(title), strings.ToLower(keyword)) {
			out.Songs = append(out.Songs, p.song(id))
		}
	}
	return out, nil
}

func (p fakeProvider) SongMedia(_ context.Context, song library.Model, _ library.Quality) (library.Media, error) {
	return library.Media{HD: "http://a/" + song.URI.ID + ".mp3"}, nil
}

type brokenProvider struct{}

func (brokenProvider) ID() string   { return "broken" }
func (brokenProvider) Name() string { return "Broken" }
func (brokenProvider) Search(context.Context, string, []library.ModelKind, int) (library.SearchResult, error) {
	return library.SearchResult{}, errors.New("upstream down")
}

type testEnv struct {
	app    *app.App
	server *Server
	addr   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	lib := library.New(log, library.Options{})
	x := fakeProvider{id: "x", songs: map[string]string{"7": "Seven Nation", "42": "Answer", "43": "Question"}}
	for _, p := range []library.Provider{x, brokenProvider{}} {
		if err := lib.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	colls := collection.NewManager(log, afero.NewMemMapFs(), "/data/collections", clock.NewManual(1_700_000_000))
	if err := colls.Scan(); err != nil {
		t.Fatalf("scan collections: %v", err)
	}
	backend := player.NewPolledBackend(log, null.NewDriver(), player.BackendOptions{PollInterval: 5 * time.Millisecond})
	a, err := app.New(log, app.Deps{Library: lib, Backend: backend, Collections: colls}, app.Config{Player: player.Options{Volume: 80}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s := New(log, a, idgen.Generator{Prefix: "conn"}, Config{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		_ = a.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		_ = s.Serve(ctx, l)
		done <- struct{}{}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})
	return &testEnv{app: a, server: s, addr: l.Addr().String()}
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (e *testEnv) dial(t *testing.T) *client {
	t.Helper()
	conn, err := net.Dial("tcp", e.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.conn, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) frame() fuo.Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	f, err := fuo.ReadFrame(c.r)
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	return f
}

// response skips event frames.
func (c *client) response() fuo.Frame {
	c.t.Helper()
	for {
		if f := c.frame(); f.Status != fuo.StatusEvent {
			return f
		}
	}
}

func (c *client) call(line string) fuo.Frame {
	c.t.Helper()
	c.send(line + "\n")
	return c.response()
}

func (c *client) ok(line string) string {
	c.t.Helper()
	f := c.call(line)
	if !f.OK() {
		c.t.Fatalf("%s: expected ok, got %s %q", line, f.Status, f.Body)
	}
	return f.Body
}

func (c *client) oops(line string) string {
	c.t.Helper()
	f := c.call(line)
	if f.OK() {
		c.t.Fatalf("%s: expected oops, got ok %q", line, f.Body)
	}
	return f.Body
}

func TestPlayThenStatus(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	if body := c.ok("play fuo://x/songs/42"); body != "" {
		t.Fatalf("unexpected play body %q", body)
	}
	status := c.ok("status")
	for _, want := range []string{"uri: fuo://x/songs/42", "playlist_size: 1", "volume: 80", "mode: sequential", "title: Answer"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}
	if !strings.Contains(status, "state: loading") && !strings.Contains(status, "state: playing") {
		t.Fatalf("unexpected state:\n%s", status)
	}
}

func TestPlayUnknownSongLeavesPlayer(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	if body := c.oops("play fuo://x/songs/999"); !strings.HasPrefix(body, "NotFound") {
		t.Fatalf("unexpected body %q", body)
	}
	if body := c.oops("play fuo://nope/songs/1"); !strings.HasPrefix(body, "NoSuchProvider") {
		t.Fatalf("unexpected body %q", body)
	}
	if env.app.Player.State() != player.StateStopped || env.app.Playlist.Len() != 0 {
		t.Fatalf("player changed: %s len=%d", env.app.Player.State(), env.app.Playlist.Len())
	}
}

func TestPlayWithoutCurrent(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	if body := c.oops("play"); !strings.HasPrefix(body, "PlaylistEmpty") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestPlayKeywordPicksClosest(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	body := c.ok("play question")
	if !strings.HasPrefix(body, "fuo://x/songs/43\t") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestBadQuoteKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	body := c.oops("play 'fuo")
	if !strings.HasPrefix(body, "BadQuote") || !strings.Contains(body, "\n  play 'fuo\n       ^") {
		t.Fatalf("unexpected body %q", body)
	}
	c.ok("status")
}

func TestUnknownCommandSuggests(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	body := c.oops("plya")
	if !strings.HasPrefix(body, "CmdNotFound") || !strings.Contains(body, `did you mean "play"`) {
		t.Fatalf("unexpected body %q", body)
	}
	if body := c.oops("xyzzyplugh"); strings.Contains(body, "did you mean") {
		t.Fatalf("unexpected suggestion %q", body)
	}
}

func TestArgumentAndOptionErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	tests := []struct {
		line string
		kind string
	}{
		{"seek", "MissingArg"},
		{"status #bogus=1", "BadOption"},
		{"status #format=xml", "BadOption"},
		{"set mode=sideways", "InvalidMode"},
		{"set speed=2", "BadOption"},
		{"search hello #type=podcast", "BadOption"},
		{"search hello #source=nowhere", "NoSuchProvider"},
		{"sub no.such.topic", "NotFound"},
		{"exec", "MissingArg"},
	}
	for _, tt := range tests {
		if body := c.oops(tt.line); !strings.HasPrefix(body, tt.kind) {
			t.Fatalf("%s: expected %s, got %q", tt.line, tt.kind, body)
		}
	}
}

func TestPipelinedResponsesInOrder(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.send("volume 30\nvolume +5\nvolume\n")
	for _, want := range []string{"30", "35", "35"} {
		f := c.response()
		if !f.OK() || f.Body != want {
			t.Fatalf("expected ok %s, got %s %q", want, f.Status, f.Body)
		}
	}
}

func TestSearchReportsFailedProviders(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	body := c.ok("search answer")
	lines := strings.Split(body, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", body)
	}
	if !strings.HasPrefix(lines[0], "fuo://x/songs/42\tAnswer\tBand\t") {
		t.Fatalf("unexpected hit %q", lines[0])
	}
	if lines[1] != "# broken: ProviderError: upstream down" {
		t.Fatalf("unexpected failure line %q", lines[1])
	}

	only := c.ok("search answer #source=x")
	if strings.Contains(only, "broken") {
		t.Fatalf("source filter ignored: %q", only)
	}
}

func TestSubscribeReceivesSongChanged(t *testing.T) {
	env := newTestEnv(t)
	listener := env.dial(t)
	listener.ok("sub player.song_changed")

	other := env.dial(t)
	other.ok("play fuo://x/songs/7")

	f := listener.frame()
	topic, payload, ok := f.Event()
	if !ok || topic != "player.song_changed" {
		t.Fatalf("expected song_changed event, got %s %q", f.Status, f.Body)
	}
	if !strings.HasPrefix(f.Body, "topic: player.song_changed") || !strings.HasSuffix(payload, "fuo://x/songs/7") {
		t.Fatalf("unexpected event body %q", f.Body)
	}

	listener.ok("unsub player.song_changed")
}

func TestSubResponsePrecedesEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			env.app.Broker.Publish(pubsub.TopicPosition, []byte("1/2"))
			time.Sleep(50 * time.Microsecond)
		}
	}()

	for range 20 {
		c := env.dial(t)
		c.send("sub player.position\n")
		if f := c.frame(); f.Status != fuo.StatusOK {
			t.Fatalf("expected the sub response first, got %s %q", f.Status, f.Body)
		}
		if f := c.frame(); f.Status != fuo.StatusEvent {
			t.Fatalf("expected an event after sub, got %s %q", f.Status, f.Body)
		}
		_ = c.conn.Close()
	}
}

func TestPlaylistCommands(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	if body := c.ok("add fuo://x/songs/7 fuo://x/songs/42 fuo://x/songs/999"); body != "added 2\n# not found: fuo://x/songs/999" {
		t.Fatalf("unexpected add body %q", body)
	}
	list := c.ok("list")
	if !strings.HasPrefix(list, "fuo://x/songs/7\tSeven Nation") || !strings.Contains(list, "\nfuo://x/songs/42\tAnswer") {
		t.Fatalf("unexpected list %q", list)
	}
	if body := c.ok("remove fuo://x/songs/7"); body != "removed 1" {
		t.Fatalf("unexpected remove body %q", body)
	}
	c.ok("set mode=loop")
	if env.app.Playlist.Mode() != "loop" {
		t.Fatalf("mode not set: %s", env.app.Playlist.Mode())
	}
	c.ok("clear")
	if env.app.Playlist.Len() != 0 {
		t.Fatalf("playlist not cleared")
	}
}

func TestCollectionCommands(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.ok("add fuo://x/songs/42 #collection=library")
	list := c.ok("list #collection=library")
	if list != "fuo://x/songs/42\t# Answer - Band" {
		t.Fatalf("unexpected collection %q", list)
	}
	if body := c.ok("collections"); !strings.HasPrefix(body, "library\tLibrary\t1") {
		t.Fatalf("unexpected collections %q", body)
	}
	if body := c.ok("remove fuo://x/songs/42 #collection=library"); body != "removed 1" {
		t.Fatalf("unexpected remove %q", body)
	}
	if body := c.oops("list #collection=missing"); !strings.HasPrefix(body, "NotFound") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestShow(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	if body := c.ok("show"); body != "x\tX\nbroken\tBroken" {
		t.Fatalf("unexpected providers %q", body)
	}
	detail := c.ok("show fuo://x/songs/42")
	if !strings.Contains(detail, "title: Answer") || !strings.Contains(detail, "artists: Band") {
		t.Fatalf("unexpected detail %q", detail)
	}
	if body := c.oops("show fuo://x/songs/42/lyric"); !strings.HasPrefix(body, "NotFound") {
		t.Fatalf("unexpected lyric body %q", body)
	}
}

func TestJSONFormat(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	body := c.ok("status #format=json")
	if !strings.HasPrefix(body, "{") || !strings.Contains(body, `"state":"stopped"`) || !strings.Contains(body, `"volume":80`) {
		t.Fatalf("unexpected json %q", body)
	}
}

func TestExec(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	if body := c.oops("exec <<EOF\nvolume 10\nEOF"); !strings.HasPrefix(body, "Unsupported") {
		t.Fatalf("unexpected body %q", body)
	}

	env.server.SetExecSink(NewBatchSink(env.server))
	if body := c.ok("exec <<EOF\n# comment\nvolume 10\n\nvolume\nEOF"); body != "10\n10" {
		t.Fatalf("unexpected exec body %q", body)
	}
	body := c.oops("exec <<EOF\nvolume 20\nsek 5\nEOF")
	if !strings.HasPrefix(body, "CmdNotFound: line 2:") {
		t.Fatalf("unexpected failure %q", body)
	}
}

func TestQuitClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.ok("quit")
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := fuo.ReadFrame(c.r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after quit, got %v", err)
	}
}

func TestServerExecFramesResponse(t *testing.T) {
	env := newTestEnv(t)
	got := string(env.server.Exec(context.Background(), "volume 40"))
	if got != "ok 2\n40\nOK\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if got := string(env.server.Exec(context.Background(), "sub player.position")); !strings.HasPrefix(got, "oops ") {
		t.Fatalf("expected oops for sub, got %q", got)
	}
}
