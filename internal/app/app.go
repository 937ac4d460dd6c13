// Package app wires the library, playlist, player and pubsub broker into one
// value that the RPC server and the daemon share.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feeluown/fuocore/internal/collection"
	"github.com/feeluown/fuocore/internal/imgcache"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/internal/lyric"
	"github.com/feeluown/fuocore/internal/player"
	"github.com/feeluown/fuocore/internal/playlist"
	"github.com/feeluown/fuocore/internal/pubsub"
)

// DefaultPositionInterval is how often the playback position is published.
const DefaultPositionInterval = 500 * time.Millisecond

// Runner is implemented by backends that own a goroutine.
type Runner interface {
	Run(ctx context.Context) error
}

// Config configures an App.
type Config struct {
	// FMProvider names the provider whose radio refills FM mode.
	FMProvider       string
	PositionInterval time.Duration
	QueueSize        int
	Player           player.Options
}

// Deps are the collaborators an App is built from. Collections and Images
// are optional.
type Deps struct {
	Library     *library.Library
	Backend     player.MediaBackend
	Collections *collection.Manager
	Images      *imgcache.Cache
}

// App owns the daemon state.
type App struct {
	log *zap.Logger
	cfg Config

	Library     *library.Library
	Playlist    *playlist.Playlist
	Player      *player.Player
	Broker      *pubsub.Broker
	Collections *collection.Manager
	Images      *imgcache.Cache
	Lyrics      *lyric.Tracker

	backend player.MediaBackend

	mu       sync.Mutex
	ctx      context.Context
	lyricFor library.URI
}

// New builds an App. The FM provider, when set, must be registered and
// implement radio.
func New(log *zap.Logger, deps Deps, cfg Config) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = DefaultPositionInterval
	}
	pl := playlist.New()
	if cfg.FMProvider != "" {
		fetch, err := deps.Library.RadioFetcher(cfg.FMProvider)
		if err != nil {
			return nil, fmt.Errorf("fm provider: %w", err)
		}
		pl.SetFetcher(fetch)
	}
	a := &App{
		log:         log,
		cfg:         cfg,
		Library:     deps.Library,
		Playlist:    pl,
		Broker:      pubsub.New(cfg.QueueSize),
		Collections: deps.Collections,
		Images:      deps.Images,
		Lyrics:      lyric.NewTracker(),
		backend:     deps.Backend,
		ctx:         context.Background(),
	}
	a.Player = player.New(log.With(zap.String("module", "player")), deps.Backend, pl, deps.Library, cfg.Player)
	a.Player.Subscribe(a.onPlayerEvent)
	pl.Subscribe(a.onPlaylistEvent)
	return a, nil
}

// Run runs the backend, the player event loop and the position publisher
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	if r, ok := a.backend.(Runner); ok {
		g.Go(func() error { return r.Run(ctx) })
	}
	g.Go(func() error { return a.Player.Run(ctx) })
	g.Go(func() error { return a.publishPositions(ctx) })
	err := g.Wait()

	if stopErr := a.Player.Stop(); stopErr != nil {
		a.log.Debug("player stop on shutdown", zap.Error(stopErr))
	}
	return err
}

// Close releases the providers.
func (a *App) Close() error {
	return a.Library.Close()
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *App) onPlayerEvent(ev player.Event) {
	switch ev.Type {
	case player.EventStateChanged:
		a.Broker.Publish(pubsub.TopicStateChanged, []byte(string(ev.State)))
		if ev.State == player.StateLoading {
			a.songChanged(ev.Song)
		}
		if ev.State == player.StateStopped && ev.Song.URI.IsZero() {
			a.Lyrics.Clear()
		}
	case player.EventError:
		a.Broker.Publish(pubsub.TopicPlayerError, []byte(fmt.Sprintf("%d %s", ev.Code, songLine(ev.Song))))
	case player.EventTooManyErrors:
		a.Broker.Publish(pubsub.TopicPlayerError, []byte(player.ReasonTooManyErrors))
	case player.EventPlaylistEOF:
		a.log.Debug("playlist finished")
	}
}

func (a *App) onPlaylistEvent(ev playlist.Event) {
	switch ev.Type {
	case playlist.EventModeChanged:
		a.Broker.Publish(pubsub.TopicModeChanged, []byte(string(ev.Mode)))
	case playlist.EventSongsRemoved:
		if err := a.Player.Reconcile(a.context()); err != nil {
			a.log.Warn("reconcile after remove", zap.Error(err))
		}
	case playlist.EventFMFetchFailed:
		a.log.Warn("fm fetch failed")
	}
}

// songLine is the payload of song_changed: the URI, or the raw URL for
// songs played outside the library.
func songLine(song library.Model) string {
	if song.URI.IsZero() {
		return song.Title
	}
	return song.URI.String()
}

func (a *App) songChanged(song library.Model) {
	a.Broker.Publish(pubsub.TopicSongChanged, []byte(songLine(song)))

	a.mu.Lock()
	a.lyricFor = song.URI
	ctx := a.ctx
	a.mu.Unlock()
	a.Lyrics.Clear()
	if song.URI.IsZero() {
		return
	}
	go a.loadLyric(ctx, song)
}

func (a *App) loadLyric(ctx context.Context, song library.Model) {
	content, err := a.Library.SongLyric(ctx, song)
	if err != nil {
		a.log.Debug("lyric unavailable", zap.Stringer("uri", song.URI), zap.Error(err))
		return
	}
	a.mu.Lock()
	current := a.lyricFor == song.URI
	a.mu.Unlock()
	if current {
		a.Lyrics.Set(content, "")
	}
}

func (a *App) publishPositions(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PositionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick publishes the position and, when the line changed, the live lyric.
func (a *App) tick() {
	if a.Player.State() != player.StatePlaying {
		return
	}
	pos, dur := a.Player.Position(), a.Player.Duration()
	a.Broker.Publish(pubsub.TopicPosition, []byte(fmt.Sprintf("%d/%d", pos, dur)))
	if cur, changed := a.Lyrics.Update(pos); changed {
		a.Broker.Publish(pubsub.TopicLiveLyric, []byte(lyricPayload(cur)))
	}
}

func lyricPayload(cur lyric.Current) string {
	if cur.Translation == "" {
		return cur.Text
	}
	return cur.Text + "\n" + cur.Translation
}

// Status is a snapshot of the player and playlist.
type Status struct {
	State        player.State
	Song         library.Model
	HasSong      bool
	PositionMS   int64
	DurationMS   int64
	Volume       int
	Mode         playlist.Mode
	PlaylistSize int
	Lyric        string
}

// Status reports the current state.
func (a *App) Status() Status {
	song, ok := a.Player.CurrentSong()
	return Status{
		State:        a.Player.State(),
		Song:         song,
		HasSong:      ok,
		PositionMS:   a.Player.Position(),
		DurationMS:   a.Player.Duration(),
		Volume:       a.Player.Volume(),
		Mode:         a.Playlist.Mode(),
		PlaylistSize: a.Playlist.Len(),
		Lyric:        strings.TrimSpace(a.Lyrics.Current().Text),
	}
}
