package player

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/internal/playlist"
)

// State is the player state.
type State string

// Player states.
const (
	StateStopped State = "stopped"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// DefaultMaxErrors is how many consecutive failures are skipped before
// playback stops.
const DefaultMaxErrors = 3

// ReasonTooManyErrors is reported when the auto-skip threshold is reached.
const ReasonTooManyErrors = "too_many_errors"

// MediaSource resolves a playable URL for a song.
type MediaSource interface {
	SongMedia(ctx context.Context, song library.Model) (string, library.Quality, error)
}

// StandbyFinder is implemented by media sources that can replace a song
// whose media failed with the same recording from another provider.
type StandbyFinder interface {
	Standby(ctx context.Context, song library.Model) (library.Standby, error)
}

// EventType names a player signal.
type EventType string

// Player signals.
const (
	EventStateChanged  EventType = "state_changed"
	EventPlaylistEOF   EventType = "playlist_eof"
	EventError         EventType = "player_error"
	EventTooManyErrors EventType = "too_many_errors"
)

// Event is emitted by the player outside its lock.
type Event struct {
	Type  EventType
	State State
	Song  library.Model
	Code  int
	Err   error
}

// Listener receives player events.
type Listener func(Event)

// Options configure a Player.
type Options struct {
	MaxErrors int
	Volume    int
}

// Player drives a MediaBackend from the playlist.
type Player struct {
	log      *zap.Logger
	backend  MediaBackend
	playlist *playlist.Playlist
	media    MediaSource
	opts     Options

	mu        sync.Mutex
	state     State
	song      library.Model
	hasSong   bool
	url       string
	volume    int
	failures  int
	listeners []Listener
}

// New creates a stopped player.
func New(log *zap.Logger, backend MediaBackend, pl *playlist.Playlist, media MediaSource, opts Options) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Volume <= 0 {
		opts.Volume = 100
	}
	return &Player{
		log:      log,
		backend:  backend,
		playlist: pl,
		media:    media,
		opts:     opts,
		state:    StateStopped,
		volume:   int(clamp(int64(opts.Volume), 0, 100)),
	}
}

// Subscribe registers a listener.
func (p *Player) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Player) unlock(events []Event) {
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// setState must be called with p.mu held.
func (p *Player) setState(state State, events []Event) []Event {
	if p.state == state {
		return events
	}
	p.state = state
	return append(events, Event{Type: EventStateChanged, State: state, Song: p.song})
}

// Run applies the initial volume and consumes backend events until ctx is done.
func (p *Player) Run(ctx context.Context) error {
	if err := p.backend.SetVolume(p.Volume()); err != nil {
		p.log.Warn("initial volume failed", zap.Error(err))
	}
	events := p.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleBackendEvent(ctx, ev)
		}
	}
}

func (p *Player) handleBackendEvent(ctx context.Context, ev BackendEvent) {
	p.mu.Lock()
	if ev.URL != "" && ev.URL != p.url {
		p.mu.Unlock()
		return
	}
	switch ev.Type {
	case BackendStateChanged:
		var events []Event
		switch ev.State {
		case BackendPlaying:
			if p.state == StateLoading || p.state == StatePaused {
				p.failures = 0
				events = p.setState(StatePlaying, events)
			}
		case BackendPaused:
			if p.state == StatePlaying {
				events = p.setState(StatePaused, events)
			}
		}
		p.unlock(events)
	case BackendMediaFinished:
		if p.state != StatePlaying && p.state != StateLoading {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.advanceAfterEnd(ctx)
	case BackendErrorEvent:
		p.mu.Unlock()
		p.fail(ctx, ev.Code, ev.Err)
	default:
		p.mu.Unlock()
	}
}

// advanceAfterEnd plays the next song, or stops at the end of the playlist.
// A failed FM refill pauses instead.
func (p *Player) advanceAfterEnd(ctx context.Context) {
	idx, err := p.playlist.Advance(ctx)
	switch {
	case errors.Is(err, playlist.ErrFetchInProgress):
		return
	case errors.Is(err, playlist.ErrFetchFailed):
		p.log.Warn("fm refill failed", zap.Error(err))
		p.mu.Lock()
		p.unlock(p.setState(StatePaused, nil))
		return
	case err != nil:
		p.log.Warn("advance failed", zap.Error(err))
	}
	if idx == playlist.None {
		p.mu.Lock()
		events := p.setState(StateStopped, nil)
		events = append(events, Event{Type: EventPlaylistEOF})
		p.unlock(events)
		return
	}
	song, _ := p.playlist.Song(idx)
	p.playAuto(ctx, song)
}

// playAuto plays song on behalf of the player. A song without media is
// replaced by a standby when one is found outside FM mode. Failures count
// towards the auto-skip threshold instead of being returned.
func (p *Player) playAuto(ctx context.Context, song library.Model) {
	url, _, err := p.media.SongMedia(ctx, song)
	if err != nil {
		if standby, ok := p.findStandby(ctx, song, err); ok {
			p.playlist.MarkBad(song.URI)
			idx := p.playlist.InsertAfter(song.URI, standby.Song)
			if err := p.playlist.SetCurrent(idx); err != nil {
				p.log.Debug("select standby", zap.Error(err))
			}
			if err := p.load(ctx, standby.Song, standby.URL); err != nil {
				p.log.Debug("standby play failed", zap.String("uri", standby.Song.URI.String()), zap.Error(err))
			}
			return
		}
		p.mu.Lock()
		p.song = song
		p.hasSong = true
		p.mu.Unlock()
		p.fail(ctx, CodeNotOpen, err)
		return
	}
	if err := p.load(ctx, song, url); err != nil {
		p.log.Debug("auto play failed", zap.String("uri", song.URI.String()), zap.Error(err))
	}
}

func (p *Player) findStandby(ctx context.Context, song library.Model, cause error) (library.Standby, bool) {
	finder, ok := p.media.(StandbyFinder)
	if !ok || song.URI.IsZero() || p.playlist.Mode() == playlist.ModeFM {
		return library.Standby{}, false
	}
	standby, err := finder.Standby(ctx, song)
	if err != nil {
		p.log.Info("no standby found", zap.String("uri", song.URI.String()), zap.NamedError("cause", cause), zap.Error(err))
		return library.Standby{}, false
	}
	p.log.Info("playing standby",
		zap.String("uri", song.URI.String()),
		zap.String("standby", standby.Song.URI.String()),
		zap.Float64("score", standby.Score),
	)
	return standby, true
}

// fail records a playback error, marks the song bad and skips to the next
// song until MaxErrors consecutive failures.
func (p *Player) fail(ctx context.Context, code int, cause error) {
	p.mu.Lock()
	p.failures++
	song := p.song
	failures := p.failures
	events := p.setState(StateError, nil)
	events = append(events, Event{Type: EventError, Song: song, Code: code, Err: cause})
	p.unlock(events)
	p.log.Warn("playback error",
		zap.String("uri", song.URI.String()),
		zap.Int("code", code),
		zap.Int("consecutive", failures),
		zap.Error(cause),
	)
	if !song.URI.IsZero() {
		p.playlist.MarkBad(song.URI)
	}

	if failures >= p.opts.MaxErrors {
		if err := p.backend.Stop(); err != nil {
			p.log.Debug("backend stop", zap.Error(err))
		}
		p.mu.Lock()
		p.failures = 0
		p.url = ""
		events := p.setState(StateStopped, nil)
		events = append(events, Event{
			Type: EventTooManyErrors,
			Song: song,
			Code: code,
			Err:  core.New(core.KindBackendError, ReasonTooManyErrors),
		})
		p.unlock(events)
		return
	}
	p.advanceAfterEnd(ctx)
}

// load opens url and starts playback. The player is loading until the
// backend confirms.
func (p *Player) load(ctx context.Context, song library.Model, url string) error {
	p.mu.Lock()
	p.song = song
	p.hasSong = true
	p.url = url
	// Re-entering loading always notifies, even from loading.
	p.state = StateStopped
	events := p.setState(StateLoading, nil)
	p.unlock(events)

	if err := p.backend.Open(ctx, url); err != nil {
		p.fail(ctx, backendCode(err), err)
		return BackendError(backendCode(err), err)
	}
	if err := p.backend.Play(); err != nil {
		p.fail(ctx, backendCode(err), err)
		return BackendError(backendCode(err), err)
	}
	return nil
}

func backendCode(err error) int {
	var e *core.Error
	if errors.As(err, &e) && e.Kind == core.KindBackendError && e.Code != 0 {
		return e.Code
	}
	return CodeUnknown
}

// Play resolves media for song, puts it after the current song, makes it
// current and starts it. Resolution errors leave the player untouched.
func (p *Player) Play(ctx context.Context, song library.Model) error {
	url, _, err := p.media.SongMedia(ctx, song)
	if err != nil {
		return err
	}
	idx := p.playlist.InsertAfterCurrent(song)
	if err := p.playlist.SetCurrent(idx); err != nil {
		return err
	}
	p.resetFailures()
	return p.load(ctx, song, url)
}

// PlayURL plays a raw media URL outside the playlist.
func (p *Player) PlayURL(ctx context.Context, url string) error {
	p.resetFailures()
	return p.load(ctx, library.Model{Title: url}, url)
}

func (p *Player) playIndex(ctx context.Context, idx int) (library.Model, error) {
	song, ok := p.playlist.Song(idx)
	if !ok {
		return library.Model{}, core.ErrPlaylistEmpty
	}
	url, _, err := p.media.SongMedia(ctx, song)
	if err != nil {
		return song, err
	}
	p.resetFailures()
	return song, p.load(ctx, song, url)
}

func (p *Player) resetFailures() {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}

// Next advances the playlist and plays the new song. It returns the zero
// model when there is no next song.
func (p *Player) Next(ctx context.Context) (library.Model, error) {
	if p.playlist.Len() == 0 {
		return library.Model{}, core.New(core.KindPlaylistEmpty, "playlist is empty")
	}
	idx, err := p.playlist.Advance(ctx)
	if err != nil {
		if errors.Is(err, playlist.ErrFetchFailed) {
			return library.Model{}, core.Wrap(core.KindProviderError, "fm refill failed", err)
		}
		if errors.Is(err, playlist.ErrFetchInProgress) {
			return library.Model{}, nil
		}
		return library.Model{}, err
	}
	if idx == playlist.None {
		return library.Model{}, nil
	}
	return p.playIndex(ctx, idx)
}

// Previous moves back in the playlist and plays that song.
func (p *Player) Previous(ctx context.Context) (library.Model, error) {
	if p.playlist.Len() == 0 {
		return library.Model{}, core.New(core.KindPlaylistEmpty, "playlist is empty")
	}
	idx := p.playlist.Retreat()
	if idx == playlist.None {
		return library.Model{}, nil
	}
	return p.playIndex(ctx, idx)
}

// Pause pauses playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	if p.state != StatePlaying && p.state != StateLoading {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if err := p.backend.Pause(); err != nil {
		return err
	}
	p.mu.Lock()
	p.unlock(p.setState(StatePaused, nil))
	return nil
}

// Resume continues paused playback, or starts the current song when
// stopped. With no current song it fails with PlaylistEmpty.
func (p *Player) Resume(ctx context.Context) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	switch state {
	case StatePlaying, StateLoading:
		return nil
	case StatePaused:
		if err := p.backend.Resume(); err != nil {
			return err
		}
		p.mu.Lock()
		p.unlock(p.setState(StatePlaying, nil))
		return nil
	}
	_, idx, ok := p.playlist.Current()
	if !ok {
		return core.New(core.KindPlaylistEmpty, "nothing to play")
	}
	_, err := p.playIndex(ctx, idx)
	return err
}

// Toggle switches between playing and paused.
func (p *Player) Toggle(ctx context.Context) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state == StatePlaying || state == StateLoading {
		return p.Pause()
	}
	return p.Resume(ctx)
}

// Stop stops playback. The current song is kept.
func (p *Player) Stop() error {
	err := p.backend.Stop()
	p.mu.Lock()
	p.url = ""
	p.unlock(p.setState(StateStopped, nil))
	return err
}

// SeekTo moves the playhead, clamped to [0, duration], and returns the
// position actually requested.
func (p *Player) SeekTo(positionMS int64) (int64, error) {
	pos := max(positionMS, 0)
	if dur := p.backend.Duration(); dur > 0 {
		pos = min(pos, dur)
	}
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state == StateStopped || state == StateError {
		return pos, core.New(core.KindPlaylistEmpty, "nothing is playing")
	}
	return pos, p.backend.SeekTo(pos)
}

// SetVolume sets the volume, clamped to [0, 100].
func (p *Player) SetVolume(volume int) (int, error) {
	v := int(clamp(int64(volume), 0, 100))
	if err := p.backend.SetVolume(v); err != nil {
		return p.Volume(), err
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	return v, nil
}

// Reconcile follows the playlist cursor after songs were removed or the
// playlist was cleared.
func (p *Player) Reconcile(ctx context.Context) error {
	cur, idx, ok := p.playlist.Current()
	p.mu.Lock()
	same := ok && p.hasSong && p.song.URI == cur.URI
	state := p.state
	p.mu.Unlock()
	if same {
		return nil
	}
	if !ok {
		err := p.backend.Stop()
		p.mu.Lock()
		p.song = library.Model{}
		p.hasSong = false
		p.url = ""
		p.unlock(p.setState(StateStopped, nil))
		return err
	}
	if state == StatePlaying || state == StateLoading {
		_, err := p.playIndex(ctx, idx)
		return err
	}
	err := p.backend.Stop()
	p.mu.Lock()
	p.song = cur
	p.hasSong = true
	p.url = ""
	p.unlock(p.setState(StateStopped, nil))
	return err
}

// State returns the player state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CurrentSong returns the song being played or last played.
func (p *Player) CurrentSong() (library.Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.song, p.hasSong
}

// URL returns the media URL being played.
func (p *Player) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Volume returns the volume in percent.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position returns the playhead in milliseconds.
func (p *Player) Position() int64 {
	return p.backend.Position()
}

// Duration returns the media duration in milliseconds.
func (p *Player) Duration() int64 {
	return p.backend.Duration()
}

func clamp(v int64, lo int64, hi int64) int64 {
	return max(lo, min(v, hi))
}
