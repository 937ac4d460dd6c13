package playlist

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
)

// None is the cursor value when no song is selected.
const None = -1

// FMMinPerFetch is the minimum number of songs asked for on each FM refill.
const FMMinPerFetch = 3

// Mode is a playback mode.
type Mode string

// Playback modes.
const (
	ModeSequential Mode = "sequential"
	ModeLoop       Mode = "loop"
	ModeOneLoop    Mode = "one_loop"
	ModeShuffle    Mode = "shuffle"
	ModeFM         Mode = "fm"
)

// Modes lists every mode.
var Modes = []Mode{ModeSequential, ModeLoop, ModeOneLoop, ModeShuffle, ModeFM}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", core.Errorf(core.KindInvalidMode, "unknown mode %q", s)
}

// Errors returned by Next and Advance in FM mode.
var (
	ErrFetchFailed     = errors.New("fm fetch failed")
	ErrFetchInProgress = errors.New("fm fetch in progress")
)

// FetchFunc supplies songs for FM mode.
type FetchFunc func(ctx context.Context, minCount int) ([]library.Model, error)

// EventType names a playlist signal.
type EventType string

// Playlist signals.
const (
	EventSongChanged   EventType = "song_changed"
	EventSongsAdded    EventType = "songs_added"
	EventSongsRemoved  EventType = "songs_removed"
	EventModeChanged   EventType = "mode_changed"
	EventFMFetchFailed EventType = "fm_fetch_failed"
)

// Event is emitted after a playlist mutation. Only the fields relevant to
// Type are set.
type Event struct {
	Type  EventType
	Song  library.Model
	Start int
	Count int
	Mode  Mode
}

// Listener receives playlist events. It runs outside the playlist lock.
type Listener func(Event)

// Playlist is the ordered, URI-deduplicated song sequence and its cursor.
type Playlist struct {
	mu        sync.Mutex
	songs     []library.Model
	current   int
	mode      Mode
	recent    []int
	bad       map[library.URI]bool
	fetch     FetchFunc
	fetching  bool
	rng       *rand.Rand
	listeners []Listener
}

// Option configures a Playlist.
type Option func(*Playlist)

// WithSeed makes shuffle deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Playlist) {
		p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithFetcher sets the FM fetch source.
func WithFetcher(fetch FetchFunc) Option {
	return func(p *Playlist) {
		p.fetch = fetch
	}
}

// New returns an empty sequential playlist.
func New(opts ...Option) *Playlist {
	p := &Playlist{
		current: None,
		mode:    ModeSequential,
		bad:     map[library.URI]bool{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// Subscribe registers a listener.
func (p *Playlist) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// SetFetcher replaces the FM fetch source.
func (p *Playlist) SetFetcher(fetch FetchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetch = fetch
}

// unlock releases the lock and then delivers events in order.
func (p *Playlist) unlock(events []Event) {
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

func (p *Playlist) indexOf(uri library.URI) int {
	for i, s := range p.songs {
		if s.URI == uri {
			return i
		}
	}
	return None
}

// exitFM leaves FM mode after a manual edit.
func (p *Playlist) exitFM(events []Event) []Event {
	if p.mode != ModeFM {
		return events
	}
	p.mode = ModeSequential
	return append(events, Event{Type: EventModeChanged, Mode: p.mode})
}

// Add appends song unless it is already present and returns its index.
// A manual add leaves FM mode.
func (p *Playlist) Add(song library.Model) int {
	p.mu.Lock()
	if i := p.indexOf(song.URI); i != None {
		p.mu.Unlock()
		return i
	}
	events := p.exitFM(nil)
	p.songs = append(p.songs, song)
	idx := len(p.songs) - 1
	events = append(events, Event{Type: EventSongsAdded, Start: idx, Count: 1})
	p.unlock(events)
	return idx
}

// AddAll appends every song not already present. It returns the index of
// the first appended song and how many were appended.
func (p *Playlist) AddAll(songs []library.Model) (int, int) {
	p.mu.Lock()
	start := len(p.songs)
	events := []Event{}
	added := p.appendNew(songs)
	if added > 0 {
		events = p.exitFM(events)
		events = append(events, Event{Type: EventSongsAdded, Start: start, Count: added})
	}
	p.unlock(events)
	return start, added
}

func (p *Playlist) appendNew(songs []library.Model) int {
	added := 0
	for _, s := range songs {
		if p.indexOf(s.URI) != None {
			continue
		}
		p.songs = append(p.songs, s)
		added++
	}
	return added
}

// InsertAfterCurrent inserts song right after the cursor, or appends it
// when there is no cursor. A present song is left where it is.
func (p *Playlist) InsertAfterCurrent(song library.Model) int {
	p.mu.Lock()
	if i := p.indexOf(song.URI); i != None {
		p.mu.Unlock()
		return i
	}
	events := p.exitFM(nil)
	at := len(p.songs)
	if p.current != None {
		at = p.current + 1
	}
	p.insert(at, song)
	events = append(events, Event{Type: EventSongsAdded, Start: at, Count: 1})
	p.unlock(events)
	return at
}

// InsertAfter inserts song right after the song with uri, or appends it
// when uri is not in the playlist. A present song is left where it is.
// The mode is kept.
func (p *Playlist) InsertAfter(uri library.URI, song library.Model) int {
	p.mu.Lock()
	if i := p.indexOf(song.URI); i != None {
		p.mu.Unlock()
		return i
	}
	at := len(p.songs)
	if i := p.indexOf(uri); i != None {
		at = i + 1
	}
	p.insert(at, song)
	p.unlock([]Event{{Type: EventSongsAdded, Start: at, Count: 1}})
	return at
}

// insert must be called with p.mu held.
func (p *Playlist) insert(at int, song library.Model) {
	p.songs = append(p.songs, library.Model{})
	copy(p.songs[at+1:], p.songs[at:])
	p.songs[at] = song
	if p.current != None && p.current >= at {
		p.current++
	}
	for i, r := range p.recent {
		if r >= at {
			p.recent[i] = r + 1
		}
	}
}

// FMAdd appends song while in FM mode. Outside FM mode it does nothing.
func (p *Playlist) FMAdd(song library.Model) error {
	p.mu.Lock()
	if p.mode != ModeFM || p.indexOf(song.URI) != None {
		p.mu.Unlock()
		return nil
	}
	p.songs = append(p.songs, song)
	p.unlock([]Event{{Type: EventSongsAdded, Start: len(p.songs) - 1, Count: 1}})
	return nil
}

// Remove drops the song with uri. When it was current the cursor moves to
// the song that would have played next, or none.
func (p *Playlist) Remove(uri library.URI) (wasCurrent bool, err error) {
	p.mu.Lock()
	idx := p.indexOf(uri)
	if idx == None {
		p.mu.Unlock()
		return false, core.Errorf(core.KindNotFound, "%s is not in the playlist", uri)
	}
	p.songs = append(p.songs[:idx], p.songs[idx+1:]...)
	delete(p.bad, uri)
	recent := p.recent[:0]
	for _, r := range p.recent {
		switch {
		case r == idx:
		case r > idx:
			recent = append(recent, r-1)
		default:
			recent = append(recent, r)
		}
	}
	p.recent = recent

	events := []Event{{Type: EventSongsRemoved, Start: idx, Count: 1}}
	n := len(p.songs)
	switch {
	case p.current == idx:
		wasCurrent = true
		p.current = None
		switch {
		case n == 0:
		case p.mode == ModeShuffle:
			p.current = p.shuffleNext()
		case idx < n:
			p.current = idx
		case p.mode == ModeLoop:
			p.current = 0
		}
		events = append(events, Event{Type: EventSongChanged, Song: p.songAt(p.current)})
	case p.current > idx:
		p.current--
	}
	p.unlock(events)
	return wasCurrent, nil
}

// Clear empties the playlist and forgets recent and bad songs.
func (p *Playlist) Clear() {
	p.mu.Lock()
	n := len(p.songs)
	hadCurrent := p.current != None
	p.songs = nil
	p.current = None
	p.recent = nil
	p.bad = map[library.URI]bool{}
	events := []Event{}
	if n > 0 {
		events = append(events, Event{Type: EventSongsRemoved, Start: 0, Count: n})
	}
	if hadCurrent {
		events = append(events, Event{Type: EventSongChanged})
	}
	p.unlock(events)
}

// SetCurrent moves the cursor and emits song_changed.
func (p *Playlist) SetCurrent(index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.songs) {
		p.mu.Unlock()
		return core.Errorf(core.KindNotFound, "index %d out of range", index)
	}
	p.moveTo(index)
	p.unlock([]Event{{Type: EventSongChanged, Song: p.songs[index]}})
	return nil
}

// moveTo sets the cursor, remembering the song being left in recent.
// The new current song is never in recent.
func (p *Playlist) moveTo(index int) {
	if p.current != None && p.current != index {
		p.pushRecent(p.current)
	}
	p.dropRecent(index)
	p.current = index
}

func (p *Playlist) dropRecent(index int) {
	out := p.recent[:0]
	for _, r := range p.recent {
		if r != index {
			out = append(out, r)
		}
	}
	p.recent = out
}

func (p *Playlist) pushRecent(index int) {
	p.dropRecent(index)
	out := append(p.recent, index)
	if window := RecentWindow(len(p.songs)); len(out) > window {
		out = out[len(out)-window:]
	}
	p.recent = out
}

// RecentWindow is the shuffle no-repeat window for n songs.
func RecentWindow(n int) int {
	return min(5, max(1, n/2))
}

// MarkBad records that a song failed to play. Next and previous skip bad
// songs while good ones remain.
func (p *Playlist) MarkBad(uri library.URI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexOf(uri) != None {
		p.bad[uri] = true
	}
}

// SetMode switches the playback mode. Setting the current mode is a no-op.
// Entering FM mode without a cursor selects the last song.
func (p *Playlist) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	p.mu.Lock()
	if p.mode == mode {
		p.mu.Unlock()
		return nil
	}
	p.mode = mode
	events := []Event{{Type: EventModeChanged, Mode: mode}}
	if mode == ModeFM && p.current == None && len(p.songs) > 0 {
		p.moveTo(len(p.songs) - 1)
		events = append(events, Event{Type: EventSongChanged, Song: p.songs[p.current]})
	}
	p.unlock(events)
	return nil
}

// Next returns the index that would play next, or None. In FM mode at the
// end of the playlist it refills first.
func (p *Playlist) Next(ctx context.Context) (int, error) {
	return p.next(ctx, false)
}

// Advance moves the cursor to the next song and emits song_changed.
// It returns None when playback should end. In FM mode a failed refill
// returns ErrFetchFailed and leaves the cursor unchanged.
func (p *Playlist) Advance(ctx context.Context) (int, error) {
	return p.next(ctx, true)
}

func (p *Playlist) next(ctx context.Context, commit bool) (int, error) {
	p.mu.Lock()
	var events []Event
	idx := None
	if p.mode == ModeFM {
		// A missing cursor counts as sitting on the last song.
		target := p.current + 1
		if p.current == None {
			target = len(p.songs)
		}
		if target >= len(p.songs) {
			added, start, err := p.refill(ctx)
			events = append(events, added...)
			if err != nil {
				p.unlock(events)
				return None, err
			}
			target = start
		}
		idx = target
	} else {
		idx = p.nextIndex()
	}
	if commit && idx != None {
		p.moveTo(idx)
		events = append(events, Event{Type: EventSongChanged, Song: p.songs[idx]})
	}
	p.unlock(events)
	return idx, nil
}

// refill runs the FM fetch without holding the lock. It is called and
// returns with p.mu held, and reports where the new songs start.
func (p *Playlist) refill(ctx context.Context) ([]Event, int, error) {
	if p.fetching {
		return nil, None, ErrFetchInProgress
	}
	fetch := p.fetch
	if fetch == nil {
		return []Event{{Type: EventFMFetchFailed}}, None, ErrFetchFailed
	}
	p.fetching = true
	p.mu.Unlock()
	songs, err := fetch(ctx, FMMinPerFetch)
	p.mu.Lock()
	p.fetching = false
	if err != nil {
		return []Event{{Type: EventFMFetchFailed}}, None, errors.Join(ErrFetchFailed, err)
	}
	start := len(p.songs)
	added := p.appendNew(songs)
	if added == 0 {
		return []Event{{Type: EventFMFetchFailed}}, None, ErrFetchFailed
	}
	return []Event{{Type: EventSongsAdded, Start: start, Count: added}}, start, nil
}

func (p *Playlist) nextIndex() int {
	n := len(p.songs)
	if n == 0 {
		return None
	}
	switch p.mode {
	case ModeShuffle:
		return p.shuffleNext()
	case ModeOneLoop:
		if p.current != None && !p.bad[p.songs[p.current].URI] {
			return p.current
		}
		return p.scan(p.current, 1, true)
	case ModeLoop:
		return p.scan(p.current, 1, true)
	default:
		return p.scan(p.current, 1, false)
	}
}

// scan walks from start in direction step and returns the first good song.
// With wrap it visits every other song once.
func (p *Playlist) scan(start int, step int, wrap bool) int {
	n := len(p.songs)
	if start == None {
		if step > 0 {
			start = -1
		} else {
			start = n
		}
	}
	i := start
	for range n {
		i += step
		if wrap {
			i = ((i % n) + n) % n
		} else if i < 0 || i >= n {
			return None
		}
		if !p.bad[p.songs[i].URI] {
			return i
		}
	}
	return None
}

func (p *Playlist) shuffleNext() int {
	candidates := p.shuffleCandidates()
	if len(candidates) == 0 {
		p.recent = nil
		candidates = p.shuffleCandidates()
	}
	if len(candidates) == 0 {
		if p.current != None && len(p.songs) == 1 && !p.bad[p.songs[p.current].URI] {
			return p.current
		}
		return None
	}
	return candidates[p.rng.IntN(len(candidates))]
}

func (p *Playlist) shuffleCandidates() []int {
	skip := map[int]bool{p.current: true}
	for _, r := range p.recent {
		skip[r] = true
	}
	out := []int{}
	for i, s := range p.songs {
		if !skip[i] && !p.bad[s.URI] {
			out = append(out, i)
		}
	}
	return out
}

// Previous returns the index that would play before the current one, or None.
func (p *Playlist) Previous() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, _ := p.previousIndex()
	return idx
}

// Retreat moves the cursor back and emits song_changed.
func (p *Playlist) Retreat() int {
	p.mu.Lock()
	idx, fromRecent := p.previousIndex()
	var events []Event
	if idx != None {
		if fromRecent {
			p.recent = p.recent[:len(p.recent)-1]
			p.current = idx
		} else {
			p.moveTo(idx)
		}
		events = append(events, Event{Type: EventSongChanged, Song: p.songs[idx]})
	}
	p.unlock(events)
	return idx
}

func (p *Playlist) previousIndex() (int, bool) {
	n := len(p.songs)
	if n == 0 {
		return None, false
	}
	switch p.mode {
	case ModeShuffle:
		if len(p.recent) > 0 {
			return p.recent[len(p.recent)-1], true
		}
		return p.scan(p.current, -1, true), false
	case ModeOneLoop:
		if p.current != None {
			return p.current, false
		}
		return p.scan(None, -1, true), false
	case ModeLoop:
		return p.scan(p.current, -1, true), false
	default:
		return p.scan(p.current, -1, false), false
	}
}

// Songs returns a copy of the song sequence.
func (p *Playlist) Songs() []library.Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]library.Model(nil), p.songs...)
}

// Song returns the song at index.
func (p *Playlist) Song(index int) (library.Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.songs) {
		return library.Model{}, false
	}
	return p.songs[index], true
}

// Current returns the current song and its index.
func (p *Playlist) Current() (library.Model, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == None {
		return library.Model{}, None, false
	}
	return p.songs[p.current], p.current, true
}

// Index returns the index of uri, or None.
func (p *Playlist) Index(uri library.URI) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexOf(uri)
}

// Replace swaps in a newer snapshot of a song already in the playlist.
func (p *Playlist) Replace(song library.Model) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.indexOf(song.URI); i != None {
		p.songs[i] = song
	}
}

// Len returns the number of songs.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.songs)
}

// Mode returns the playback mode.
func (p *Playlist) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Recent returns a copy of the shuffle history.
func (p *Playlist) Recent() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.recent...)
}

func (p *Playlist) songAt(index int) library.Model {
	if index < 0 || index >= len(p.songs) {
		return library.Model{}
	}
	return p.songs[index]
}
