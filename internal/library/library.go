package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feeluown/fuocore/internal/core"
)

// Defaults applied by New when Options leaves a field zero.
const (
	DefaultCacheSize     = 512
	DefaultSearchTimeout = 5 * time.Second
	DefaultGetTimeout    = 3 * time.Second
	DefaultWorkers       = 8
)

// Options configure a Library.
type Options struct {
	Quality       Quality
	Strategy      Strategy
	SearchTimeout time.Duration
	GetTimeout    time.Duration
	CacheSize     int
	Workers       int

	// StandbySources limits standby searches to these providers. Empty
	// means all.
	StandbySources []string
}

// Library is the registry of providers and the model cache in front of them.
type Library struct {
	log  *zap.Logger
	opts Options

	mu        sync.RWMutex
	order     []string
	providers map[string]*entry
}

type entry struct {
	provider Provider
	cache    *lru.Cache[string, Model]
}

// New creates an empty library.
func New(log *zap.Logger, opts Options) *Library {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Quality == "" {
		opts.Quality = QualityHD
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyBetter
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	if opts.GetTimeout <= 0 {
		opts.GetTimeout = DefaultGetTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Library{log: log, opts: opts, providers: map[string]*entry{}}
}

// Options returns the effective options.
func (l *Library) Options() Options {
	return l.opts
}

// Register adds a provider. Provider ids are unique.
func (l *Library) Register(p Provider) error {
	id := p.ID()
	if !ValidProviderID(id) {
		return core.Errorf(core.KindBadURI, "invalid provider id %q", id)
	}
	cache, err := lru.New[string, Model](l.opts.CacheSize)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.providers[id]; ok {
		return core.Errorf(core.KindProviderExists, "provider %s already registered", id)
	}
	l.providers[id] = &entry{provider: p, cache: cache}
	l.order = append(l.order, id)
	l.log.Info("provider registered", zap.String("provider", id), zap.String("name", p.Name()))
	return nil
}

// Unregister removes a provider and drops its cached models.
func (l *Library) Unregister(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.providers[id]
	if !ok {
		return core.Errorf(core.KindNoSuchProvider, "provider %s", id)
	}
	e.cache.Purge()
	delete(l.providers, id)
	for i, pid := range l.order {
		if pid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

// Provider returns a registered provider.
func (l *Library) Provider(id string) (Provider, bool) {
	e, ok := l.entry(id)
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Providers lists providers in registration order.
func (l *Library) Providers() []Provider {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Provider, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.providers[id].provider)
	}
	return out
}

func (l *Library) entry(id string) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.providers[id]
	return e, ok
}

func (l *Library) mustEntry(id string) (*entry, error) {
	e, ok := l.entry(id)
	if !ok {
		return nil, core.Errorf(core.KindNoSuchProvider, "provider %s is not registered", id)
	}
	return e, nil
}

// Resolve parses raw into a display-stage model of a registered provider.
func (l *Library) Resolve(raw string) (Model, error) {
	uri, err := ParseURI(raw)
	if err != nil {
		return Model{}, err
	}
	if _, err := l.mustEntry(uri.Provider); err != nil {
		return Model{}, err
	}
	return Model{URI: uri, Stage: StageDisplay, Exists: ExistsUnknown}, nil
}

// Cached returns the cached full model for uri, if any.
func (l *Library) Cached(uri URI) (Model, bool) {
	e, ok := l.entry(uri.Provider)
	if !ok {
		return Model{}, false
	}
	return e.cache.Get(uri.String())
}

// Hydrate upgrades m to a full snapshot. Full models are cached per provider.
// When the provider reports NotFound the returned model has Exists=ExistsNo.
func (l *Library) Hydrate(ctx context.Context, m Model) (Model, error) {
	if m.Stage == StageFull {
		return m, nil
	}
	e, err := l.mustEntry(m.URI.Provider)
	if err != nil {
		return m, err
	}
	key := m.URI.String()
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}
	getter, ok := e.provider.(Getter)
	if !ok {
		return m, core.Errorf(core.KindUnsupported, "provider %s cannot get %s", m.URI.Provider, m.Kind())
	}

	full, err := callWithTimeout(ctx, l.opts.GetTimeout, func(ctx context.Context) (Model, error) {
		return getter.Get(ctx, m.URI.Kind, m.URI.ID)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.Exists = ExistsNo
			return m, core.Errorf(core.KindNotFound, "%s", key)
		}
		return m, providerError(m.URI.Provider, err)
	}
	full.URI = m.URI
	full.Stage = StageFull
	full.Exists = ExistsYes
	e.cache.Add(key, full)
	return full, nil
}

// Get resolves and hydrates raw.
func (l *Library) Get(ctx context.Context, raw string) (Model, error) {
	m, err := l.Resolve(raw)
	if err != nil {
		return Model{}, err
	}
	return l.Hydrate(ctx, m)
}

// Batch hydrates many models. Providers implementing Lister are asked once
// per kind; others are hydrated in parallel on the worker pool.
// Models the provider does not know come back with Exists=ExistsNo.
func (l *Library) Batch(ctx context.Context, uris []URI) ([]Model, error) {
	out := make([]Model, len(uris))
	type group struct {
		provider string
		kind     ModelKind
		indexes  []int
	}
	groups := []*group{}
	byKey := map[string]*group{}
	for i, uri := range uris {
		out[i] = Model{URI: uri}
		if cached, ok := l.Cached(uri); ok {
			out[i] = cached
			continue
		}
		key := uri.Provider + "/" + string(uri.Kind)
		g, ok := byKey[key]
		if !ok {
			g = &group{provider: uri.Provider, kind: uri.Kind}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
	}

	var eg errgroup.Group
	eg.SetLimit(l.opts.Workers)
	var mu sync.Mutex
	for _, g := range groups {
		e, err := l.mustEntry(g.provider)
		if err != nil {
			return nil, err
		}
		if lister, ok := e.provider.(Lister); ok {
			g := g
			eg.Go(func() error {
				ids := make([]string, len(g.indexes))
				for j, idx := range g.indexes {
					ids[j] = uris[idx].ID
				}
				models, err := callWithTimeout(ctx, l.opts.GetTimeout, func(ctx context.Context) ([]Model, error) {
					return lister.List(ctx, g.kind, ids)
				})
				if err != nil {
					return providerError(g.provider, err)
				}
				found := map[string]Model{}
				for _, m := range models {
					found[m.URI.ID] = m
				}
				mu.Lock()
				defer mu.Unlock()
				for _, idx := range g.indexes {
					uri := uris[idx]
					m, ok := found[uri.ID]
					if !ok || m.Exists == ExistsNo {
						out[idx] = Model{URI: uri, Exists: ExistsNo}
						continue
					}
					m.URI = uri
					m.Stage = StageFull
					m.Exists = ExistsYes
					e.cache.Add(uri.String(), m)
					out[idx] = m
				}
				return nil
			})
			continue
		}
		for _, idx := range g.indexes {
			idx := idx
			eg.Go(func() error {
				m, err := l.Hydrate(ctx, out[idx])
				if err != nil && !errors.Is(err, core.ErrNotFound) {
					return err
				}
				mu.Lock()
				out[idx] = m
				mu.Unlock()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SongMedia resolves a playable URL for song at the configured quality.
func (l *Library) SongMedia(ctx context.Context, song Model) (string, Quality, error) {
	e, err := l.mustEntry(song.URI.Provider)
	if err != nil {
		return "", "", err
	}
	resolver, ok := e.provider.(MediaResolver)
	if !ok {
		return "", "", core.Errorf(core.KindUnsupported, "provider %s has no media", song.URI.Provider)
	}
	media, err := callWithTimeout(ctx, l.opts.GetTimeout, func(ctx context.Context) (Media, error) {
		return resolver.SongMedia(ctx, song, l.opts.Quality)
	})
	if err != nil {
		return "", "", providerError(song.URI.Provider, err)
	}
	return SelectMedia(media, l.opts.Quality, l.opts.Strategy)
}

// SongLyric returns the LRC text of song, or "" when there is none.
func (l *Library) SongLyric(ctx context.Context, song Model) (string, error) {
	e, err := l.mustEntry(song.URI.Provider)
	if err != nil {
		return "", err
	}
	fetcher, ok := e.provider.(LyricFetcher)
	if !ok {
		return "", nil
	}
	lyric, err := callWithTimeout(ctx, l.opts.GetTimeout, func(ctx context.Context) (string, error) {
		return fetcher.SongLyric(ctx, song)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", nil
		}
		return "", providerError(song.URI.Provider, err)
	}
	return lyric, nil
}

// UserPlaylists lists the playlists of user.
func (l *Library) UserPlaylists(ctx context.Context, user Model) ([]Model, error) {
	e, err := l.mustEntry(user.URI.Provider)
	if err != nil {
		return nil, err
	}
	p, ok := e.provider.(UserPlaylister)
	if !ok {
		return nil, core.Errorf(core.KindUnsupported, "provider %s has no user playlists", user.URI.Provider)
	}
	playlists, err := callWithTimeout(ctx, l.opts.GetTimeout, func(ctx context.Context) ([]Model, error) {
		return p.UserPlaylists(ctx, user)
	})
	if err != nil {
		return nil, providerError(user.URI.Provider, err)
	}
	return playlists, nil
}

// PlaylistAdd adds song to a provider playlist.
func (l *Library) PlaylistAdd(ctx context.Context, playlist Model, song Model) error {
	return l.editPlaylist(ctx, playlist, func(ctx context.Context, ed PlaylistEditor) error {
		return ed.PlaylistAdd(ctx, playlist, song)
	})
}

// PlaylistRemove removes song from a provider playlist.
func (l *Library) PlaylistRemove(ctx context.Context, playlist Model, song Model) error {
	return l.editPlaylist(ctx, playlist, func(ctx context.Context, ed PlaylistEditor) error {
		return ed.PlaylistRemove(ctx, playlist, song)
	})
}

func (l *Library) editPlaylist(ctx context.Context, playlist Model, fn func(context.Context, PlaylistEditor) error) error {
	if playlist.Kind() != KindPlaylist {
		return core.Errorf(core.KindBadURI, "%s is not a playlist", playlist.URI)
	}
	e, err := l.mustEntry(playlist.URI.Provider)
	if err != nil {
		return err
	}
	ed, ok := e.provider.(PlaylistEditor)
	if !ok {
		return core.Errorf(core.KindUnsupported, "provider %s cannot edit playlists", playlist.URI.Provider)
	}
	_, err = callWithTimeout(ctx, l.opts.GetTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, ed)
	})
	if err != nil {
		return providerError(playlist.URI.Provider, err)
	}
	e.cache.Remove(playlist.URI.String())
	return nil
}

// RadioFetcher returns an FM fetch function backed by a provider's Radio
// capability.
func (l *Library) RadioFetcher(providerID string) (func(ctx context.Context, minCount int) ([]Model, error), error) {
	e, err := l.mustEntry(providerID)
	if err != nil {
		return nil, err
	}
	radio, ok := e.provider.(Radio)
	if !ok {
		return nil, core.Errorf(core.KindUnsupported, "provider %s has no radio", providerID)
	}
	return func(ctx context.Context, minCount int) ([]Model, error) {
		songs, err := callWithTimeout(ctx, l.opts.SearchTimeout, func(ctx context.Context) ([]Model, error) {
			return radio.RadioSongs(ctx, minCount)
		})
		if err != nil {
			return nil, providerError(providerID, err)
		}
		return songs, nil
	}, nil
}

// Close releases providers in reverse registration order.
func (l *Library) Close() error {
	l.mu.Lock()
	order := append([]string(nil), l.order...)
	entries := l.providers
	l.providers = map[string]*entry{}
	l.order = nil
	l.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		e := entries[order[i]]
		e.cache.Purge()
		if closer, ok := e.provider.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", order[i], err))
			}
		}
	}
	return errors.Join(errs...)
}

// callWithTimeout runs fn with a deadline and returns when the deadline
// passes even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// providerError classifies a provider failure. Errors that already carry a
// kind keep it.
func providerError(provider string, err error) error {
	var e *core.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Errorf(core.KindProviderTimeout, "%s timed out", provider)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.Wrap(core.KindProviderError, "", err)
}
