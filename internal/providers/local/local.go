// Package local serves music files from local directories.
package local

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
)

// ID is the provider id.
const ID = "local"

// DefaultScanInterval is how often roots are rescanned.
const DefaultScanInterval = 15 * time.Minute

var defaultExts = []string{".mp3", ".flac", ".ogg", ".m4a", ".opus", ".wav"}

// Config configures the local provider.
type Config struct {
	Roots        []string
	IncludeExts  []string
	ScanInterval time.Duration
}

type track struct {
	id       string
	path     string
	title    string
	artist   string
	album    string
	artistID string
	albumID  string
}

type index struct {
	songs   map[string]track
	order   []string
	albums  map[string][]string
	artists map[string][]string
}

// Provider scans Roots and serves the files found.
type Provider struct {
	log  *zap.Logger
	fs   afero.Fs
	cfg  Config
	exts map[string]bool

	mu  sync.RWMutex
	idx index
}

// New creates the provider. Call Scan or Run to populate it.
func New(log *zap.Logger, fs afero.Fs, cfg Config) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	roots := lo.Filter(lo.Map(cfg.Roots, func(r string, _ int) string { return strings.TrimSpace(r) }),
		func(r string, _ int) bool { return r != "" })
	if len(roots) == 0 {
		return nil, core.New(core.KindBadOption, "local provider: roots required")
	}
	cfg.Roots = roots
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if len(cfg.IncludeExts) == 0 {
		cfg.IncludeExts = defaultExts
	}
	return &Provider{log: log, fs: fs, cfg: cfg, exts: buildExtMap(cfg.IncludeExts), idx: emptyIndex()}, nil
}

func emptyIndex() index {
	return index{songs: map[string]track{}, albums: map[string][]string{}, artists: map[string][]string{}}
}

func (p *Provider) ID() string   { return ID }
func (p *Provider) Name() string { return "Local music" }

// Run rescans periodically until ctx is done.
func (p *Provider) Run(ctx context.Context) error {
	if err := p.Scan(); err != nil {
		p.log.Warn("initial scan failed", zap.Error(err))
	}
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Scan(); err != nil {
				p.log.Warn("scan failed", zap.Error(err))
			}
		}
	}
}

// Scan walks every root and replaces the index.
func (p *Provider) Scan() error {
	started := time.Now()
	next := emptyIndex()
	for _, root := range p.cfg.Roots {
		err := afero.Walk(p.fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				p.log.Debug("walk error", zap.String("path", path), zap.Error(err))
				return nil
			}
			if info.IsDir() || !p.exts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			t := p.buildTrack(path)
			if _, dup := next.songs[t.id]; dup {
				return nil
			}
			next.songs[t.id] = t
			next.order = append(next.order, t.id)
			next.albums[t.albumID] = append(next.albums[t.albumID], t.id)
			next.artists[t.artistID] = append(next.artists[t.artistID], t.id)
			return nil
		})
		if err != nil {
			p.log.Warn("walk failed", zap.String("root", root), zap.Error(err))
		}
	}
	sort.Slice(next.order, func(i, j int) bool {
		return next.songs[next.order[i]].path < next.songs[next.order[j]].path
	})
	for _, ids := range []map[string][]string{next.albums, next.artists} {
		for k := range ids {
			sort.Slice(ids[k], func(i, j int) bool {
				return next.songs[ids[k][i]].path < next.songs[ids[k][j]].path
			})
		}
	}

	p.mu.Lock()
	p.idx = next
	p.mu.Unlock()
	p.log.Info("scan complete", zap.Duration("elapsed", time.Since(started)), zap.Int("songs", len(next.songs)))
	return nil
}

func (p *Provider) buildTrack(path string) track {
	meta, err := p.readTags(path)
	if err != nil {
		meta = fallbackMetadata(path)
	}
	if meta.title == "" {
		meta.title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if meta.artist == "" {
		meta.artist = "Unknown Artist"
	}
	if meta.album == "" {
		meta.album = "Unknown Album"
	}
	return track{
		id:       hashID(path),
		path:     path,
		title:    meta.title,
		artist:   meta.artist,
		album:    meta.album,
		artistID: hashID(strings.ToLower(meta.artist)),
		albumID:  hashID(strings.ToLower(meta.artist + "\x00" + meta.album)),
	}
}

type tagMetadata struct {
	title  string
	artist string
	album  string
}

func (p *Provider) readTags(path string) (tagMetadata, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return tagMetadata{}, err
	}
	defer f.Close()
	m, err := tag.ReadFrom(f)
	if err != nil {
		return tagMetadata{}, err
	}
	artist := strings.TrimSpace(m.Artist())
	if artist == "" {
		artist = strings.TrimSpace(m.AlbumArtist())
	}
	return tagMetadata{
		title:  strings.TrimSpace(m.Title()),
		artist: artist,
		album:  strings.TrimSpace(m.Album()),
	}, nil
}

// fallbackMetadata reads "Artist - Title" file names inside Artist/Album
// directories.
func fallbackMetadata(path string) tagMetadata {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	meta := tagMetadata{title: name}
	if artist, title, ok := strings.Cut(name, " - "); ok {
		meta.artist = strings.TrimSpace(artist)
		meta.title = strings.TrimSpace(title)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		meta.album = filepath.Base(dir)
		parent := filepath.Base(filepath.Dir(dir))
		if meta.artist == "" && parent != "" && parent != "." && parent != string(filepath.Separator) {
			meta.artist = parent
		}
	}
	return meta
}

func buildExtMap(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}

func hashID(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func uri(kind library.ModelKind, id string) library.URI {
	return library.URI{Provider: ID, Kind: kind, ID: id}
}

func (t track) artistRef() library.Model {
	return library.Display(uri(library.KindArtist, t.artistID), t.artist)
}

func (t track) albumRef() library.Model {
	return library.Display(uri(library.KindAlbum, t.albumID), t.album)
}

func (t track) model() library.Model {
	album := t.albumRef()
	return library.Model{
		URI:     uri(library.KindSong, t.id),
		Stage:   library.StageFull,
		Exists:  library.ExistsYes,
		Title:   t.title,
		Artists: []library.Model{t.artistRef()},
		Album:   &album,
	}
}

// Search matches keyword against titles, albums and artists.
func (p *Provider) Search(ctx context.Context, keyword string, kinds []library.ModelKind, limit int) (library.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return library.SearchResult{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	var res library.SearchResult
	seenAlbum := map[string]bool{}
	seenArtist := map[string]bool{}
	for _, id := range p.idx.order {
		t := p.idx.songs[id]
		if fuzzy.MatchFold(keyword, t.title) || fuzzy.MatchFold(keyword, t.artist+" "+t.title) {
			res.Songs = append(res.Songs, t.model())
		}
		if !seenAlbum[t.albumID] && fuzzy.MatchFold(keyword, t.album) {
			seenAlbum[t.albumID] = true
			res.Albums = append(res.Albums, t.albumRef())
		}
		if !seenArtist[t.artistID] && fuzzy.MatchFold(keyword, t.artist) {
			seenArtist[t.artistID] = true
			res.Artists = append(res.Artists, t.artistRef())
		}
	}
	rankByTitle(keyword, res.Songs)
	return res.Trim(kinds, limit), nil
}

// rankByTitle orders models by fuzzy distance, closest first.
func rankByTitle(keyword string, models []library.Model) {
	dist := make(map[library.URI]int, len(models))
	for _, m := range models {
		dist[m.URI] = fuzzy.RankMatchFold(keyword, m.Title)
	}
	sort.SliceStable(models, func(i, j int) bool {
		return rankOf(dist[models[i].URI]) < rankOf(dist[models[j].URI])
	})
}

// rankOf puts non-matching titles (-1) last.
func rankOf(d int) int {
	if d < 0 {
		return 1 << 30
	}
	return d
}

// Get returns a full song, album or artist.
func (p *Provider) Get(ctx context.Context, kind library.ModelKind, id string) (library.Model, error) {
	if err := ctx.Err(); err != nil {
		return library.Model{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch kind {
	case library.KindSong:
		t, ok := p.idx.songs[id]
		if !ok {
			return library.Model{}, core.ErrNotFound
		}
		return t.model(), nil
	case library.KindAlbum:
		ids, ok := p.idx.albums[id]
		if !ok || len(ids) == 0 {
			return library.Model{}, core.ErrNotFound
		}
		first := p.idx.songs[ids[0]]
		m := first.albumRef()
		m.Stage, m.Exists = library.StageFull, library.ExistsYes
		m.Artists = []library.Model{first.artistRef()}
		m.Songs = p.models(ids)
		return m, nil
	case library.KindArtist:
		ids, ok := p.idx.artists[id]
		if !ok || len(ids) == 0 {
			return library.Model{}, core.ErrNotFound
		}
		first := p.idx.songs[ids[0]]
		m := first.artistRef()
		m.Stage, m.Exists = library.StageFull, library.ExistsYes
		m.Songs = p.models(ids)
		m.Albums = lo.UniqBy(lo.Map(ids, func(id string, _ int) library.Model {
			return p.idx.songs[id].albumRef()
		}), func(a library.Model) library.URI { return a.URI })
		return m, nil
	}
	return library.Model{}, core.Errorf(core.KindUnsupported, "local provider has no %s", kind.Plural())
}

func (p *Provider) models(ids []string) []library.Model {
	return lo.Map(ids, func(id string, _ int) library.Model { return p.idx.songs[id].model() })
}

// List resolves many songs at once.
func (p *Provider) List(ctx context.Context, kind library.ModelKind, ids []string) ([]library.Model, error) {
	out := make([]library.Model, len(ids))
	for i, id := range ids {
		m, err := p.Get(ctx, kind, id)
		if err != nil {
			m = library.Model{URI: uri(kind, id), Exists: library.ExistsNo}
		}
		out[i] = m
	}
	return out, nil
}

func (p *Provider) track(song library.Model) (track, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.idx.songs[song.URI.ID]
	if !ok {
		return track{}, core.ErrNotFound
	}
	return t, nil
}

// SongMedia serves the file itself as the lossless tier.
func (p *Provider) SongMedia(_ context.Context, song library.Model, _ library.Quality) (library.Media, error) {
	t, err := p.track(song)
	if err != nil {
		return library.Media{}, err
	}
	abs, err := filepath.Abs(t.path)
	if err != nil {
		abs = t.path
	}
	return library.Media{SQ: (&url.URL{Scheme: "file", Path: abs}).String()}, nil
}

// SongLyric reads the .lrc file next to the song.
func (p *Provider) SongLyric(_ context.Context, song library.Model) (string, error) {
	t, err := p.track(song)
	if err != nil {
		return "", err
	}
	lrc := strings.TrimSuffix(t.path, filepath.Ext(t.path)) + ".lrc"
	f, err := p.fs.Open(lrc)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RadioSongs picks random songs for FM mode.
func (p *Provider) RadioSongs(_ context.Context, minCount int) ([]library.Model, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.idx.order) == 0 {
		return nil, core.New(core.KindNotFound, "local library is empty")
	}
	picked := lo.Samples(p.idx.order, max(minCount, 1))
	return p.models(picked), nil
}

// Len returns the number of indexed songs.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.idx.songs)
}
