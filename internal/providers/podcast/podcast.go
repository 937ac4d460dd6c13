// Package podcast serves RSS and Atom feeds. Feeds are playlists and their
// episodes are songs.
package podcast

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/internal/ports"
)

// ID is the provider id.
const ID = "podcast"

// Config configures the podcast provider.
type Config struct {
	Feeds           []string
	RefreshInterval time.Duration
	CacheDir        string
	Timeout         time.Duration
	// NewestFirst orders episodes by publish date instead of title.
	NewestFirst bool
}

// Provider serves podcast feeds.
type Provider struct {
	log   *zap.Logger
	fs    afero.Fs
	http  *http.Client
	clock ports.Clock
	cfg   Config

	mu    sync.Mutex
	feeds map[string]*feedCache
}

type feedCache struct {
	Feed cachedFeed
	ByID map[string]cachedEpisode
}

type cachedFeed struct {
	FeedURL     string          `json:"feedUrl"`
	FeedID      string          `json:"feedId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Author      string          `json:"author"`
	ImageURL    string          `json:"imageUrl"`
	FetchedAt   int64           `json:"fetchedAt"`
	Episodes    []cachedEpisode `json:"episodes"`
}

type cachedEpisode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Published   int64  `json:"published"`
	DurationMS  int64  `json:"durationMs"`
	AudioURL    string `json:"audioUrl"`
	AudioType   string `json:"audioType"`
	ImageURL    string `json:"imageUrl"`
	Author      string `json:"author"`
}

// New creates the provider. The cache directory is created on fs.
func New(log *zap.Logger, fs afero.Fs, clock ports.Clock, cfg Config) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Feeds = lo.Compact(lo.Map(cfg.Feeds, func(f string, _ int) string { return strings.TrimSpace(f) }))
	if len(cfg.Feeds) == 0 {
		return nil, core.New(core.KindBadOption, "podcast provider: feeds required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.CacheDir) == "" {
		return nil, core.New(core.KindBadOption, "podcast provider: cache dir required")
	}
	if err := fs.MkdirAll(cfg.CacheDir, 0o750); err != nil {
		return nil, err
	}
	return &Provider{
		log:   log,
		fs:    fs,
		http:  &http.Client{Timeout: cfg.Timeout},
		clock: clock,
		cfg:   cfg,
		feeds: make(map[string]*feedCache),
	}, nil
}

// SetHTTPClient replaces the client used to fetch feeds.
func (p *Provider) SetHTTPClient(c *http.Client) {
	p.http = c
}

func (p *Provider) ID() string   { return ID }
func (p *Provider) Name() string { return "Podcasts" }

func uri(kind library.ModelKind, id string) library.URI {
	return library.URI{Provider: ID, Kind: kind, ID: id}
}

func (f cachedFeed) model(songs []library.Model) library.Model {
	m := library.Model{
		URI:         uri(library.KindPlaylist, f.FeedID),
		Title:       f.Title,
		Description: f.Description,
		CoverURL:    f.ImageURL,
		Songs:       songs,
	}
	if f.Author != "" {
		creator := library.Display(uri(library.KindUser, hashID(f.Author)), f.Author)
		m.Creator = &creator
	}
	return m
}

func (e cachedEpisode) model(feed cachedFeed) library.Model {
	album := library.Display(uri(library.KindPlaylist, feed.FeedID), feed.Title)
	m := library.Model{
		URI:         uri(library.KindSong, e.ID),
		Stage:       library.StageFull,
		Exists:      library.ExistsYes,
		Title:       e.Title,
		Album:       &album,
		DurationMS:  e.DurationMS,
		CoverURL:    e.ImageURL,
		Description: e.Description,
	}
	if e.Author != "" {
		m.Artists = []library.Model{library.Display(uri(library.KindArtist, hashID(e.Author)), e.Author)}
	}
	return m
}

// Search matches feed titles and episode titles or descriptions.
func (p *Provider) Search(ctx context.Context, keyword string, kinds []library.ModelKind, limit int) (library.SearchResult, error) {
	query := strings.ToLower(strings.TrimSpace(keyword))
	var res library.SearchResult
	if query == "" {
		return res, nil
	}
	type hit struct {
		song      library.Model
		published int64
	}
	hits := []hit{}
	for _, feedURL := range p.cfg.Feeds {
		feed, err := p.loadFeed(ctx, feedURL)
		if err != nil {
			p.log.Warn("load feed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}
		if matchesQuery(query, feed.Feed.Title, feed.Feed.Description) {
			res.Playlists = append(res.Playlists, feed.Feed.model(nil).Ref())
		}
		for _, ep := range feed.Feed.Episodes {
			if ep.AudioURL == "" || !matchesQuery(query, ep.Title, ep.Description) {
				continue
			}
			hits = append(hits, hit{song: ep.model(feed.Feed), published: ep.Published})
		}
	}
	if p.cfg.NewestFirst {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].published > hits[j].published })
	} else {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].song.Title < hits[j].song.Title })
	}
	res.Songs = lo.Map(hits, func(h hit, _ int) library.Model { return h.song })
	return res.Trim(kinds, limit), nil
}

// Get returns a feed as a playlist or a single episode.
func (p *Provider) Get(ctx context.Context, kind library.ModelKind, id string) (library.Model, error) {
	switch kind {
	case library.KindPlaylist:
		feed, err := p.loadFeedByID(ctx, id)
		if err != nil {
			return library.Model{}, err
		}
		return feed.Feed.model(p.episodes(feed)), nil
	case library.KindSong:
		ep, feed, ok := p.findEpisode(ctx, id)
		if !ok {
			return library.Model{}, core.ErrNotFound
		}
		return ep.model(feed), nil
	}
	return library.Model{}, core.Errorf(core.KindUnsupported, "podcast provider has no %s", kind.Plural())
}

func (p *Provider) episodes(feed *feedCache) []library.Model {
	eps := lo.Filter(feed.Feed.Episodes, func(e cachedEpisode, _ int) bool { return e.AudioURL != "" })
	if p.cfg.NewestFirst {
		sort.SliceStable(eps, func(i, j int) bool { return eps[i].Published > eps[j].Published })
	} else {
		sort.SliceStable(eps, func(i, j int) bool { return eps[i].Title < eps[j].Title })
	}
	return lo.Map(eps, func(e cachedEpisode, _ int) library.Model { return e.model(feed.Feed) })
}

// SongMedia returns the enclosure at the sd tier.
func (p *Provider) SongMedia(ctx context.Context, song library.Model, _ library.Quality) (library.Media, error) {
	ep, _, ok := p.findEpisode(ctx, song.URI.ID)
	if !ok {
		return library.Media{}, core.ErrNotFound
	}
	if ep.AudioURL == "" {
		return library.Media{}, core.New(core.KindNoMediaAtQuality, "episode has no audio url")
	}
	return library.Media{SD: ep.AudioURL}, nil
}

// Refresh drops in-memory feeds so the next access reloads them.
func (p *Provider) Refresh() {
	p.mu.Lock()
	p.feeds = make(map[string]*feedCache)
	p.mu.Unlock()
}

func (p *Provider) findEpisode(ctx context.Context, id string) (cachedEpisode, cachedFeed, bool) {
	for _, feedURL := range p.cfg.Feeds {
		feed, err := p.loadFeed(ctx, feedURL)
		if err != nil {
			continue
		}
		if ep, ok := feed.ByID[id]; ok {
			return ep, feed.Feed, true
		}
	}
	return cachedEpisode{}, cachedFeed{}, false
}

func (p *Provider) loadFeedByID(ctx context.Context, feedID string) (*feedCache, error) {
	for _, feedURL := range p.cfg.Feeds {
		if hashID(feedURL) == feedID {
			return p.loadFeed(ctx, feedURL)
		}
	}
	return nil, core.ErrNotFound
}

func (p *Provider) loadFeed(ctx context.Context, feedURL string) (*feedCache, error) {
	feedID := hashID(feedURL)

	p.mu.Lock()
	if feed, ok := p.feeds[feedID]; ok && !p.isStale(feed.Feed.FetchedAt) {
		p.mu.Unlock()
		return feed, nil
	}
	p.mu.Unlock()

	cachePath := filepath.Join(p.cfg.CacheDir, fmt.Sprintf("podcast_%s.json", feedID))
	cached, err := p.readCache(cachePath)
	if err != nil {
		p.log.Warn("read feed cache", zap.String("path", cachePath), zap.Error(err))
	}
	if cached != nil && !p.isStale(cached.FetchedAt) {
		return p.remember(feedID, cached), nil
	}

	fetched, fetchErr := p.fetchFeed(ctx, feedURL)
	if fetchErr != nil {
		if cached != nil {
			p.log.Debug("serving stale feed", zap.String("feed", feedURL), zap.Error(fetchErr))
			return p.remember(feedID, cached), nil
		}
		return nil, fetchErr
	}
	if err := p.writeCache(cachePath, fetched); err != nil {
		p.log.Warn("write feed cache", zap.Error(err))
	}
	return p.remember(feedID, fetched), nil
}

func (p *Provider) remember(feedID string, feed *cachedFeed) *feedCache {
	fc := &feedCache{Feed: *feed, ByID: indexEpisodes(feed.Episodes)}
	p.mu.Lock()
	p.feeds[feedID] = fc
	p.mu.Unlock()
	return fc
}

func (p *Provider) isStale(fetchedAt int64) bool {
	if fetchedAt == 0 {
		return true
	}
	return time.Duration(p.clock.NowUnix()-fetchedAt)*time.Second > p.cfg.RefreshInterval
}

func (p *Provider) fetchFeed(ctx context.Context, feedURL string) (*cachedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, core.Wrap(core.KindBadURI, feedURL, err)
	}
	req.Header.Set("User-Agent", "fuocore/1.0")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed fetch failed: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, err
	}

	feedID := hashID(feedURL)
	title := strings.TrimSpace(feed.Title)
	if title == "" {
		title = feedURL
	}
	author := bestFeedAuthor(feed)
	image := bestFeedImage(feed)

	episodes := make([]cachedEpisode, 0, len(feed.Items))
	for _, item := range feed.Items {
		ep := buildEpisode(feedID, feed, item, image, author)
		if ep.ID == "" {
			continue
		}
		episodes = append(episodes, ep)
	}
	return &cachedFeed{
		FeedURL:     feedURL,
		FeedID:      feedID,
		Title:       title,
		Description: strings.TrimSpace(feed.Description),
		Author:      author,
		ImageURL:    image,
		FetchedAt:   p.clock.NowUnix(),
		Episodes:    episodes,
	}, nil
}

func buildEpisode(feedID string, feed *gofeed.Feed, item *gofeed.Item, fallbackImage, fallbackAuthor string) cachedEpisode {
	if item == nil {
		return cachedEpisode{}
	}
	audioURL, audioType := pickEnclosure(item)
	key := lo.CoalesceOrEmpty(strings.TrimSpace(item.GUID), audioURL, strings.TrimSpace(item.Link), strings.TrimSpace(item.Title))
	if key == "" {
		return cachedEpisode{}
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = key
	}
	return cachedEpisode{
		ID:          hashID(feedID + ":" + key),
		Title:       title,
		Description: strings.TrimSpace(item.Description),
		Published:   toUnix(item.PublishedParsed),
		DurationMS:  parseDurationMS(item),
		AudioURL:    audioURL,
		AudioType:   audioType,
		ImageURL:    lo.CoalesceOrEmpty(bestItemImage(item), fallbackImage),
		Author:      lo.CoalesceOrEmpty(bestItemAuthor(item, feed), fallbackAuthor),
	}
}

func pickEnclosure(item *gofeed.Item) (string, string) {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL, enc.Type
		}
	}
	return "", ""
}

func bestFeedAuthor(feed *gofeed.Feed) string {
	if feed == nil {
		return ""
	}
	if feed.Author != nil && feed.Author.Name != "" {
		return strings.TrimSpace(feed.Author.Name)
	}
	if feed.ITunesExt != nil && feed.ITunesExt.Author != "" {
		return strings.TrimSpace(feed.ITunesExt.Author)
	}
	return ""
}

func bestItemAuthor(item *gofeed.Item, feed *gofeed.Feed) string {
	if item.Author != nil && item.Author.Name != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	if item.ITunesExt != nil && item.ITunesExt.Author != "" {
		return strings.TrimSpace(item.ITunesExt.Author)
	}
	return bestFeedAuthor(feed)
}

func bestFeedImage(feed *gofeed.Feed) string {
	if feed.Image != nil && feed.Image.URL != "" {
		return feed.Image.URL
	}
	if feed.ITunesExt != nil && feed.ITunesExt.Image != "" {
		return feed.ITunesExt.Image
	}
	return ""
}

func bestItemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if item.ITunesExt != nil && item.ITunesExt.Image != "" {
		return item.ITunesExt.Image
	}
	return ""
}

// parseDurationMS reads itunes:duration as seconds or [hh:]mm:ss.
func parseDurationMS(item *gofeed.Item) int64 {
	if item.ITunesExt == nil {
		return 0
	}
	raw := strings.TrimSpace(item.ITunesExt.Duration)
	if raw == "" {
		return 0
	}
	var total int64
	for _, part := range strings.Split(raw, ":") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total * 1000
}

func toUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func matchesQuery(query string, fields ...string) bool {
	return lo.SomeBy(fields, func(f string) bool { return strings.Contains(strings.ToLower(f), query) })
}

func indexEpisodes(episodes []cachedEpisode) map[string]cachedEpisode {
	out := make(map[string]cachedEpisode, len(episodes))
	for _, ep := range episodes {
		if ep.ID != "" {
			out[ep.ID] = ep
		}
	}
	return out
}

func hashID(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:10])
}

func (p *Provider) readCache(path string) (*cachedFeed, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cached cachedFeed
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (p *Provider) writeCache(path string, cached *cachedFeed) error {
	data, err := json.MarshalIndent(cached, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, data, 0o640); err != nil {
		return err
	}
	return p.fs.Rename(tmp, path)
}
