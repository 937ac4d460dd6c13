// Package jellyfin serves music from a Jellyfin server over its HTTP JSON API.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/library"
)

// ID is the provider id.
const ID = "jellyfin"

const itemFields = "RunTimeTicks,Overview,Artists,ArtistItems,Album,AlbumId,AlbumArtist,ImageTags"

// Transcoded bitrates per quality tier. sq is the untouched static stream.
var tierBitrates = map[library.Quality]int{
	library.QualityHD: 320000,
	library.QualitySD: 192000,
	library.QualityLD: 128000,
}

var errNotFound = errors.New("jellyfin: not found")

// Config configures the Jellyfin provider.
type Config struct {
	BaseURL string
	APIKey  string
	UserID  string
	Timeout time.Duration
}

// Provider talks to one Jellyfin server as one user.
type Provider struct {
	log    *zap.Logger
	http   *http.Client
	config Config
}

type jfItemsResponse struct {
	Items            []jfItem `json:"Items"`
	TotalRecordCount int64    `json:"TotalRecordCount"`
	StartIndex       int64    `json:"StartIndex"`
}

type jfRef struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type jfItem struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	Type           string            `json:"Type"`
	MediaType      string            `json:"MediaType"`
	Overview       string            `json:"Overview"`
	RunTimeTicks   int64             `json:"RunTimeTicks"`
	Artists        []string          `json:"Artists"`
	ArtistItems    []jfRef           `json:"ArtistItems"`
	Album          string            `json:"Album"`
	AlbumID        string            `json:"AlbumId"`
	AlbumArtist    string            `json:"AlbumArtist"`
	ImageTags      map[string]string `json:"ImageTags"`
	PlaylistItemID string            `json:"PlaylistItemId"`
}

// New creates a Jellyfin provider.
func New(log *zap.Logger, cfg Config) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.New(core.KindBadOption, "jellyfin: base_url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.New(core.KindBadOption, "jellyfin: api_key required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, core.New(core.KindBadOption, "jellyfin: user_id required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{log: log, http: &http.Client{Timeout: cfg.Timeout}, config: cfg}, nil
}

// SetHTTPClient replaces the API client.
func (p *Provider) SetHTTPClient(c *http.Client) {
	p.http = c
}

func (p *Provider) ID() string   { return ID }
func (p *Provider) Name() string { return "Jellyfin" }

func uri(kind library.ModelKind, id string) library.URI {
	return library.URI{Provider: ID, Kind: kind, ID: id}
}

func kindOf(item jfItem) (library.ModelKind, bool) {
	switch strings.ToLower(item.Type) {
	case "audio":
		return library.KindSong, true
	case "musicalbum":
		return library.KindAlbum, true
	case "musicartist":
		return library.KindArtist, true
	case "playlist":
		return library.KindPlaylist, true
	case "musicvideo", "video":
		return library.KindVideo, true
	}
	return "", false
}

func (p *Provider) model(item jfItem) library.Model {
	kind, _ := kindOf(item)
	m := library.Model{
		URI:         uri(kind, item.ID),
		Title:       item.Name,
		Description: item.Overview,
		DurationMS:  ticksToMS(item.RunTimeTicks),
	}
	if item.ImageTags["Primary"] != "" {
		m.CoverURL = p.imageURL(item.ID)
	}
	if len(item.ArtistItems) > 0 {
		m.Artists = lo.Map(item.ArtistItems, func(a jfRef, _ int) library.Model {
			return library.Display(uri(library.KindArtist, a.ID), a.Name)
		})
	}
	if item.AlbumID != "" {
		album := library.Display(uri(library.KindAlbum, item.AlbumID), item.Album)
		m.Album = &album
	}
	return m
}

// Search asks the server for matching songs, albums, artists and playlists.
func (p *Provider) Search(ctx context.Context, keyword string, kinds []library.ModelKind, limit int) (library.SearchResult, error) {
	params := url.Values{}
	params.Set("SearchTerm", keyword)
	params.Set("Recursive", "true")
	params.Set("Fields", itemFields)
	params.Set("IncludeItemTypes", includeTypes(kinds))
	if limit > 0 {
		params.Set("Limit", strconv.Itoa(limit*4))
	}
	items, err := p.items(ctx, p.userItems(), params)
	if err != nil {
		return library.SearchResult{}, err
	}
	var res library.SearchResult
	for _, item := range items {
		kind, ok := kindOf(item)
		if !ok {
			continue
		}
		m := p.model(item)
		switch kind {
		case library.KindSong:
			res.Songs = append(res.Songs, m)
		case library.KindAlbum:
			res.Albums = append(res.Albums, m)
		case library.KindArtist:
			res.Artists = append(res.Artists, m)
		case library.KindPlaylist:
			res.Playlists = append(res.Playlists, m)
		case library.KindVideo:
			res.Videos = append(res.Videos, m)
		}
	}
	return res.Trim(kinds, limit), nil
}

func includeTypes(kinds []library.ModelKind) string {
	if len(kinds) == 0 {
		kinds = library.DefaultSearchKinds
	}
	names := map[library.ModelKind]string{
		library.KindSong:     "Audio",
		library.KindAlbum:    "MusicAlbum",
		library.KindArtist:   "MusicArtist",
		library.KindPlaylist: "Playlist",
		library.KindVideo:    "MusicVideo",
	}
	return strings.Join(lo.FilterMap(kinds, func(k library.ModelKind, _ int) (string, bool) {
		n, ok := names[k]
		return n, ok
	}), ",")
}

// Get returns a full model. Albums and playlists carry their songs; artists
// carry their albums.
func (p *Provider) Get(ctx context.Context, kind library.ModelKind, id string) (library.Model, error) {
	switch kind {
	case library.KindSong, library.KindAlbum, library.KindArtist, library.KindPlaylist, library.KindVideo:
	default:
		return library.Model{}, core.Errorf(core.KindUnsupported, "jellyfin has no %s", kind.Plural())
	}
	item, err := p.fetchItem(ctx, id)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return library.Model{}, core.ErrNotFound
		}
		return library.Model{}, err
	}
	if got, ok := kindOf(item); !ok || got != kind {
		return library.Model{}, core.ErrNotFound
	}
	m := p.model(item)
	switch kind {
	case library.KindAlbum:
		children, err := p.children(ctx, id, "Audio")
		if err != nil {
			return library.Model{}, err
		}
		m.Songs = lo.Map(children, func(c jfItem, _ int) library.Model { return p.model(c) })
	case library.KindPlaylist:
		entries, err := p.playlistEntries(ctx, id)
		if err != nil {
			return library.Model{}, err
		}
		m.Songs = lo.Map(entries, func(c jfItem, _ int) library.Model { return p.model(c) })
	case library.KindArtist:
		params := url.Values{}
		params.Set("ArtistIds", id)
		params.Set("Recursive", "true")
		params.Set("IncludeItemTypes", "MusicAlbum")
		params.Set("Fields", itemFields)
		albums, err := p.items(ctx, p.userItems(), params)
		if err != nil {
			return library.Model{}, err
		}
		m.Albums = lo.Map(albums, func(a jfItem, _ int) library.Model { return p.model(a).Ref() })
	}
	return m, nil
}

// SongMedia maps the static stream to sq and transcoded streams to lower tiers.
func (p *Provider) SongMedia(_ context.Context, song library.Model, _ library.Quality) (library.Media, error) {
	id := song.URI.ID
	return library.Media{
		SQ: p.streamURL(id, 0),
		HD: p.streamURL(id, tierBitrates[library.QualityHD]),
		SD: p.streamURL(id, tierBitrates[library.QualitySD]),
		LD: p.streamURL(id, tierBitrates[library.QualityLD]),
	}, nil
}

// UserPlaylists lists the playlists of the configured user.
func (p *Provider) UserPlaylists(ctx context.Context, user library.Model) ([]library.Model, error) {
	if user.URI.ID != "" && user.URI.ID != p.config.UserID {
		return nil, core.ErrNotFound
	}
	params := url.Values{}
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", "Playlist")
	params.Set("Fields", itemFields)
	items, err := p.items(ctx, p.userItems(), params)
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(i jfItem, _ int) library.Model { return p.model(i).Ref() }), nil
}

// PlaylistAdd appends song unless the playlist already has it.
func (p *Provider) PlaylistAdd(ctx context.Context, playlist library.Model, song library.Model) error {
	entries, err := p.playlistEntries(ctx, playlist.URI.ID)
	if err != nil {
		return err
	}
	if lo.ContainsBy(entries, func(e jfItem) bool { return e.ID == song.URI.ID }) {
		return nil
	}
	params := url.Values{}
	params.Set("Ids", song.URI.ID)
	params.Set("UserId", p.config.UserID)
	return p.doJSON(ctx, http.MethodPost, "/Playlists/"+url.PathEscape(playlist.URI.ID)+"/Items", params, nil, nil)
}

// PlaylistRemove removes every entry of song. Absent songs are not an error.
func (p *Provider) PlaylistRemove(ctx context.Context, playlist library.Model, song library.Model) error {
	entries, err := p.playlistEntries(ctx, playlist.URI.ID)
	if err != nil {
		return err
	}
	ids := lo.FilterMap(entries, func(e jfItem, _ int) (string, bool) {
		return e.PlaylistItemID, e.ID == song.URI.ID && e.PlaylistItemID != ""
	})
	if len(ids) == 0 {
		return nil
	}
	params := url.Values{}
	params.Set("EntryIds", strings.Join(ids, ","))
	return p.doJSON(ctx, http.MethodDelete, "/Playlists/"+url.PathEscape(playlist.URI.ID)+"/Items", params, nil, nil)
}

func (p *Provider) userItems() string {
	return fmt.Sprintf("/Users/%s/Items", url.PathEscape(p.config.UserID))
}

func (p *Provider) items(ctx context.Context, endpoint string, params url.Values) ([]jfItem, error) {
	var resp jfItemsResponse
	if err := p.doJSON(ctx, http.MethodGet, endpoint, params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (p *Provider) children(ctx context.Context, parentID string, types string) ([]jfItem, error) {
	params := url.Values{}
	params.Set("ParentId", parentID)
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", types)
	params.Set("Fields", itemFields)
	params.Set("SortBy", "ParentIndexNumber,IndexNumber,SortName")
	return p.items(ctx, p.userItems(), params)
}

func (p *Provider) playlistEntries(ctx context.Context, playlistID string) ([]jfItem, error) {
	params := url.Values{}
	params.Set("UserId", p.config.UserID)
	params.Set("Fields", itemFields)
	items, err := p.items(ctx, "/Playlists/"+url.PathEscape(playlistID)+"/Items", params)
	if errors.Is(err, errNotFound) {
		return nil, core.ErrNotFound
	}
	return items, err
}

func (p *Provider) fetchItem(ctx context.Context, itemID string) (jfItem, error) {
	params := url.Values{}
	params.Set("UserId", p.config.UserID)
	params.Set("Fields", itemFields)
	var item jfItem
	if err := p.doJSON(ctx, http.MethodGet, "/Items/"+url.PathEscape(itemID), params, nil, &item); err != nil {
		return jfItem{}, err
	}
	item.ID = itemID
	return item, nil
}

func (p *Provider) doJSON(ctx context.Context, method string, endpoint string, params url.Values, body any, out any) error {
	endpointURL := p.config.BaseURL + endpoint
	if len(params) > 0 {
		endpointURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("jellyfin error: %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Provider) imageURL(itemID string) string {
	u, _ := url.Parse(p.config.BaseURL)
	u.Path = path.Join(u.Path, "/Items/", itemID, "/Images/Primary")
	q := u.Query()
	q.Set("maxHeight", "500")
	q.Set("maxWidth", "500")
	q.Set("quality", "90")
	q.Set("api_key", p.config.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// streamURL returns the static stream when bitrate is 0, else an mp3
// transcode capped at bitrate.
func (p *Provider) streamURL(itemID string, bitrate int) string {
	u, _ := url.Parse(p.config.BaseURL)
	u.Path = path.Join(u.Path, "/Audio/", itemID, "/stream")
	q := u.Query()
	if bitrate == 0 {
		q.Set("static", "true")
	} else {
		q.Set("audioCodec", "mp3")
		q.Set("audioBitRate", strconv.Itoa(bitrate))
	}
	q.Set("api_key", p.config.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func ticksToMS(ticks int64) int64 {
	if ticks <= 0 {
		return 0
	}
	return ticks / 10000
}
