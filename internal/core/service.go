package core

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/feeluown/fuocore/internal/ports"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// Service orchestrates fuo CLI use cases over one daemon connection.
type Service struct {
	Transport ports.Transport
	Resolver  Resolver
}

// Target selects what add, remove and list operate on. The zero value is
// the current playlist.
type Target struct {
	Collection string
	Playlist   string
}

func (t Target) options() map[string]string {
	opts := map[string]string{}
	if t.Collection != "" {
		opts["collection"] = t.Collection
	}
	if t.Playlist != "" {
		opts["playlist"] = t.Playlist
	}
	return opts
}

// SearchParams narrows a search.
type SearchParams struct {
	Sources []string
	Types   []string
	Limit   int
}

// Status returns the player status.
func (s Service) Status(ctx context.Context) (StatusResult, error) {
	var body fuo.StatusBody
	if _, err := s.call(ctx, "status", nil, nil, &body); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Status: body}, nil
}

// Play plays a URI, a media URL or the best match for a keyword. With no
// arguments it resumes the current song.
func (s Service) Play(ctx context.Context, args []string) (MessageResult, error) {
	if len(args) == 1 {
		uri, err := s.Resolver.ResolveURI(args[0])
		if err != nil {
			return MessageResult{}, err
		}
		args = []string{uri}
	}
	return s.message(ctx, "play", args, nil)
}

// Control sends a command without arguments such as pause, resume, toggle,
// stop or clear.
func (s Service) Control(ctx context.Context, cmd string) error {
	_, err := s.call(ctx, cmd, nil, nil, nil)
	return err
}

// Next skips forward.
func (s Service) Next(ctx context.Context) (SongResult, error) {
	return s.skip(ctx, "next")
}

// Previous skips back.
func (s Service) Previous(ctx context.Context) (SongResult, error) {
	return s.skip(ctx, "previous")
}

func (s Service) skip(ctx context.Context, cmd string) (SongResult, error) {
	var body fuo.ModelBody
	raw, err := s.call(ctx, cmd, nil, nil, &body)
	if err != nil {
		return SongResult{}, err
	}
	if raw == "" {
		return SongResult{}, nil
	}
	return SongResult{Song: &body}, nil
}

// SeekTo moves to an absolute position or, with a leading + or -, relative
// to the current one. Positions are milliseconds, Go durations or m:ss.
func (s Service) SeekTo(ctx context.Context, arg string) (MessageResult, error) {
	relative := strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-")
	ms, err := parsePosition(strings.TrimLeft(arg, "+-"))
	if err != nil {
		return MessageResult{}, err
	}
	if relative {
		status, err := s.Status(ctx)
		if err != nil {
			return MessageResult{}, err
		}
		if strings.HasPrefix(arg, "-") {
			ms = -ms
		}
		ms = max(status.Status.PositionMS+ms, 0)
	}
	return s.message(ctx, "seek", []string{strconv.FormatInt(ms, 10)}, nil)
}

func parsePosition(raw string) (int64, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d.Milliseconds(), nil
	}
	if m, sec, ok := strings.Cut(raw, ":"); ok {
		mins, err1 := strconv.ParseInt(m, 10, 64)
		secs, err2 := strconv.ParseInt(sec, 10, 64)
		if err1 == nil && err2 == nil && secs < 60 {
			return (mins*60 + secs) * 1000, nil
		}
	}
	return 0, &CLIError{Code: ExitUsage, Msg: "invalid position " + strconv.Quote(raw)}
}

// Volume reports the volume, or sets it when arg is N, +N or -N.
func (s Service) Volume(ctx context.Context, arg string) (MessageResult, error) {
	var args []string
	if arg != "" {
		args = []string{arg}
	}
	return s.message(ctx, "volume", args, nil)
}

// SetMode sets the playback mode.
func (s Service) SetMode(ctx context.Context, mode string) error {
	_, err := s.call(ctx, "set", []string{"mode=" + mode}, nil, nil)
	return err
}

// Search searches every provider, or those in params.Sources.
func (s Service) Search(ctx context.Context, keyword string, params SearchParams) (SearchResult, error) {
	opts := map[string]string{}
	if len(params.Sources) > 0 {
		opts["source"] = strings.Join(params.Sources, ",")
	}
	if len(params.Types) > 0 {
		opts["type"] = strings.Join(params.Types, ",")
	}
	if params.Limit > 0 {
		opts["limit"] = strconv.Itoa(params.Limit)
	}
	var groups []fuo.SearchBody
	if _, err := s.call(ctx, "search", []string{keyword}, opts, &groups); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Keyword: keyword, Groups: groups}, nil
}

// Providers lists the registered providers.
func (s Service) Providers(ctx context.Context) (ProvidersResult, error) {
	var providers []fuo.ProviderBody
	if _, err := s.call(ctx, "show", nil, nil, &providers); err != nil {
		return ProvidersResult{}, err
	}
	return ProvidersResult{Providers: providers}, nil
}

// Show returns a hydrated model.
func (s Service) Show(ctx context.Context, arg string) (ModelResult, error) {
	uri, err := s.Resolver.ResolveURI(arg)
	if err != nil {
		return ModelResult{}, err
	}
	var model fuo.ModelBody
	if _, err := s.call(ctx, "show", []string{uri}, nil, &model); err != nil {
		return ModelResult{}, err
	}
	return ModelResult{Model: model}, nil
}

// Lyric returns the LRC text of a song.
func (s Service) Lyric(ctx context.Context, arg string) (MessageResult, error) {
	uri, err := s.Resolver.ResolveURI(arg)
	if err != nil {
		return MessageResult{}, err
	}
	return s.message(ctx, "show", []string{strings.TrimSuffix(uri, "/") + "/lyric"}, nil)
}

// Add adds models to target.
func (s Service) Add(ctx context.Context, args []string, target Target) (MessageResult, error) {
	return s.edit(ctx, "add", args, target)
}

// Remove removes models from target.
func (s Service) Remove(ctx context.Context, args []string, target Target) (MessageResult, error) {
	return s.edit(ctx, "remove", args, target)
}

func (s Service) edit(ctx context.Context, cmd string, args []string, target Target) (MessageResult, error) {
	uris, err := s.Resolver.ResolveURIs(args)
	if err != nil {
		return MessageResult{}, err
	}
	target, err = s.resolveTarget(target)
	if err != nil {
		return MessageResult{}, err
	}
	return s.message(ctx, cmd, uris, target.options())
}

func (s Service) resolveTarget(target Target) (Target, error) {
	if target.Playlist == "" {
		return target, nil
	}
	uri, err := s.Resolver.ResolveURI(target.Playlist)
	if err != nil {
		return Target{}, err
	}
	target.Playlist = uri
	return target, nil
}

// Queue lists the current playlist.
func (s Service) Queue(ctx context.Context) (QueueResult, error) {
	var items []fuo.ListItemBody
	if _, err := s.call(ctx, "list", nil, nil, &items); err != nil {
		return QueueResult{}, err
	}
	return QueueResult{Items: items}, nil
}

// List lists the songs of a collection or provider playlist.
func (s Service) List(ctx context.Context, target Target) (ModelListResult, error) {
	target, err := s.resolveTarget(target)
	if err != nil {
		return ModelListResult{}, err
	}
	var items []fuo.ModelBody
	if _, err := s.call(ctx, "list", nil, target.options(), &items); err != nil {
		return ModelListResult{}, err
	}
	return ModelListResult{Items: items}, nil
}

// Collections lists the local collections.
func (s Service) Collections(ctx context.Context) (CollectionsResult, error) {
	var items []fuo.CollectionBody
	if _, err := s.call(ctx, "collections", nil, nil, &items); err != nil {
		return CollectionsResult{}, err
	}
	return CollectionsResult{Collections: items}, nil
}

// Cover fetches a model's cover into the daemon's image cache.
func (s Service) Cover(ctx context.Context, arg string) (CoverResult, error) {
	uri, err := s.Resolver.ResolveURI(arg)
	if err != nil {
		return CoverResult{}, err
	}
	var body fuo.CoverBody
	if _, err := s.call(ctx, "cover", []string{uri}, nil, &body); err != nil {
		return CoverResult{}, err
	}
	return CoverResult{Cover: body}, nil
}

// Exec runs code on the daemon's exec sink.
func (s Service) Exec(ctx context.Context, code string) (MessageResult, error) {
	word := "EOF"
	for strings.Contains("\n"+code+"\n", "\n"+word+"\n") {
		word += "_"
	}
	line := "exec <<" + word + "\n" + strings.TrimRight(code, "\n") + "\n" + word
	return s.raw(ctx, line)
}

// Raw sends a request line as typed.
func (s Service) Raw(ctx context.Context, line string) (MessageResult, error) {
	return s.raw(ctx, line)
}

// Subscribe streams events on topics to fn until ctx ends or fn fails.
func (s Service) Subscribe(ctx context.Context, topics []string, fn func(EventResult) error) error {
	line := fuo.FormatRequest("sub", topics, nil)
	subscribed := false
	err := s.Transport.Stream(ctx, line, func(f fuo.Frame) error {
		if topic, payload, ok := f.Event(); ok {
			return fn(EventResult{Topic: topic, Payload: payload})
		}
		if subscribed {
			return nil
		}
		if !f.OK() {
			return oopsError(f.Body)
		}
		subscribed = true
		return nil
	})
	var oops *OopsError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.As(err, &oops):
		return err
	case !subscribed:
		return WrapError(ExitRuntime, "sub", err)
	}
	return err
}

func (s Service) message(ctx context.Context, cmd string, args []string, opts map[string]string) (MessageResult, error) {
	body, err := s.call(ctx, cmd, args, opts, nil)
	if err != nil {
		return MessageResult{}, err
	}
	return MessageResult{Text: body}, nil
}

func (s Service) raw(ctx context.Context, line string) (MessageResult, error) {
	frame, err := s.Transport.Do(ctx, line)
	if err != nil {
		return MessageResult{}, WrapError(ExitRuntime, "request", err)
	}
	if !frame.OK() {
		return MessageResult{}, oopsError(frame.Body)
	}
	return MessageResult{Text: frame.Body}, nil
}

// call sends cmd and decodes a json body into out when out is non-nil.
// The raw body is returned either way.
func (s Service) call(ctx context.Context, cmd string, args []string, opts map[string]string, out any) (string, error) {
	if out != nil {
		if opts == nil {
			opts = map[string]string{}
		}
		opts["format"] = "json"
	}
	frame, err := s.Transport.Do(ctx, fuo.FormatRequest(cmd, args, opts))
	if err != nil {
		return "", WrapError(ExitRuntime, cmd, err)
	}
	if !frame.OK() {
		return "", oopsError(frame.Body)
	}
	if out != nil && frame.Body != "" {
		if err := json.Unmarshal([]byte(frame.Body), out); err != nil {
			return "", WrapError(ExitRuntime, "decode "+cmd+" reply", err)
		}
	}
	return frame.Body, nil
}

// OopsError is a failed response. Kind is parsed from the "Kind: message"
// body.
type OopsError struct {
	Kind Kind
	Body string
}

func (e *OopsError) Error() string {
	return e.Body
}

// ErrorKind reports the kind named by the response.
func (e *OopsError) ErrorKind() string {
	return string(e.Kind)
}

func oopsError(body string) error {
	body = strings.TrimRight(body, "\n")
	head, _, _ := strings.Cut(body, "\n")
	kind, _, _ := strings.Cut(head, ":")
	return &OopsError{Kind: Kind(strings.TrimSpace(kind)), Body: body}
}
