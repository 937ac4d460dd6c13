package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// maxSuggestDistance bounds how far a typo may be from a known command.
const maxSuggestDistance = 2

type handlerFunc func(s *Server, ctx context.Context, sess *session, req fuo.Request) (reply, error)

// command is one entry of the handler table.
type command struct {
	usage   string
	summary string
	minArgs int
	options []string
	run     handlerFunc
	// holdEvents keeps event frames back until the response is written.
	holdEvents bool
}

// globalOptions are accepted by every command.
var globalOptions = []string{"format"}

func commandTable() map[string]command {
	return map[string]command{
		"status":      {usage: "status", summary: "show the player state", run: (*Server).handleStatus},
		"play":        {usage: "play [URI|URL|KEYWORD...]", summary: "resume, or play a song, a media url or the best search match", run: (*Server).handlePlay},
		"pause":       {usage: "pause", summary: "pause playback", run: (*Server).handlePause},
		"resume":      {usage: "resume", summary: "resume playback", run: (*Server).handleResume},
		"toggle":      {usage: "toggle", summary: "toggle between playing and paused", run: (*Server).handleToggle},
		"stop":        {usage: "stop", summary: "stop playback", run: (*Server).handleStop},
		"next":        {usage: "next", summary: "play the next song", run: (*Server).handleNext},
		"previous":    {usage: "previous", summary: "play the previous song", run: (*Server).handlePrevious},
		"seek":        {usage: "seek MS", summary: "move the playhead", minArgs: 1, run: (*Server).handleSeek},
		"volume":      {usage: "volume [N|+N|-N]", summary: "show or set the volume", run: (*Server).handleVolume},
		"search":      {usage: "search KEYWORD... [#source=P,..][#type=song,..][#limit=N]", summary: "search every provider", minArgs: 1, options: []string{"source", "type", "limit"}, run: (*Server).handleSearch},
		"show":        {usage: "show [URI[/lyric]]", summary: "show a model, its lyric, or the providers", run: (*Server).handleShow},
		"add":         {usage: "add URI... [#collection=NAME|#playlist=URI]", summary: "add songs", minArgs: 1, options: []string{"collection", "playlist"}, run: (*Server).handleAdd},
		"remove":      {usage: "remove URI... [#collection=NAME|#playlist=URI]", summary: "remove songs", minArgs: 1, options: []string{"collection", "playlist"}, run: (*Server).handleRemove},
		"clear":       {usage: "clear", summary: "empty the playlist", run: (*Server).handleClear},
		"list":        {usage: "list [#collection=NAME|#playlist=URI]", summary: "list songs", options: []string{"collection", "playlist"}, run: (*Server).handleList},
		"set":         {usage: "set mode=MODE|volume=N...", summary: "change settings", minArgs: 1, run: (*Server).handleSet},
		"sub":         {usage: "sub TOPIC...", summary: "subscribe to events", minArgs: 1, run: (*Server).handleSub, holdEvents: true},
		"unsub":       {usage: "unsub TOPIC...", summary: "unsubscribe from events", minArgs: 1, run: (*Server).handleUnsub},
		"exec":        {usage: "exec <<EOF", summary: "run a heredoc body", run: (*Server).handleExec},
		"collections": {usage: "collections", summary: "list collections", run: (*Server).handleCollections},
		"cover":       {usage: "cover URI", summary: "fetch a cover image into the cache", minArgs: 1, run: (*Server).handleCover},
		"help":        {usage: "help [CMD]", summary: "list commands", run: (*Server).handleHelp},
		"quit":        {usage: "quit", summary: "close the connection", run: (*Server).handleQuit},
	}
}

// reply is a handler result. Data, when set, is the json rendering.
type reply struct {
	Text string
	Data any
}

func text(s string) reply { return reply{Text: s} }

func (r reply) render(format string) (string, error) {
	if format != "json" || r.Data == nil {
		return r.Text, nil
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return "", core.Wrap(core.KindInternal, "encode reply", err)
	}
	return string(data), nil
}

// dispatch runs req through the handler table. Panics are reported as
// Internal errors.
func (s *Server) dispatch(ctx context.Context, sess *session, req fuo.Request) (body string, err error) {
	cmd, ok := s.commands[req.Cmd]
	if !ok {
		return "", s.unknownCommand(req.Cmd)
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("command panicked", zap.String("cmd", req.Cmd), zap.Any("panic", r), zap.Stack("stack"))
			body, err = "", core.New(core.KindInternal, "")
		}
	}()

	for name := range req.Options {
		if !lo.Contains(cmd.options, name) && !lo.Contains(globalOptions, name) {
			return "", core.Errorf(core.KindBadOption, "%s does not take option %q", req.Cmd, name)
		}
	}
	format := "plain"
	if v, ok := req.Option("format"); ok {
		if v != "plain" && v != "json" {
			return "", core.Errorf(core.KindBadOption, "unknown format %q", v)
		}
		format = v
	}
	if len(req.Args) < cmd.minArgs {
		return "", core.Errorf(core.KindMissingArg, "%s needs %d argument(s), usage: %s", req.Cmd, cmd.minArgs, cmd.usage)
	}

	r, err := cmd.run(s, ctx, sess, req)
	if err != nil {
		return "", err
	}
	return r.render(format)
}

func (s *Server) unknownCommand(name string) error {
	names := lo.Keys(s.commands)
	sort.Strings(names)
	closest := lo.MinBy(names, func(a string, b string) bool {
		return levenshtein.Distance(name, a) < levenshtein.Distance(name, b)
	})
	if closest != "" && levenshtein.Distance(name, closest) <= maxSuggestDistance {
		return core.Errorf(core.KindCmdNotFound, "unknown command %q, did you mean %q?", name, closest)
	}
	return core.Errorf(core.KindCmdNotFound, "unknown command %q", name)
}

func (s *Server) handleHelp(_ context.Context, _ *session, req fuo.Request) (reply, error) {
	if len(req.Args) > 0 {
		cmd, ok := s.commands[req.Args[0]]
		if !ok {
			return reply{}, s.unknownCommand(req.Args[0])
		}
		return text(cmd.usage + "\n\t" + cmd.summary), nil
	}
	names := lo.Keys(s.commands)
	sort.Strings(names)
	lines := lo.Map(names, func(name string, _ int) string {
		return fmt.Sprintf("%-12s%s", name, s.commands[name].summary)
	})
	return reply{Text: strings.Join(lines, "\n"), Data: names}, nil
}

func (s *Server) handleQuit(_ context.Context, sess *session, _ fuo.Request) (reply, error) {
	sess.quit = true
	return text(""), nil
}
