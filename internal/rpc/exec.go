package rpc

import (
	"context"
	"strings"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// ExecSink runs the body of an exec request.
type ExecSink interface {
	Exec(ctx context.Context, code string) (string, error)
}

func (s *Server) handleExec(ctx context.Context, _ *session, req fuo.Request) (reply, error) {
	if !req.HasHeredoc() {
		return reply{}, core.New(core.KindMissingArg, "exec needs a heredoc body, usage: exec <<EOF")
	}
	if s.sink == nil {
		return reply{}, core.New(core.KindUnsupported, "no exec sink is configured")
	}
	out, err := s.sink.Exec(ctx, req.Heredoc)
	if err != nil {
		return reply{}, err
	}
	return text(strings.TrimRight(out, "\n")), nil
}

func (s *Server) handleSub(_ context.Context, sess *session, req fuo.Request) (reply, error) {
	if sess.sub == nil {
		return reply{}, core.New(core.KindUnsupported, "this transport has no event stream")
	}
	for _, topic := range req.Args {
		if err := sess.sub.Subscribe(topic); err != nil {
			return reply{}, err
		}
	}
	return text(""), nil
}

func (s *Server) handleUnsub(_ context.Context, sess *session, req fuo.Request) (reply, error) {
	if sess.sub == nil {
		return reply{}, core.New(core.KindUnsupported, "this transport has no event stream")
	}
	for _, topic := range req.Args {
		if err := sess.sub.Unsubscribe(topic); err != nil {
			return reply{}, err
		}
	}
	return text(""), nil
}

// BatchSink runs each line of an exec body as a request on the server.
// Blank lines and lines starting with "#" are skipped. It stops at the
// first failing line.
type BatchSink struct {
	server *Server
}

// NewBatchSink returns a sink dispatching to s.
func NewBatchSink(s *Server) *BatchSink {
	return &BatchSink{server: s}
}

// Exec runs code and returns the joined non-empty response bodies.
func (b *BatchSink) Exec(ctx context.Context, code string) (string, error) {
	var out []string
	for i, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := fuo.ParseRequest(line)
		if err == nil && (req.Cmd == "exec" || req.HasHeredoc()) {
			err = core.New(core.KindUnsupported, "exec bodies cannot nest heredocs")
		}
		var body string
		if err == nil {
			body, err = b.server.dispatch(ctx, &session{id: "exec"}, req)
		}
		if err != nil {
			kind := core.KindOf(err)
			msg := strings.TrimPrefix(core.Describe(err), string(kind)+": ")
			return strings.Join(out, "\n"), core.Errorf(kind, "line %d: %s", i+1, msg)
		}
		if body != "" {
			out = append(out, body)
		}
	}
	return strings.Join(out, "\n"), nil
}
