// Package rpc serves the fuo line protocol on TCP and Unix sockets.
//
// Each connection has a reader goroutine that parses requests, a dispatcher
// that answers them in order, and an event forwarder that writes pubsub
// frames for the connection's subscriptions. Closing the connection cancels
// in-flight work.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feeluown/fuocore/internal/app"
	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/ports"
	"github.com/feeluown/fuocore/internal/pubsub"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// DefaultAddr is the default TCP listen address.
const DefaultAddr = "127.0.0.1:23333"

// SocketName is the Unix socket file name under XDG_RUNTIME_DIR.
const SocketName = "feeluown.sock"

const (
	pipelineDepth = 16
	writeTimeout  = 10 * time.Second
)

// DefaultSocketPath returns $XDG_RUNTIME_DIR/feeluown.sock, or "" when the
// runtime directory is unknown.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, SocketName)
}

// Config configures a Server.
type Config struct {
	Addr string
	// Socket is a Unix socket path; empty disables it.
	Socket string
}

// Server answers requests against an App.
type Server struct {
	log      *zap.Logger
	app      *app.App
	ids      ports.IDGen
	cfg      Config
	commands map[string]command
	sink     ExecSink

	// collMu serializes collection edits across connections.
	collMu sync.Mutex
}

// New creates a server.
func New(log *zap.Logger, a *app.App, ids ports.IDGen, cfg Config) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{log: log, app: a, ids: ids, cfg: cfg}
	s.commands = commandTable()
	return s
}

// SetExecSink installs the collaborator that runs exec bodies.
func (s *Server) SetExecSink(sink ExecSink) {
	s.sink = sink
}

// ListenAndServe listens on the configured TCP address and Unix socket and
// serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var listeners []net.Listener
	tcp, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	listeners = append(listeners, tcp)
	s.log.Info("rpc listening", zap.String("addr", tcp.Addr().String()))

	if s.cfg.Socket != "" {
		if err := os.Remove(s.cfg.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = tcp.Close()
			return err
		}
		unix, err := net.Listen("unix", s.cfg.Socket)
		if err != nil {
			_ = tcp.Close()
			return err
		}
		defer os.Remove(s.cfg.Socket)
		listeners = append(listeners, unix)
		s.log.Info("rpc listening", zap.String("socket", s.cfg.Socket))
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error { return s.Serve(ctx, l) })
	}
	return g.Wait()
}

// Serve accepts connections on l until ctx is done or l fails. It closes l
// and waits for its connections before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, nc)
		}()
	}
}

// session is the per-connection state handlers may touch.
type session struct {
	id  string
	sub *pubsub.Subscriber
	// quit closes the connection once the current response is written.
	quit bool
}

type incoming struct {
	req fuo.Request
	err error
	// last ends the connection after answering.
	last bool
}

type conn struct {
	nc  net.Conn
	wmu sync.Mutex
	// hold is taken by the forwarder for each event and by the dispatcher
	// around commands whose response must precede their events.
	hold sync.Mutex
}

func (c *conn) write(fn func(io.Writer) error) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return fn(c.nc)
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	id := s.ids.NewID()
	log := s.log.With(zap.String("conn", id), zap.String("remote", remoteAddr(nc)))
	log.Debug("client connected")

	c := &conn{nc: nc}
	sub := s.app.Broker.NewSubscriber(id)
	sess := &session{id: id, sub: sub}
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })

	var wg sync.WaitGroup
	defer func() {
		cancel()
		s.app.Broker.Remove(sub)
		wg.Wait()
		stop()
		_ = nc.Close()
		log.Debug("client disconnected")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forwardEvents(ctx, c, sub, log)
	}()

	reqs := make(chan incoming, pipelineDepth)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(reqs)
		s.readRequests(ctx, cancel, nc, reqs)
	}()

	for in := range reqs {
		if ctx.Err() != nil {
			continue
		}
		held := in.err == nil && s.commands[in.req.Cmd].holdEvents
		if held {
			c.hold.Lock()
		}
		ok, body := s.respond(ctx, sess, in)
		err := c.write(func(w io.Writer) error { return fuo.WriteResponse(w, ok, body) })
		if held {
			c.hold.Unlock()
		}
		if err != nil {
			log.Debug("write failed", zap.Error(err))
			cancel()
			continue
		}
		if in.last || sess.quit {
			cancel()
		}
	}
}

// readRequests feeds parsed requests to reqs. Parse errors are forwarded so
// the dispatcher answers them in order; read errors end the connection.
func (s *Server) readRequests(ctx context.Context, cancel context.CancelFunc, nc net.Conn, reqs chan<- incoming) {
	r := bufio.NewReaderSize(nc, 4096)
	for {
		req, err := fuo.ReadRequest(r)
		in := incoming{req: req, err: err}
		var perr *fuo.ParseError
		switch {
		case err == nil, errors.As(err, &perr):
		case errors.Is(err, fuo.ErrLineTooLong):
			in = incoming{err: core.Wrap(core.KindBadOption, "request too long", err), last: true}
		default:
			cancel()
			return
		}
		select {
		case reqs <- in:
		case <-ctx.Done():
			return
		}
		if in.last {
			return
		}
	}
}

func (s *Server) forwardEvents(ctx context.Context, c *conn, sub *pubsub.Subscriber, log *zap.Logger) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		c.hold.Lock()
		err = c.write(func(w io.Writer) error { return fuo.WriteEvent(w, msg.Topic, msg.Payload) })
		c.hold.Unlock()
		if err != nil {
			log.Debug("event write failed", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
	}
}

// respond turns a request into a response status and body.
func (s *Server) respond(ctx context.Context, sess *session, in incoming) (bool, string) {
	if in.err != nil {
		return false, errorBody(in.err)
	}
	body, err := s.dispatch(ctx, sess, in.req)
	if err != nil {
		if core.KindOf(err) == core.KindInternal {
			s.log.Error("command failed", zap.String("cmd", in.req.Cmd), zap.Error(err))
		}
		return false, errorBody(err)
	}
	return true, body
}

// Exec answers one request line and returns the framed response. It backs
// remote command transports such as the MQTT bridge. A line may carry its
// heredoc body on the following lines.
func (s *Server) Exec(ctx context.Context, line string) []byte {
	req, err := fuo.ReadRequest(bufio.NewReader(strings.NewReader(line + "\n")))
	if errors.Is(err, io.EOF) {
		err = core.New(core.KindCmdNotFound, "empty request")
	}
	ok, body := s.respond(ctx, &session{id: "remote"}, incoming{req: req, err: err})
	var buf bytes.Buffer
	_ = fuo.WriteResponse(&buf, ok, body)
	return buf.Bytes()
}

// errorBody renders an oops body: the kind and message, then for parse
// errors the offending line with a marker under the column.
func errorBody(err error) string {
	body := core.Describe(err)
	var perr *fuo.ParseError
	if errors.As(err, &perr) {
		if detail := perr.Detail(); detail != "" {
			body += "\n" + detail
		}
	}
	return body
}

func remoteAddr(nc net.Conn) string {
	if addr := nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
