// Package fuoclient talks to a fuo daemon over TCP or a Unix socket.
package fuoclient

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/ports"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// Options configures the client connection.
type Options struct {
	Network string
	Address string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is one connection to the daemon. Requests are serialized.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	log  *zap.Logger
	mu   sync.Mutex
}

var _ ports.Transport = (*Client)(nil)

// Dial connects to the daemon.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, opts.Network, opts.Address)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("connected", zap.String("network", opts.Network), zap.String("address", opts.Address))
	return &Client{conn: conn, r: bufio.NewReader(conn), log: opts.Logger}, nil
}

// Do sends line and waits for its response.
func (c *Client) Do(ctx context.Context, line string) (fuo.Frame, error) {
	var resp fuo.Frame
	err := c.Stream(ctx, line, func(f fuo.Frame) error {
		if f.Status == fuo.StatusEvent {
			return nil
		}
		resp = f
		return errDone
	})
	if errors.Is(err, errDone) {
		return resp, nil
	}
	if err == nil {
		err = errors.New("connection closed before response")
	}
	return fuo.Frame{}, err
}

var errDone = errors.New("done")

// Stream sends line and hands every frame to fn. It returns fn's error,
// the context error once ctx ends, or nil when the daemon closes the
// connection.
func (c *Client) Stream(ctx context.Context, line string, fn func(fuo.Frame) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}()

	c.log.Debug("request", zap.String("line", line))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return contextErr(ctx, err)
	}
	for {
		frame, err := fuo.ReadFrame(c.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return contextErr(ctx, nil)
			}
			return contextErr(ctx, err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
