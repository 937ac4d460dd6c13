package fuoclient

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/feeluown/fuocore/pkg/fuo"
)

// serve accepts one connection and answers each request line with handle.
func serve(t *testing.T, handle func(w net.Conn, line string)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			handle(conn, line[:len(line)-1])
		}
	}()
	return l.Addr().String()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Options{Address: addr, Timeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDoSkipsEvents(t *testing.T) {
	addr := serve(t, func(w net.Conn, line string) {
		_ = fuo.WriteEvent(w, "player.state_changed", []byte("playing"))
		_ = fuo.WriteResponse(w, line == "status", "echo "+line)
	})
	c := dial(t, addr)

	frame, err := c.Do(context.Background(), "status")
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !frame.OK() || frame.Body != "echo status" {
		t.Fatalf("unexpected frame: %#v", frame)
	}

	frame, err = c.Do(context.Background(), "bogus")
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if frame.OK() || frame.Body != "echo bogus" {
		t.Fatalf("unexpected frame: %#v", frame)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	addr := serve(t, func(w net.Conn, line string) {
		_ = fuo.WriteResponse(w, true, "")
		_ = fuo.WriteEvent(w, "player.state_changed", []byte("paused"))
		_ = fuo.WriteEvent(w, "player.state_changed", []byte("playing"))
	})
	c := dial(t, addr)

	var payloads []string
	stop := errors.New("stop")
	err := c.Stream(context.Background(), "sub player.state_changed", func(f fuo.Frame) error {
		if _, payload, ok := f.Event(); ok {
			payloads = append(payloads, payload)
		}
		if len(payloads) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop, got %v", err)
	}
	if payloads[0] != "paused" || payloads[1] != "playing" {
		t.Fatalf("unexpected payloads: %v", payloads)
	}
}

func TestDoHonorsContext(t *testing.T) {
	addr := serve(t, func(net.Conn, string) {})
	c := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Do(ctx, "status"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestDoReportsClosedConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()
	c := dial(t, l.Addr().String())
	if _, err := c.Do(context.Background(), "status"); err == nil {
		t.Fatalf("expected error")
	}
}
