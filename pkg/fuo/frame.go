package fuo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Frame statuses.
const (
	StatusOK    = "ok"
	StatusOops  = "oops"
	StatusEvent = "event"
)

// Trailers terminate response frames so pipelined responses can be split.
const (
	TrailerOK   = "OK"
	TrailerOops = "Oops"
)

// ErrBadFrame is returned when a frame header or trailer is malformed.
var ErrBadFrame = errors.New("malformed frame")

// Frame is one response or event read from the wire.
type Frame struct {
	Status string
	Body   string
}

// OK reports whether the frame is a successful response.
func (f Frame) OK() bool {
	return f.Status == StatusOK
}

// Event splits an event frame body into its topic and payload.
func (f Frame) Event() (topic string, payload string, ok bool) {
	if f.Status != StatusEvent {
		return "", "", false
	}
	head, rest, _ := strings.Cut(f.Body, "\n")
	if !strings.HasPrefix(head, "topic: ") {
		return "", "", false
	}
	return strings.TrimPrefix(head, "topic: "), rest, true
}

// WriteResponse writes an ok or oops frame with its trailer.
func WriteResponse(w io.Writer, ok bool, body string) error {
	status, trailer := StatusOK, TrailerOK
	if !ok {
		status, trailer = StatusOops, TrailerOops
	}
	return writeFrame(w, status, body, trailer)
}

// WriteEvent writes a pubsub event frame.
func WriteEvent(w io.Writer, topic string, payload []byte) error {
	return writeFrame(w, StatusEvent, "topic: "+topic+"\n"+string(payload), "")
}

func writeFrame(w io.Writer, status string, body string, trailer string) error {
	var b strings.Builder
	b.Grow(len(body) + 32)
	b.WriteString(status)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteByte('\n')
	if len(body) > 0 {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	if trailer != "" {
		b.WriteString(trailer)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ReadFrame reads one response or event frame.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && header != "" {
			return Frame{}, io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	header = strings.TrimRight(header, "\r\n")
	status, sizeText, ok := strings.Cut(header, " ")
	if !ok {
		return Frame{}, fmt.Errorf("%w: header %q", ErrBadFrame, header)
	}
	switch status {
	case StatusOK, StatusOops, StatusEvent:
	default:
		return Frame{}, fmt.Errorf("%w: status %q", ErrBadFrame, status)
	}
	size, err := strconv.Atoi(strings.TrimSpace(sizeText))
	if err != nil || size < 0 {
		return Frame{}, fmt.Errorf("%w: size %q", ErrBadFrame, sizeText)
	}

	frame := Frame{Status: status}
	if size > 0 {
		body := make([]byte, size+1)
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, unexpected(err)
		}
		if body[size] != '\n' {
			return Frame{}, fmt.Errorf("%w: body not newline terminated", ErrBadFrame)
		}
		frame.Body = string(body[:size])
	}
	if status == StatusEvent {
		return frame, nil
	}

	trailer, err := r.ReadString('\n')
	if err != nil {
		return Frame{}, unexpected(err)
	}
	trailer = strings.TrimRight(trailer, "\r\n")
	want := TrailerOK
	if status == StatusOops {
		want = TrailerOops
	}
	if trailer != want {
		return Frame{}, fmt.Errorf("%w: trailer %q", ErrBadFrame, trailer)
	}
	return frame, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
