package fuo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// MaxLineBytes bounds a request line and a heredoc body.
const MaxLineBytes = 64 * 1024

// Parse error kinds. They match the transport-visible error names.
const (
	KindBadQuote    = "BadQuote"
	KindBadOption   = "BadOption"
	KindBadHeredoc  = "BadHeredoc"
	KindCmdNotFound = "CmdNotFound"
)

// ErrLineTooLong is returned when a request line or heredoc body exceeds MaxLineBytes.
var ErrLineTooLong = errors.New("request exceeds 64KiB")

// Request is a parsed request line.
type Request struct {
	Cmd         string
	Args        []string
	Options     map[string]string
	HeredocWord string
	Heredoc     string
	Line        string
}

// HasHeredoc reports whether the request line announced a heredoc body.
func (r Request) HasHeredoc() bool {
	return r.HeredocWord != ""
}

// Option returns an option value and whether it was present.
func (r Request) Option(name string) (string, bool) {
	v, ok := r.Options[name]
	return v, ok
}

// OptionList splits a comma separated option value.
func (r Request) OptionList(name string) []string {
	v, ok := r.Options[name]
	if !ok || v == "" {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseError describes a malformed request line.
type ParseError struct {
	Kind   string
	Msg    string
	Line   string
	Column int
}

func (e *ParseError) Error() string {
	return e.Kind + ": " + e.Msg
}

// ErrorKind exposes the transport error kind.
func (e *ParseError) ErrorKind() string {
	return e.Kind
}

// Detail renders the offending line and a marker under the column.
// It returns an empty string when the error has no position.
func (e *ParseError) Detail() string {
	if e.Column < 0 || e.Line == "" {
		return ""
	}
	prefix := e.Line
	if e.Column <= utf8.RuneCountInString(prefix) {
		prefix = string([]rune(prefix)[:e.Column])
	}
	width := runewidth.StringWidth(prefix)
	return "  " + e.Line + "\n" + strings.Repeat(" ", width+2) + "^"
}

type token struct {
	text     string
	raw      string
	quoted   bool
	startCol int
}

// ParseRequest parses one request line (without its heredoc body).
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r\n")
	req := Request{Line: line, Options: map[string]string{}}
	tokens, err := tokenize(line)
	if err != nil {
		return req, err
	}
	if len(tokens) == 0 {
		return req, &ParseError{Kind: KindCmdNotFound, Msg: "empty request", Column: -1}
	}
	cmd := tokens[0]
	if cmd.quoted || !validCmd(cmd.text) {
		return req, &ParseError{Kind: KindCmdNotFound, Msg: fmt.Sprintf("invalid command %q", cmd.text), Line: line, Column: cmd.startCol}
	}
	req.Cmd = cmd.text

	rest := tokens[1:]
	if n := len(rest); n > 0 {
		last := rest[n-1]
		if !last.quoted && strings.HasPrefix(last.raw, "<<") {
			word := strings.TrimSpace(strings.TrimPrefix(last.raw, "<<"))
			if word == "" {
				return req, &ParseError{Kind: KindBadHeredoc, Msg: "missing heredoc word", Line: line, Column: last.startCol}
			}
			req.HeredocWord = word
			rest = rest[:n-1]
		}
	}

	inOptions := false
	lastKey := ""
	for _, tok := range rest {
		if !tok.quoted && strings.HasPrefix(tok.raw, "#") {
			inOptions = true
		}
		if !inOptions {
			req.Args = append(req.Args, tok.text)
			continue
		}
		text := strings.TrimPrefix(tok.text, "#")
		for _, seg := range strings.Split(text, ",") {
			if seg == "" {
				continue
			}
			key, value, ok := strings.Cut(seg, "=")
			if !ok {
				if lastKey == "" {
					return req, &ParseError{Kind: KindBadOption, Msg: fmt.Sprintf("option %q has no value", seg), Line: line, Column: tok.startCol}
				}
				req.Options[lastKey] += "," + seg
				continue
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return req, &ParseError{Kind: KindBadOption, Msg: "option name is empty", Line: line, Column: tok.startCol}
			}
			req.Options[key] = value
			lastKey = key
		}
	}
	return req, nil
}

func validCmd(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return true
}

// tokenize splits on whitespace, honoring single and double quotes.
// Columns are rune offsets into line.
func tokenize(line string) ([]token, error) {
	runes := []rune(line)
	tokens := []token{}
	i := 0
	for i < len(runes) {
		if isSpace(runes[i]) {
			i++
			continue
		}
		start := i
		var text strings.Builder
		quoted := runes[i] == '\'' || runes[i] == '"'
		for i < len(runes) && !isSpace(runes[i]) {
			r := runes[i]
			if r != '\'' && r != '"' {
				text.WriteRune(r)
				i++
				continue
			}
			quote := r
			open := i
			i++
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) && (runes[i+1] == quote || runes[i+1] == '\\') {
					text.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if c == quote {
					closed = true
					i++
					break
				}
				text.WriteRune(c)
				i++
			}
			if !closed {
				return nil, &ParseError{
					Kind:   KindBadQuote,
					Msg:    fmt.Sprintf("unterminated quoted string at column %d", open),
					Line:   line,
					Column: open,
				}
			}
		}
		tokens = append(tokens, token{
			text:     text.String(),
			raw:      string(runes[start:i]),
			quoted:   quoted,
			startCol: start,
		})
	}
	return tokens, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

// ReadRequest reads the next non-empty request, including its heredoc body.
// A *ParseError means the request was consumed but malformed; the stream is
// still usable. io.EOF is returned when the peer closed the connection.
func ReadRequest(r *bufio.Reader) (Request, error) {
	for {
		line, err := readLine(r)
		line = strings.TrimSpace(line)
		// A final line without a newline is still a request.
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return Request{}, err
		}
		if line == "" {
			continue
		}
		req, perr := ParseRequest(line)
		if perr != nil {
			return req, perr
		}
		if !req.HasHeredoc() {
			return req, nil
		}
		body, err := readHeredoc(r, req.HeredocWord)
		if err != nil {
			return req, err
		}
		req.Heredoc = body
		return req, nil
	}
}

func readHeredoc(r *bufio.Reader, word string) (string, error) {
	var buf bytes.Buffer
	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", &ParseError{Kind: KindBadHeredoc, Msg: fmt.Sprintf("heredoc %q not terminated", word), Column: -1}
			}
			return "", err
		}
		if line == word {
			return buf.String(), nil
		}
		if buf.Len()+len(line)+1 > MaxLineBytes {
			return "", ErrLineTooLong
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
}

// readLine returns a line without its terminator. Lines longer than
// MaxLineBytes are drained and reported as ErrLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > MaxLineBytes+2 {
				tooLong = true
				buf = nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if tooLong {
			if err != nil {
				return "", err
			}
			return "", ErrLineTooLong
		}
		line := strings.TrimSuffix(string(buf), "\n")
		line = strings.TrimSuffix(line, "\r")
		return line, err
	}
}

// Quote returns arg in a form ParseRequest reads back as a single argument.
func Quote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t'\"#\\") && !strings.HasPrefix(arg, "<<") {
		return arg
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(arg) + "'"
}

// FormatRequest builds a request line from a command, its arguments and options.
func FormatRequest(cmd string, args []string, options map[string]string) string {
	parts := []string{cmd}
	for _, arg := range args {
		parts = append(parts, Quote(arg))
	}
	if len(options) > 0 {
		keys := make([]string, 0, len(options))
		for k := range options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		opts := make([]string, 0, len(keys))
		for _, k := range keys {
			opts = append(opts, k+"="+Quote(options[k]))
		}
		parts = append(parts, "#"+strings.Join(opts, ","))
	}
	return strings.Join(parts, " ")
}
