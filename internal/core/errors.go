package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is a transport-visible error name.
type Kind string

// Error kinds.
const (
	KindBadURI           Kind = "BadUri"
	KindNoSuchProvider   Kind = "NoSuchProvider"
	KindProviderExists   Kind = "ProviderExists"
	KindNotFound         Kind = "NotFound"
	KindUnsupported      Kind = "Unsupported"
	KindNoMediaAtQuality Kind = "NoMediaAtQuality"
	KindBadQuote         Kind = "BadQuote"
	KindBadOption        Kind = "BadOption"
	KindBadHeredoc       Kind = "BadHeredoc"
	KindMissingArg       Kind = "MissingArg"
	KindCmdNotFound      Kind = "CmdNotFound"
	KindProviderTimeout  Kind = "ProviderTimeout"
	KindProviderError    Kind = "ProviderError"
	KindBackendError     Kind = "BackendError"
	KindPlaylistEmpty    Kind = "PlaylistEmpty"
	KindInvalidMode      Kind = "InvalidMode"
	KindInternal         Kind = "Internal"
)

// Exit codes used by the fuo CLI.
const (
	ExitOK      = 0
	ExitOops    = 1
	ExitUsage   = 2
	ExitRuntime = 1
)

// Error is a domain error carrying its kind.
type Error struct {
	Kind Kind
	Msg  string
	// Code is the backend sub-code for BackendError.
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind so sentinel comparisons work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf formats an error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrUnsupported   = &Error{Kind: KindUnsupported}
	ErrPlaylistEmpty = &Error{Kind: KindPlaylistEmpty}
)

type kinded interface {
	ErrorKind() string
}

// KindOf maps any error to its transport kind. Unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k kinded
	if errors.As(err, &k) {
		return Kind(k.ErrorKind())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderTimeout
	}
	return KindInternal
}

// Describe renders "Kind: message" for an oops response body.
// Errors without a kind are reported as a bare Internal.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	kind := KindOf(err)
	if kind == KindInternal {
		return string(KindInternal)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, string(kind)+": ") {
		return msg
	}
	return string(kind) + ": " + msg
}

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// ExitCode returns the CLI exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	var oops *OopsError
	if errors.As(err, &oops) {
		return ExitOops
	}
	return ExitRuntime
}
