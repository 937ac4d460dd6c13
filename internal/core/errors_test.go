package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/feeluown/fuocore/pkg/fuo"
)

func TestKindOf(t *testing.T) {
	_, parseErr := fuo.ParseRequest("play 'x")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"domain", New(KindBadURI, "bad"), KindBadURI},
		{"wrapped", fmt.Errorf("resolve: %w", New(KindNoSuchProvider, "x")), KindNoSuchProvider},
		{"parse", parseErr, KindBadQuote},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindProviderTimeout},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, test := range tests {
		if got := KindOf(test.err); got != test.want {
			t.Fatalf("%s: expected %s got %s", test.name, test.want, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{New(KindPlaylistEmpty, "nothing to play"), "PlaylistEmpty: nothing to play"},
		{New(KindUnsupported, ""), "Unsupported"},
		{Wrap(KindProviderError, "", errors.New("http 500")), "ProviderError: http 500"},
		{errors.New("secret internals"), "Internal"},
	}
	for _, test := range tests {
		if got := Describe(test.err); got != test.want {
			t.Fatalf("expected %q got %q", test.want, got)
		}
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("get: %w", Errorf(KindNotFound, "song %s", "1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound match")
	}
	if errors.Is(err, ErrUnsupported) {
		t.Fatalf("unexpected Unsupported match")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != ExitOK {
		t.Fatalf("nil should exit 0")
	}
	if ExitCode(WrapError(ExitUsage, "usage", nil)) != ExitUsage {
		t.Fatalf("usage error should exit 2")
	}
	if ExitCode(errors.New("x")) != ExitOops {
		t.Fatalf("plain error should exit 1")
	}
}
