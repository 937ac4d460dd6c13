package mqtt

import (
	"strings"
	"testing"
)

func TestTruncatePayload(t *testing.T) {
	short := []byte("ok 0\nOK\n")
	if got := truncatePayload(short); got != string(short) {
		t.Fatalf("short payload changed: %q", got)
	}
	long := []byte(strings.Repeat("a", 3000))
	got := truncatePayload(long)
	if len(got) != 2048+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation length %d", len(got))
	}
}
