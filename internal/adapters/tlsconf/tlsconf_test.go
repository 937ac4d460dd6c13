package tlsconf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load("", "", "")
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
}

func TestLoadRequiresPair(t *testing.T) {
	if _, err := Load("", "cert.pem", ""); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestLoadBadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, "", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
