package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/fuod"
)

func testConfig() fuod.Config {
	cfg := fuod.DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.DataDir = "/data"
	cfg.Player.Backend = fuod.BackendNull
	return cfg
}

func TestBuildCoreModules(t *testing.T) {
	fs := afero.NewMemMapFs()
	d, err := build(testConfig(), fs, zap.NewNop(), "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := strings.Join(d.names(), ","); got != "app,rpc" {
		t.Fatalf("unexpected modules: %s", got)
	}
	if ok, _ := afero.Exists(fs, "/data/collections/library.fuo"); !ok {
		t.Fatalf("expected library collection to be created")
	}
	if err := d.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuildOptionalModules(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.Local.Enabled = true
	cfg.Providers.Local.Roots = []string{"/music"}
	cfg.FM.Provider = "local"
	cfg.EmbeddedMQTT.Enabled = true
	cfg.EmbeddedMQTT.AllowAnonymous = true
	cfg.MQTT.Enabled = true

	d, err := build(cfg, afero.NewMemMapFs(), zap.NewNop(), "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := strings.Join(d.names(), ","); got != "app,rpc,local_scan,embedded_mqtt,mqtt_bridge" {
		t.Fatalf("unexpected modules: %s", got)
	}
	if strings.Join(d.providers, ",") != "local" {
		t.Fatalf("unexpected providers: %v", d.providers)
	}

	d, err = build(cfg, afero.NewMemMapFs(), zap.NewNop(), "local_scan")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := strings.Join(d.names(), ","); got != "app,rpc,local_scan" {
		t.Fatalf("unexpected filtered modules: %s", got)
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	tests := map[string]func(*fuod.Config){
		"unknown module": func(*fuod.Config) {},
		"backend":        func(c *fuod.Config) { c.Player.Backend = "winamp" },
		"quality":        func(c *fuod.Config) { c.Library.Quality = "ultra" },
		"fm provider":    func(c *fuod.Config) { c.FM.Provider = "missing" },
		"mqtt broker":    func(c *fuod.Config) { c.MQTT.Enabled = true },
		"local roots":    func(c *fuod.Config) { c.Providers.Local.Enabled = true },
	}
	for name, mutate := range tests {
		cfg := testConfig()
		mutate(&cfg)
		only := ""
		if name == "unknown module" {
			only = "nope"
		}
		if _, err := build(cfg, afero.NewMemMapFs(), zap.NewNop(), only); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := testConfig()
	env := map[string]string{"FEELUOWN_PORT": "24444", "FEELUOWN_SOCKET": "/tmp/fuo.sock"}
	err := applyOverrides(&cfg, func(k string) string { return env[k] }, "", "", "debug", "json", "", false, true, false)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:24444" {
		t.Fatalf("unexpected listen: %s", cfg.Server.Listen)
	}
	if cfg.Server.Socket != "/tmp/fuo.sock" || !cfg.Server.UnixSocket {
		t.Fatalf("unexpected socket: %#v", cfg.Server)
	}
	if cfg.Server.LogLevel != "debug" || cfg.Server.LogFormat != "json" || !cfg.Server.LogUTC {
		t.Fatalf("unexpected log config: %#v", cfg.Server)
	}

	cfg = testConfig()
	err = applyOverrides(&cfg, func(k string) string { return env[k] }, "0.0.0.0:1", "", "", "", "", false, false, false)
	if err != nil || cfg.Server.Listen != "0.0.0.0:1" {
		t.Fatalf("flag should win over env: %s (%v)", cfg.Server.Listen, err)
	}

	bad := map[string]string{"FEELUOWN_PORT": "http"}
	if err := applyOverrides(&cfg, func(k string) string { return bad[k] }, "", "", "", "", "", false, false, false); err == nil {
		t.Fatalf("expected bad port error")
	}
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "fuod.toml")
	body := fmt.Sprintf("[server]\nlisten = \"127.0.0.1:0\"\ndata_dir = %q\nlog_level = \"error\"\n\n[player]\nbackend = \"null\"\n", filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	noEnv := func(string) string { return "" }

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"dry run", []string{"-config", path, "-dry-run"}, 0},
		{"missing config", []string{"-config", filepath.Join(dir, "missing.toml")}, 1},
		{"unknown module", []string{"-config", path, "-module", "nope", "-dry-run"}, 1},
		{"bad flag", []string{"-bogus"}, 2},
	}
	for _, tt := range tests {
		var stdout, stderr bytes.Buffer
		if got := run(tt.args, noEnv, &stdout, &stderr); got != tt.want {
			t.Fatalf("%s: expected exit %d, got %d (stderr %q)", tt.name, tt.want, got, stderr.String())
		}
	}

	var stdout, stderr bytes.Buffer
	if got := run([]string{"-config", path, "-print-config"}, noEnv, &stdout, &stderr); got != 0 {
		t.Fatalf("print config: exit %d (stderr %q)", got, stderr.String())
	}
	if !strings.Contains(stdout.String(), "[server]") || !strings.Contains(stdout.String(), `backend = "null"`) {
		t.Fatalf("unexpected printed config:\n%s", stdout.String())
	}
}

func TestServeClosesLibraryOnModuleError(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.Local.Enabled = true
	cfg.Providers.Local.Roots = []string{"/music"}
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/music", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	d, err := build(cfg, fs, zap.NewNop(), "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(d.library.Providers()) != 1 {
		t.Fatalf("expected the local provider to be registered")
	}
	d.modules = append(d.modules, fuod.ModuleRunner{
		Name: "broken",
		Run:  func(context.Context) error { return errors.New("boom") },
	})
	if code := d.serve(context.Background(), zap.NewNop()); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if n := len(d.library.Providers()); n != 0 {
		t.Fatalf("expected providers released, %d left", n)
	}
}
