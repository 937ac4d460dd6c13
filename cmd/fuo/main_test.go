package main

import (
	"errors"
	"testing"
	"time"

	"github.com/feeluown/fuocore/internal/adapters/config"
	"github.com/feeluown/fuocore/internal/core"
)

func TestMergeConfigFlagsWin(t *testing.T) {
	cfg := config.Config{Host: "127.0.0.1", Port: 23333, Socket: "/run/fuo.sock", Timeout: "3s"}

	out, err := mergeConfig(cfg, "", 0, "", 0)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Socket != "/run/fuo.sock" || out.Timeout != 3*time.Second {
		t.Fatalf("unexpected config: %#v", out)
	}

	out, err = mergeConfig(cfg, "", 24444, "", time.Second)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Socket != "" || out.Port != 24444 || out.Timeout != time.Second {
		t.Fatalf("port flag should select tcp: %#v", out)
	}
}

func TestMergeConfigRejectsBadTimeout(t *testing.T) {
	_, err := mergeConfig(config.Config{Timeout: "soon"}, "", 0, "", 0)
	if core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestUsageErrorKeepsCLIErrors(t *testing.T) {
	if core.ExitCode(usageError(errors.New("unknown flag"))) != core.ExitUsage {
		t.Fatalf("expected usage exit")
	}
	runtime := core.WrapError(core.ExitRuntime, "connect", errors.New("refused"))
	if usageError(runtime) != error(runtime) {
		t.Fatalf("expected CLI error to pass through")
	}
}
