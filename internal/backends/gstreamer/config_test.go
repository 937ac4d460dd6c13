package gstreamer

import "testing"

func TestRenderPipeline(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{}, `playbin uri="file:///a.flac" volume=0.50`},
		{
			Config{Pipeline: `uridecodebin uri={url} ! audioconvert ! volume volume={volume} ! alsasink device={device}`, Device: "hw:0"},
			`uridecodebin uri=file:///a.flac ! audioconvert ! volume volume=0.50 ! alsasink device=hw:0`,
		},
	}
	for _, tt := range tests {
		if got := tt.cfg.render("file:///a.flac", 0.5); got != tt.want {
			t.Fatalf("expected %q, got %q", tt.want, got)
		}
	}
}
