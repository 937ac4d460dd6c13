package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
)

type fakeDriver struct {
	mu     sync.Mutex
	probe  Probe
	played []string
	volume float64
	// autoStart reports playing right after Play.
	autoStart bool
}

func (d *fakeDriver) Play(url string, _ int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, url)
	if d.autoStart {
		d.probe = Probe{State: DriverPlaying, DurationMS: 1000}
	}
	return nil
}
func (d *fakeDriver) Pause() error  { d.set(Probe{State: DriverPaused}); return nil }
func (d *fakeDriver) Resume() error { d.set(Probe{State: DriverPlaying}); return nil }
func (d *fakeDriver) Stop() error   { d.set(Probe{State: DriverIdle}); return nil }
func (d *fakeDriver) SeekTo(int64) error {
	return nil
}
func (d *fakeDriver) SetVolume(v float64) error {
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()
	return nil
}
func (d *fakeDriver) Position() (int64, int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probe.PositionMS, d.probe.DurationMS, d.probe.State == DriverPlaying
}
func (d *fakeDriver) Probe() Probe {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probe
}
func (d *fakeDriver) set(p Probe) {
	d.mu.Lock()
	d.probe = p
	d.mu.Unlock()
}

func startBackend(t *testing.T, d Driver, opts BackendOptions) *PolledBackend {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	b := NewPolledBackend(zap.NewNop(), d, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func waitEvent(t *testing.T, b *PolledBackend, typ BackendEventType) BackendEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestPolledBackendLifecycle(t *testing.T) {
	d := &fakeDriver{autoStart: true}
	b := startBackend(t, d, BackendOptions{})
	ctx := context.Background()
	if err := b.Open(ctx, "http://a/1.mp3"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	ev := waitEvent(t, b, BackendStateChanged)
	if ev.State != BackendPlaying || ev.URL != "http://a/1.mp3" {
		t.Fatalf("unexpected event %#v", ev)
	}
	waitEvent(t, b, BackendPositionChanged)
	if b.Duration() != 1000 {
		t.Fatalf("expected duration 1000, got %d", b.Duration())
	}

	d.set(Probe{State: DriverEnded})
	if ev := waitEvent(t, b, BackendMediaFinished); ev.URL != "http://a/1.mp3" {
		t.Fatalf("unexpected finish url %q", ev.URL)
	}
}

func TestPolledBackendOpenTimeout(t *testing.T) {
	d := &fakeDriver{}
	b := startBackend(t, d, BackendOptions{OpenTimeout: 20 * time.Millisecond})
	_ = b.Open(context.Background(), "http://a/slow.mp3")
	_ = b.Play()
	ev := waitEvent(t, b, BackendErrorEvent)
	if ev.Code != CodeOpenTimeout {
		t.Fatalf("expected open timeout, got %d", ev.Code)
	}
}

func TestPolledBackendStreamError(t *testing.T) {
	d := &fakeDriver{autoStart: true}
	b := startBackend(t, d, BackendOptions{})
	_ = b.Open(context.Background(), "http://a/1.mp3")
	_ = b.Play()
	waitEvent(t, b, BackendStateChanged)
	d.set(Probe{State: DriverFailed, Err: errors.New("decode")})
	if ev := waitEvent(t, b, BackendErrorEvent); ev.Code != CodeStream {
		t.Fatalf("expected stream error, got %d", ev.Code)
	}
}

func TestPolledBackendRequiresOpen(t *testing.T) {
	b := startBackend(t, &fakeDriver{}, BackendOptions{})
	err := b.Play()
	var e *core.Error
	if !errors.As(err, &e) || e.Code != CodeNotOpen {
		t.Fatalf("expected not-open error, got %v", err)
	}
	if err := b.Open(context.Background(), ""); core.KindOf(err) != core.KindBackendError {
		t.Fatalf("expected BackendError, got %v", err)
	}
}

func TestPolledBackendVolumeScale(t *testing.T) {
	d := &fakeDriver{}
	b := startBackend(t, d, BackendOptions{})
	if err := b.SetVolume(50); err != nil {
		t.Fatalf("volume: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.volume != 0.5 {
		t.Fatalf("expected 0.5, got %v", d.volume)
	}
}

func TestPolledBackendClosed(t *testing.T) {
	b := NewPolledBackend(zap.NewNop(), &fakeDriver{}, BackendOptions{PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	if err := b.Stop(); !errors.Is(err, ErrBackendClosed) {
		t.Fatalf("expected ErrBackendClosed, got %v", err)
	}
}
