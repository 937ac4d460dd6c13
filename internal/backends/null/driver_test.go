package null

import (
	"testing"
	"time"

	"github.com/feeluown/fuocore/internal/player"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestDriverSimulatesPlayback(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := NewDriver(WithNow(clock.now), WithDuration(10*time.Second))

	if p := d.Probe(); p.State != player.DriverIdle {
		t.Fatalf("expected idle, got %v", p.State)
	}
	if err := d.Play("null://a", 0); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.t = clock.t.Add(4 * time.Second)
	if p := d.Probe(); p.State != player.DriverPlaying || p.PositionMS != 4000 || p.DurationMS != 10000 {
		t.Fatalf("unexpected probe %#v", p)
	}

	_ = d.Pause()
	clock.t = clock.t.Add(time.Minute)
	if p := d.Probe(); p.State != player.DriverPaused || p.PositionMS != 4000 {
		t.Fatalf("pause should freeze position, got %#v", p)
	}
	_ = d.Resume()
	_ = d.SeekTo(9000)
	clock.t = clock.t.Add(2 * time.Second)
	if p := d.Probe(); p.State != player.DriverEnded {
		t.Fatalf("expected ended, got %#v", p)
	}
}

func TestDriverRequiresURL(t *testing.T) {
	d := NewDriver()
	if err := d.Play("", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if err := d.Pause(); err == nil {
		t.Fatalf("expected error when idle")
	}
	if _, _, ok := d.Position(); ok {
		t.Fatalf("idle driver has no position")
	}
}
