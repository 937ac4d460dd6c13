// Package null provides a driver that simulates playback against the wall
// clock. It renders nothing and is used for headless daemons and tests.
package null

import (
	"errors"
	"sync"
	"time"

	"github.com/feeluown/fuocore/internal/player"
)

// DefaultDuration is the simulated length of every track.
const DefaultDuration = 3 * time.Minute

// Driver simulates a single playing track.
type Driver struct {
	mu       sync.Mutex
	now      func() time.Time
	duration time.Duration

	url     string
	started time.Time
	offset  time.Duration
	paused  bool
	volume  float64
}

// Option configures a Driver.
type Option func(*Driver)

// WithDuration sets the simulated track length.
func WithDuration(d time.Duration) Option {
	return func(n *Driver) {
		if d > 0 {
			n.duration = d
		}
	}
}

// WithNow replaces the clock.
func WithNow(now func() time.Time) Option {
	return func(n *Driver) { n.now = now }
}

// NewDriver returns an idle driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{now: time.Now, duration: DefaultDuration, volume: 1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Play(url string, positionMS int64) error {
	if url == "" {
		return errors.New("url required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.started = d.now()
	d.offset = time.Duration(positionMS) * time.Millisecond
	d.paused = false
	return nil
}

func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		return errors.New("not playing")
	}
	if !d.paused {
		d.offset = d.elapsedLocked()
		d.paused = true
	}
	return nil
}

func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		return errors.New("not playing")
	}
	if d.paused {
		d.started = d.now()
		d.paused = false
	}
	return nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = ""
	d.offset = 0
	d.paused = false
	return nil
}

func (d *Driver) SeekTo(positionMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		return errors.New("not playing")
	}
	d.offset = time.Duration(positionMS) * time.Millisecond
	d.started = d.now()
	return nil
}

func (d *Driver) SetVolume(volume float64) error {
	d.mu.Lock()
	d.volume = volume
	d.mu.Unlock()
	return nil
}

// Volume returns the last volume set, in [0, 1].
func (d *Driver) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *Driver) Position() (int64, int64, bool) {
	p := d.Probe()
	return p.PositionMS, p.DurationMS, p.State == player.DriverPlaying || p.State == player.DriverPaused
}

// Probe reports the simulated state.
func (d *Driver) Probe() player.Probe {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		return player.Probe{State: player.DriverIdle}
	}
	elapsed := d.elapsedLocked()
	dur := d.duration.Milliseconds()
	if elapsed >= d.duration {
		return player.Probe{State: player.DriverEnded, PositionMS: dur, DurationMS: dur}
	}
	state := player.DriverPlaying
	if d.paused {
		state = player.DriverPaused
	}
	return player.Probe{State: state, PositionMS: elapsed.Milliseconds(), DurationMS: dur}
}

func (d *Driver) elapsedLocked() time.Duration {
	if d.paused {
		return d.offset
	}
	return d.offset + d.now().Sub(d.started)
}
