//go:build gstreamer

package gstreamer

import (
	"errors"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"

	"github.com/feeluown/fuocore/internal/player"
)

var errNotPlaying = errors.New("gstreamer: not playing")

var gstInitOnce sync.Once

// Driver plays one pipeline at a time.
type Driver struct {
	mu      sync.Mutex
	cfg     Config
	volume  float64
	current *gst.Element
	ended   bool
	failure error
}

// NewDriver initialises GStreamer and returns an idle driver.
func NewDriver(cfg Config) (*Driver, error) {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
	return &Driver{cfg: cfg, volume: 1.0}, nil
}

func (d *Driver) Play(url string, positionMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_ = d.stopLocked()
	pipeline, err := gst.ParseLaunch(d.cfg.render(url, d.volume))
	if err != nil {
		return err
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return err
	}
	d.current = pipeline
	d.ended = false
	d.failure = nil
	if positionMS > 0 {
		return d.seekLocked(positionMS)
	}
	return nil
}

func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return errNotPlaying
	}
	return d.current.SetState(gst.StatePaused)
}

func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return errNotPlaying
	}
	return d.current.SetState(gst.StatePlaying)
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Driver) SeekTo(positionMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return errNotPlaying
	}
	return d.seekLocked(positionMS)
}

func (d *Driver) SetVolume(volume float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = volume
	if d.current != nil {
		return d.current.SetProperty("volume", volume)
	}
	return nil
}

func (d *Driver) Position() (int64, int64, bool) {
	p := d.Probe()
	return p.PositionMS, p.DurationMS, p.State == player.DriverPlaying || p.State == player.DriverPaused
}

// Probe drains the pipeline bus and reports the playback state.
func (d *Driver) Probe() player.Probe {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return player.Probe{State: player.DriverIdle}
	}
	d.drainBusLocked()
	switch {
	case d.failure != nil:
		return player.Probe{State: player.DriverFailed, Err: d.failure}
	case d.ended:
		return player.Probe{State: player.DriverEnded}
	}

	var pos, dur int64
	if ok, ns := d.current.QueryPosition(gst.FormatTime); ok {
		pos = ns / int64(time.Millisecond)
	}
	if ok, ns := d.current.QueryDuration(gst.FormatTime); ok {
		dur = ns / int64(time.Millisecond)
	}
	switch d.current.GetCurrentState() {
	case gst.StatePlaying:
		return player.Probe{State: player.DriverPlaying, PositionMS: pos, DurationMS: dur}
	case gst.StatePaused:
		return player.Probe{State: player.DriverPaused, PositionMS: pos, DurationMS: dur}
	default:
		return player.Probe{State: player.DriverIdle}
	}
}

func (d *Driver) drainBusLocked() {
	bus := d.current.GetBus()
	if bus == nil {
		return
	}
	for {
		msg := bus.Pop()
		if msg == nil {
			return
		}
		switch msg.Type() {
		case gst.MessageEOS:
			d.ended = true
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				d.failure = errors.New(gerr.Error())
			} else {
				d.failure = errors.New("gstreamer: pipeline error")
			}
		}
	}
}

func (d *Driver) stopLocked() error {
	if d.current == nil {
		return nil
	}
	err := d.current.SetState(gst.StateNull)
	d.current = nil
	return err
}

func (d *Driver) seekLocked(positionMS int64) error {
	ns := positionMS * int64(time.Millisecond)
	if !d.current.SeekSimple(ns, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return errors.New("gstreamer: seek rejected")
	}
	return nil
}
