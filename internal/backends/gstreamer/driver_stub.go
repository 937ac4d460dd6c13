//go:build !gstreamer

package gstreamer

import (
	"errors"

	"github.com/feeluown/fuocore/internal/player"
)

var errNoTag = errors.New("gstreamer build tag not enabled")

// Driver is a stub when the gstreamer tag is not enabled.
type Driver struct{}

// NewDriver fails when the gstreamer build tag is missing.
func NewDriver(cfg Config) (*Driver, error) {
	return nil, errNoTag
}

func (d *Driver) Play(url string, positionMS int64) error { return errNoTag }
func (d *Driver) Pause() error                            { return errNoTag }
func (d *Driver) Resume() error                           { return errNoTag }
func (d *Driver) Stop() error                             { return errNoTag }
func (d *Driver) SeekTo(positionMS int64) error           { return errNoTag }
func (d *Driver) SetVolume(volume float64) error          { return errNoTag }
func (d *Driver) Position() (int64, int64, bool)          { return 0, 0, false }
func (d *Driver) Probe() player.Probe                     { return player.Probe{State: player.DriverIdle} }
