package clock

import (
	"sync/atomic"
	"time"
)

// Clock reads the wall clock.
type Clock struct{}

// NowUnix returns current unix seconds.
func (Clock) NowUnix() int64 {
	return time.Now().Unix()
}

// Manual is a clock that only moves when told to.
type Manual struct {
	now atomic.Int64
}

// NewManual returns a manual clock starting at unix second start.
func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// NowUnix returns the current manual time.
func (m *Manual) NowUnix() int64 {
	return m.now.Load()
}

// Advance moves the clock forward by seconds.
func (m *Manual) Advance(seconds int64) {
	m.now.Add(seconds)
}
