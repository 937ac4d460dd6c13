package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
)

// Backend error codes carried by BackendError.
const (
	CodeUnknown     = 1
	CodeDriver      = 2
	CodeOpenTimeout = 3
	CodeNotOpen     = 4
	CodeStream      = 5
)

// DefaultOpenTimeout bounds the time between Play and the first sign of playback.
const DefaultOpenTimeout = 10 * time.Second

// DefaultPollInterval is how often PolledBackend probes its driver.
const DefaultPollInterval = 200 * time.Millisecond

// ErrBackendClosed is returned once the backend loop has exited.
var ErrBackendClosed = errors.New("backend closed")

// BackendState is the engine-side playback state.
type BackendState string

// Backend states.
const (
	BackendStopped BackendState = "stopped"
	BackendPlaying BackendState = "playing"
	BackendPaused  BackendState = "paused"
)

// BackendEventType names a backend event.
type BackendEventType string

// Backend events.
const (
	BackendStateChanged    BackendEventType = "state_changed"
	BackendPositionChanged BackendEventType = "position_changed"
	BackendMediaFinished   BackendEventType = "media_finished"
	BackendErrorEvent      BackendEventType = "error"
)

// BackendEvent is posted by a MediaBackend. URL names the media it refers to.
type BackendEvent struct {
	Type       BackendEventType
	URL        string
	State      BackendState
	PositionMS int64
	DurationMS int64
	Code       int
	Err        error
}

// MediaBackend opens and renders media. Its methods post commands to the
// engine; results of playback arrive on Events.
type MediaBackend interface {
	Open(ctx context.Context, url string) error
	Play() error
	Pause() error
	Resume() error
	Stop() error
	SeekTo(positionMS int64) error
	Position() int64
	Duration() int64
	SetVolume(volume int) error
	Events() <-chan BackendEvent
}

// Driver executes playback actions synchronously. Engines implement it.
type Driver interface {
	Play(url string, positionMS int64) error
	Pause() error
	Resume() error
	Stop() error
	SeekTo(positionMS int64) error
	SetVolume(volume float64) error
	Position() (positionMS int64, durationMS int64, ok bool)
}

// DriverState is what a Prober reports.
type DriverState int

// Driver states.
const (
	DriverIdle DriverState = iota
	DriverPlaying
	DriverPaused
	DriverEnded
	DriverFailed
)

// Probe is a driver status snapshot.
type Probe struct {
	State      DriverState
	PositionMS int64
	DurationMS int64
	Err        error
}

// Prober is implemented by drivers that report end of stream and errors.
// Drivers without it are probed through Position.
type Prober interface {
	Probe() Probe
}

// BackendError wraps a driver failure with its code.
func BackendError(code int, err error) error {
	return &core.Error{Kind: core.KindBackendError, Msg: fmt.Sprintf("code %d", code), Code: code, Err: err}
}

// PolledBackend adapts a Driver to MediaBackend. All driver calls happen on
// the goroutine running Run; callers post commands and wait for the result.
type PolledBackend struct {
	log         *zap.Logger
	driver      Driver
	poll        time.Duration
	openTimeout time.Duration

	cmds   chan backendCommand
	events chan BackendEvent
	done   chan struct{}

	mu  sync.Mutex
	pos int64
	dur int64

	// Owned by the Run goroutine.
	url       string
	state     BackendState
	loading   bool
	loadStart time.Time
	seenPos   bool
}

type backendCommand struct {
	fn    func() error
	reply chan error
}

// BackendOptions tune a PolledBackend.
type BackendOptions struct {
	PollInterval time.Duration
	OpenTimeout  time.Duration
}

// NewPolledBackend wraps driver.
func NewPolledBackend(log *zap.Logger, driver Driver, opts BackendOptions) *PolledBackend {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	return &PolledBackend{
		log:         log,
		driver:      driver,
		poll:        opts.PollInterval,
		openTimeout: opts.OpenTimeout,
		cmds:        make(chan backendCommand),
		events:      make(chan BackendEvent, 64),
		done:        make(chan struct{}),
		state:       BackendStopped,
	}
}

// Run owns the driver until ctx is done.
func (b *PolledBackend) Run(ctx context.Context) error {
	defer close(b.done)
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := b.driver.Stop(); err != nil {
				b.log.Debug("driver stop on shutdown", zap.Error(err))
			}
			return nil
		case cmd := <-b.cmds:
			cmd.reply <- cmd.fn()
		case <-ticker.C:
			b.probe(ctx)
		}
	}
}

func (b *PolledBackend) do(fn func() error) error {
	cmd := backendCommand{fn: fn, reply: make(chan error, 1)}
	select {
	case b.cmds <- cmd:
	case <-b.done:
		return ErrBackendClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-b.done:
		return ErrBackendClosed
	}
}

// Events returns the event channel.
func (b *PolledBackend) Events() <-chan BackendEvent {
	return b.events
}

// Open stops the current media and prepares url.
func (b *PolledBackend) Open(ctx context.Context, url string) error {
	if url == "" {
		return BackendError(CodeNotOpen, errors.New("empty url"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.do(func() error {
		if b.state != BackendStopped {
			if err := b.driver.Stop(); err != nil {
				b.log.Debug("driver stop before open", zap.Error(err))
			}
		}
		b.url = url
		b.state = BackendStopped
		b.loading = false
		b.setPosition(0, 0)
		return nil
	})
}

// Play starts the opened media from the beginning.
func (b *PolledBackend) Play() error {
	return b.do(func() error {
		if b.url == "" {
			return BackendError(CodeNotOpen, errors.New("nothing opened"))
		}
		if err := b.driver.Play(b.url, 0); err != nil {
			return BackendError(CodeDriver, err)
		}
		b.loading = true
		b.seenPos = false
		b.loadStart = time.Now()
		return nil
	})
}

// Pause pauses playback.
func (b *PolledBackend) Pause() error {
	return b.do(func() error {
		if err := b.driver.Pause(); err != nil {
			return BackendError(CodeDriver, err)
		}
		if b.state == BackendPlaying || b.loading {
			b.loading = false
			b.state = BackendPaused
		}
		return nil
	})
}

// Resume resumes paused playback.
func (b *PolledBackend) Resume() error {
	return b.do(func() error {
		if err := b.driver.Resume(); err != nil {
			return BackendError(CodeDriver, err)
		}
		if b.state == BackendPaused {
			b.state = BackendPlaying
		}
		return nil
	})
}

// Stop stops playback and forgets the opened media.
func (b *PolledBackend) Stop() error {
	return b.do(func() error {
		b.loading = false
		b.state = BackendStopped
		b.url = ""
		b.setPosition(0, 0)
		if err := b.driver.Stop(); err != nil {
			return BackendError(CodeDriver, err)
		}
		return nil
	})
}

// SeekTo moves the playhead.
func (b *PolledBackend) SeekTo(positionMS int64) error {
	return b.do(func() error {
		if err := b.driver.SeekTo(positionMS); err != nil {
			return BackendError(CodeDriver, err)
		}
		b.mu.Lock()
		b.pos = positionMS
		b.mu.Unlock()
		return nil
	})
}

// SetVolume sets the volume in percent.
func (b *PolledBackend) SetVolume(volume int) error {
	return b.do(func() error {
		if err := b.driver.SetVolume(float64(volume) / 100); err != nil {
			return BackendError(CodeDriver, err)
		}
		return nil
	})
}

// Position returns the last probed position.
func (b *PolledBackend) Position() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// Duration returns the last probed duration.
func (b *PolledBackend) Duration() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dur
}

func (b *PolledBackend) setPosition(pos, dur int64) {
	b.mu.Lock()
	b.pos = pos
	b.dur = dur
	b.mu.Unlock()
}

func (b *PolledBackend) readProbe() Probe {
	if p, ok := b.driver.(Prober); ok {
		return p.Probe()
	}
	pos, dur, ok := b.driver.Position()
	switch {
	case !ok && b.seenPos:
		return Probe{State: DriverEnded, PositionMS: pos, DurationMS: dur}
	case !ok:
		return Probe{State: DriverIdle}
	case dur > 0 && pos >= dur:
		return Probe{State: DriverEnded, PositionMS: pos, DurationMS: dur}
	case b.state == BackendPaused:
		return Probe{State: DriverPaused, PositionMS: pos, DurationMS: dur}
	default:
		return Probe{State: DriverPlaying, PositionMS: pos, DurationMS: dur}
	}
}

func (b *PolledBackend) probe(ctx context.Context) {
	if b.url == "" || (b.state == BackendStopped && !b.loading) {
		return
	}
	p := b.readProbe()
	if p.State == DriverPlaying || p.State == DriverPaused {
		b.seenPos = true
		b.setPosition(p.PositionMS, p.DurationMS)
	}

	if b.loading {
		switch p.State {
		case DriverPlaying:
			b.loading = false
			b.state = BackendPlaying
			b.emit(ctx, BackendEvent{Type: BackendStateChanged, State: BackendPlaying})
		case DriverFailed:
			b.loading = false
			b.state = BackendStopped
			b.emit(ctx, BackendEvent{Type: BackendErrorEvent, Code: CodeStream, Err: p.Err})
		case DriverEnded:
			b.loading = false
			b.state = BackendStopped
			b.emit(ctx, BackendEvent{Type: BackendMediaFinished})
		default:
			if time.Since(b.loadStart) > b.openTimeout {
				b.loading = false
				b.state = BackendStopped
				_ = b.driver.Stop()
				b.emit(ctx, BackendEvent{Type: BackendErrorEvent, Code: CodeOpenTimeout, Err: errors.New("open timed out")})
			}
		}
		return
	}

	switch p.State {
	case DriverEnded:
		b.state = BackendStopped
		b.emit(ctx, BackendEvent{Type: BackendMediaFinished})
	case DriverFailed:
		b.state = BackendStopped
		b.emit(ctx, BackendEvent{Type: BackendErrorEvent, Code: CodeStream, Err: p.Err})
	case DriverPaused:
		if b.state == BackendPlaying {
			b.state = BackendPaused
			b.emit(ctx, BackendEvent{Type: BackendStateChanged, State: BackendPaused})
		}
	case DriverPlaying:
		if b.state == BackendPaused {
			b.state = BackendPlaying
			b.emit(ctx, BackendEvent{Type: BackendStateChanged, State: BackendPlaying})
		}
		b.tryEmit(BackendEvent{Type: BackendPositionChanged, PositionMS: p.PositionMS, DurationMS: p.DurationMS})
	}
}

// emit delivers an event that must not be lost. Commands keep being served
// while the consumer is behind, since the consumer may be waiting on one.
func (b *PolledBackend) emit(ctx context.Context, ev BackendEvent) {
	ev.URL = b.url
	for {
		select {
		case b.events <- ev:
			return
		case cmd := <-b.cmds:
			cmd.reply <- cmd.fn()
		case <-ctx.Done():
			return
		}
	}
}

// tryEmit drops the event when the queue is half full.
func (b *PolledBackend) tryEmit(ev BackendEvent) {
	if len(b.events) >= cap(b.events)/2 {
		return
	}
	ev.URL = b.url
	select {
	case b.events <- ev:
	default:
	}
}
