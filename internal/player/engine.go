package player

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/sirupsen/logrus"
)

// Engine owns the single active playback session: the open source, the
// output device binding, and the lifecycle state machine. Control calls
// return immediately; decode and output happen on the device's goroutine.
// Exactly one source is ever open at a time.
type Engine struct {
	mu     sync.Mutex
	out    Output
	open   OpenFunc
	logger *logrus.Logger

	sampleRate beep.SampleRate
	bufferSize int

	state    State
	path     string
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	level    float64

	// generation invalidates end-of-track callbacks from torn-down sessions.
	generation uint64
	finished   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutput replaces the audio device, used by tests to run headless.
func WithOutput(out Output) Option {
	return func(e *Engine) { e.out = out }
}

// WithOpener replaces the source opener.
func WithOpener(open OpenFunc) Option {
	return func(e *Engine) { e.open = open }
}

// WithSampleRate sets the device sample rate and buffer length. Sources at
// other rates are resampled.
func WithSampleRate(rate int, buffer time.Duration) Option {
	return func(e *Engine) {
		e.sampleRate = beep.SampleRate(rate)
		e.bufferSize = e.sampleRate.N(buffer)
	}
}

// NewEngine creates a playback engine in the Idle state.
func NewEngine(logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	e := &Engine{
		out:        NewSpeakerOutput(),
		open:       OpenFile,
		logger:     logger,
		sampleRate: beep.SampleRate(44100),
		state:      StateIdle,
		level:      1.0,
		finished:   make(chan struct{}, 1),
	}
	e.bufferSize = e.sampleRate.N(100 * time.Millisecond)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Finished returns the one-shot end-of-track channel. The engine delivers
// exactly one notification per source that plays to natural completion;
// stops and replacement loads are never reported.
func (e *Engine) Finished() <-chan struct{} {
	return e.finished
}

// Load opens a source for playback without starting it. Any active session
// is fully torn down first. On failure the engine is left Idle.
func (e *Engine) Load(path string) error {
	return e.loadInternal(path, false)
}

// LoadAndPlay opens a source and starts playback immediately. Any active
// session is fully torn down first. On failure the engine is left Idle.
func (e *Engine) LoadAndPlay(path string) error {
	return e.loadInternal(path, true)
}

func (e *Engine) loadInternal(path string, start bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Tear down whatever was active before opening the new source, so two
	// sessions never hold the device at once.
	e.teardownLocked()

	streamer, format, err := e.open(path)
	if err != nil {
		e.logger.WithError(err).WithField("path", path).Error("Failed to open audio source")
		return err
	}

	if err := e.out.Init(e.sampleRate, e.bufferSize); err != nil {
		streamer.Close()
		e.logger.WithError(err).Error("Failed to initialize audio output")
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}

	var source beep.Streamer = streamer
	if format.SampleRate != e.sampleRate {
		source = beep.Resample(4, format.SampleRate, e.sampleRate, streamer)
	}

	e.streamer = streamer
	e.format = format
	e.path = path
	e.ctrl = &beep.Ctrl{Streamer: source, Paused: !start}
	e.volume = &effects.Volume{
		Streamer: e.ctrl,
		Base:     2,
		Volume:   linearToGain(e.level),
		Silent:   e.level == 0,
	}

	e.generation++
	gen := e.generation
	e.out.Play(beep.Seq(e.volume, beep.Callback(func() {
		// Runs on the device goroutine; hop off it before taking e.mu so a
		// control call holding the lock can still reach the device.
		go e.sourceExhausted(gen)
	})))

	if start {
		e.state = StatePlaying
	} else {
		e.state = StateLoaded
	}

	e.logger.WithFields(logrus.Fields{
		"path":        path,
		"sample_rate": int(format.SampleRate),
		"duration":    e.durationLocked().String(),
		"state":       e.state.String(),
	}).Info("Loaded audio source")
	return nil
}

// Play starts playback of a loaded source.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLoaded {
		return fmt.Errorf("%w: play from %s", ErrInvalidState, e.state)
	}
	e.setPausedLocked(false)
	e.state = StatePlaying
	return nil
}

// Pause suspends playback. Valid only while Playing; in any other state it
// is a no-op reporting ErrInvalidState.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, e.state)
	}
	e.setPausedLocked(true)
	e.state = StatePaused
	return nil
}

// Resume continues playback. Valid only while Paused; in any other state it
// is a no-op reporting ErrInvalidState.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, e.state)
	}
	e.setPausedLocked(false)
	e.state = StatePlaying
	return nil
}

// Stop releases the active session and returns to Idle. Valid from any
// state and always succeeds.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

// Seek repositions playback, clamped to [0, duration]. The lifecycle state
// is unchanged: seeking while paused stays paused.
func (e *Engine) Seek(offset time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateIdle {
		return fmt.Errorf("%w: seek with no source loaded", ErrInvalidState)
	}

	if offset < 0 {
		offset = 0
	}
	if total := e.durationLocked(); offset > total {
		offset = total
	}

	e.out.Lock()
	err := e.streamer.Seek(e.format.SampleRate.N(offset))
	e.out.Unlock()
	if err != nil {
		return fmt.Errorf("failed to seek to %s: %w", offset, err)
	}

	e.logger.WithFields(logrus.Fields{
		"path":   e.path,
		"offset": offset.String(),
	}).Debug("Seeked")
	return nil
}

// SetVolume sets the output level, clamped to [0.0, 1.0]. Takes effect
// immediately on whatever is currently sounding and always succeeds.
func (e *Engine) SetVolume(level float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	e.level = level

	if e.volume != nil {
		e.out.Lock()
		e.volume.Silent = level == 0
		e.volume.Volume = linearToGain(level)
		e.out.Unlock()
	}
}

// Volume returns the current output level.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Position returns the elapsed playback time of the current source.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// Duration returns the total length of the current source.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationLocked()
}

// IsPlaying reports whether audio is currently being output.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StatePlaying
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot captures state, position, duration and volume in one
// synchronized read.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		State:    e.state,
		Path:     e.path,
		Position: e.positionLocked(),
		Duration: e.durationLocked(),
		Volume:   e.level,
	}
}

// sourceExhausted handles natural end-of-track: the device drained the
// source without an intervening Stop or replacement Load.
func (e *Engine) sourceExhausted(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.state != StatePlaying {
		e.mu.Unlock()
		return
	}
	path := e.path
	e.teardownLocked()
	e.mu.Unlock()

	e.logger.WithField("path", path).Info("Track finished")

	select {
	case e.finished <- struct{}{}:
	default:
		// Previous notification not yet consumed; never double-deliver.
	}
}

// setPausedLocked flips the pause flag under the device lock.
func (e *Engine) setPausedLocked(paused bool) {
	e.out.Lock()
	e.ctrl.Paused = paused
	e.out.Unlock()
}

// teardownLocked releases the active session and returns to Idle. Callers
// hold e.mu.
func (e *Engine) teardownLocked() {
	// Invalidate any pending end-of-track callback for the old session.
	e.generation++

	if e.streamer != nil {
		e.out.Clear()
		if err := e.streamer.Close(); err != nil {
			e.logger.WithError(err).WithField("path", e.path).Warn("Failed to close audio source")
		}
	}

	e.streamer = nil
	e.ctrl = nil
	e.volume = nil
	e.format = beep.Format{}
	e.path = ""
	e.state = StateIdle
}

func (e *Engine) positionLocked() time.Duration {
	if e.streamer == nil {
		return 0
	}
	e.out.Lock()
	pos := e.streamer.Position()
	e.out.Unlock()
	return e.format.SampleRate.D(pos)
}

func (e *Engine) durationLocked() time.Duration {
	if e.streamer == nil {
		return 0
	}
	return e.format.SampleRate.D(e.streamer.Len())
}

// linearToGain maps the linear 0..1 control level onto beep's logarithmic
// volume scale. With Base 2, 2**log2(level) multiplies samples by exactly
// level; level 0 is handled by the Silent flag.
func linearToGain(level float64) float64 {
	if level <= 0 {
		return 0
	}
	return math.Log2(level)
}
