// Package session binds "what's playing / what's next" semantics to the
// playback engine: it holds the current playlist and index, translates
// intents into engine calls, and advances automatically when a track
// finishes.
package session

import (
	"errors"
	"fmt"
	"sync"

	"cantabile/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrOutOfRange is returned when a requested queue index does not exist.
var ErrOutOfRange = errors.New("session: index out of range")

// ErrNoQueue is returned when no playlist is bound to the session.
var ErrNoQueue = errors.New("session: no playlist selected")

// Controller is the slice of the playback engine the coordinator drives.
type Controller interface {
	LoadAndPlay(path string) error
	Stop()
	Finished() <-chan struct{}
}

// Resolver turns a track's source locator into a playable local path. Local
// paths resolve to themselves; remote locators are staged to disk first.
type Resolver func(source string) (string, error)

// Update is a snapshot of the coordinator's observable state, delivered to
// subscribers on every change.
type Update struct {
	Playlist *models.Playlist `json:"playlist,omitempty"`
	Track    *models.Track    `json:"track,omitempty"`
	Index    int              `json:"index"` // -1 when nothing is queued up
}

// Coordinator binds the current playlist position to the playback engine.
type Coordinator struct {
	mu        sync.RWMutex
	engine    Controller
	resolve   Resolver
	logger    *logrus.Logger
	queue     *models.Playlist
	index     int
	listeners []chan Update
	done      chan struct{}
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator and starts its advance loop.
func NewCoordinator(engine Controller, logger *logrus.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	c := &Coordinator{
		engine:  engine,
		resolve: func(source string) (string, error) { return source, nil },
		logger:  logger,
		index:   -1,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.advanceLoop()
	return c
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithResolver installs a source resolver, e.g. the remote staging client.
func WithResolver(r Resolver) CoordinatorOption {
	return func(c *Coordinator) { c.resolve = r }
}

// SetQueue binds a playlist as the active queue without starting playback.
// The previous position is discarded.
func (c *Coordinator) SetQueue(p *models.Playlist) {
	c.mu.Lock()
	c.queue = p
	c.index = -1
	c.mu.Unlock()
	c.notify()
}

// PlayIndex starts playback of the queue entry at index i.
func (c *Coordinator) PlayIndex(i int) error {
	c.mu.Lock()
	if c.queue == nil {
		c.mu.Unlock()
		return ErrNoQueue
	}
	if i < 0 || i >= len(c.queue.Tracks) {
		n := len(c.queue.Tracks)
		c.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, n)
	}
	track := c.queue.Tracks[i]
	c.mu.Unlock()

	path, err := c.resolve(track.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", track.Path, err)
	}
	if err := c.engine.LoadAndPlay(path); err != nil {
		return err
	}

	c.mu.Lock()
	c.index = i
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"index": i,
		"track": track.Title,
		"path":  track.Path,
	}).Info("Playing track")
	c.notify()
	return nil
}

// Next plays the following queue entry.
func (c *Coordinator) Next() error {
	c.mu.RLock()
	i := c.index
	c.mu.RUnlock()
	return c.PlayIndex(i + 1)
}

// Previous plays the preceding queue entry.
func (c *Coordinator) Previous() error {
	c.mu.RLock()
	i := c.index
	c.mu.RUnlock()
	return c.PlayIndex(i - 1)
}

// Stop stops the engine and clears the current position while keeping the
// queue bound.
func (c *Coordinator) Stop() {
	c.engine.Stop()
	c.mu.Lock()
	c.index = -1
	c.mu.Unlock()
	c.notify()
}

// Snapshot returns the current queue position.
func (c *Coordinator) Snapshot() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// snapshotLocked builds an Update; callers hold at least a read lock.
func (c *Coordinator) snapshotLocked() Update {
	u := Update{Index: c.index}
	if c.queue != nil {
		u.Playlist = c.queue.Clone()
		if c.index >= 0 && c.index < len(c.queue.Tracks) {
			t := c.queue.Tracks[c.index]
			u.Track = &t
		}
	}
	return u
}

// Subscribe adds a listener for position changes.
func (c *Coordinator) Subscribe() <-chan Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Update, 10) // Buffered channel to prevent blocking
	c.listeners = append(c.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (c *Coordinator) Unsubscribe(ch <-chan Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, listener := range c.listeners {
		if listener == ch {
			close(listener)
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}
}

// notify sends the current snapshot to all subscribers.
func (c *Coordinator) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.snapshotLocked()
	for i := 0; i < len(c.listeners); i++ {
		select {
		case c.listeners[i] <- u:
		default:
			// Listener stopped draining; drop it.
			close(c.listeners[i])
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			i--
		}
	}
}

// Close stops the advance loop. The engine is left as-is.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// advanceLoop is the single consumer of the engine's end-of-track
// notification: when a track finishes naturally it moves to the next queue
// entry, or stops and clears the position after the last one.
func (c *Coordinator) advanceLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.engine.Finished():
			c.advance()
		}
	}
}

func (c *Coordinator) advance() {
	c.mu.RLock()
	next := c.index + 1
	last := c.queue == nil || next >= len(c.queue.Tracks)
	c.mu.RUnlock()

	if last {
		c.logger.Info("Reached end of playlist")
		c.Stop()
		return
	}

	if err := c.PlayIndex(next); err != nil {
		c.logger.WithError(err).WithField("index", next).Error("Failed to advance to next track")
		c.Stop()
	}
}
