package stream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is a playback lifecycle notification.
type Event string

const (
	EventBuffering Event = "buffering"
	EventPlaying   Event = "playing"
	EventPaused    Event = "paused"
	EventError     Event = "error"
)

// toggleWindow is the minimum gap between accepted play/pause toggles.
// Rapid keypresses inside the window are dropped instead of queued.
const toggleWindow = 300 * time.Millisecond

// Backend is a playback engine the controller drives. Play always joins
// the live edge; there is no seek or resume on a radio stream.
type Backend interface {
	Play(ctx context.Context, url string) error
	Pause() error
	Analyser() *Analyser
	Close() error
}

// Controller serializes play/pause over a single backend and announces
// lifecycle transitions. It is safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	backend    Backend
	streamURL  string
	playing    bool
	lastToggle time.Time

	analyserOnce sync.Once

	lifecycleFns []func(Event)
	analyserFns  []func(*Analyser)
}

// NewController creates a controller for the given stream URL.
func NewController(backend Backend, streamURL string) *Controller {
	return &Controller{backend: backend, streamURL: streamURL}
}

// OnLifecycle registers fn for playback state changes. Must be called
// before playback starts.
func (c *Controller) OnLifecycle(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycleFns = append(c.lifecycleFns, fn)
}

// OnAnalyserReady registers fn to receive the analyser once the audio
// graph exists. For backends without a sample tap fn is never called.
func (c *Controller) OnAnalyserReady(fn func(*Analyser)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyserFns = append(c.analyserFns, fn)
}

// Playing reports whether the stream is currently playing.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// TogglePlay flips between playing and paused. Calls landing inside the
// debounce window of a previous toggle are ignored and report false.
func (c *Controller) TogglePlay(ctx context.Context) bool {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastToggle) < toggleWindow {
		c.mu.Unlock()
		return false
	}
	c.lastToggle = now
	playing := c.playing
	c.mu.Unlock()

	if playing {
		if err := c.Pause(); err != nil {
			log.Warn().Err(err).Msg("Pause failed")
		}
	} else {
		if err := c.Play(ctx); err != nil {
			log.Warn().Err(err).Msg("Play failed")
		}
	}
	return true
}

// Play joins the live edge of the stream. The URL carries a fresh
// cache-busting parameter so intermediaries never serve a stale
// connection.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	backend := c.backend
	target, err := cacheBust(c.streamURL)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.emit(EventBuffering)

	if err := backend.Play(ctx, target); err != nil {
		c.emit(EventError)
		return fmt.Errorf("playback failed: %w", err)
	}

	c.mu.Lock()
	c.playing = true
	c.mu.Unlock()

	// First successful play means the audio graph exists; hand the
	// analyser to anyone waiting for frequency data.
	if a := backend.Analyser(); a != nil {
		c.analyserOnce.Do(func() {
			c.mu.Lock()
			fns := append([]func(*Analyser){}, c.analyserFns...)
			c.mu.Unlock()
			for _, fn := range fns {
				fn(a)
			}
		})
	}

	c.emit(EventPlaying)
	return nil
}

// Pause disconnects from the stream but keeps the audio graph. A later
// Play rejoins live rather than resuming.
func (c *Controller) Pause() error {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()

	if err := backend.Pause(); err != nil {
		return err
	}

	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()

	c.emit(EventPaused)
	return nil
}

// Close stops playback and releases the backend.
func (c *Controller) Close() error {
	c.mu.Lock()
	backend := c.backend
	c.playing = false
	c.mu.Unlock()
	return backend.Close()
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	fns := append([]func(Event){}, c.lifecycleFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// cacheBust appends a timestamp query parameter to the stream URL.
func cacheBust(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
